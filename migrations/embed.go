// Package migrations embeds the twin hub's SQL migration files into the
// binary so the hub can migrate without the files on disk.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds every migration at its root, ready for database.DB.Migrate.
var FS = files
