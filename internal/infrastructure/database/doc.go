// Package database provides SQLite connectivity and schema migrations for
// the twin hub.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Versioned up/down migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql, and are applied in version order.
//
// The special path ":memory:" opens a private in-memory database, which
// the repository tests use.
package database
