package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/database"
	"github.com/browniz421/twinsync/migrations"
)

const migrateUsage = "usage: twinhub migrate up|down|status"

var errMigrateUsage = errors.New(migrateUsage)

// runMigrate manages the database schema without starting the hub.
//
//	twinhub migrate up      apply pending migrations
//	twinhub migrate down    roll back the latest migration
//	twinhub migrate status  list applied and pending migrations
func runMigrate(ctx context.Context, args []string, w io.Writer) error {
	if len(args) != 1 {
		return errMigrateUsage
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Read-only after the command

	switch args[0] {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		fmt.Fprintln(w, "migrations applied")
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		fmt.Fprintln(w, "latest migration rolled back")
	case "status":
		applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		for _, r := range applied {
			fmt.Fprintf(w, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		for _, m := range pending {
			fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
		}
	default:
		return errMigrateUsage
	}
	return nil
}
