// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"database/sql"
	"fmt"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"codeberg.org/oliverandrich/votelinks/internal/database"
	"codeberg.org/oliverandrich/votelinks/internal/repository"
	"codeberg.org/oliverandrich/votelinks/internal/services/reaper"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

// Sweep expires overdue links and purges old ones once, then exits.
func Sweep(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	logger := SetupLogger(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeDB(db)

	r := reaper.New(repository.New(db), reaper.Options{Retention: cfg.Links.Retention}, logger)
	res, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}

	logger.Info("sweep finished", "expired", res.Expired, "purged", res.Purged)
	return nil
}

// MigrateUp applies all pending migrations.
func MigrateUp(_ context.Context, cmd *cli.Command) error {
	return withSchema(cmd, "migrated up", database.RunMigrations)
}

// MigrateDown rolls back the last migration.
func MigrateDown(_ context.Context, cmd *cli.Command) error {
	return withSchema(cmd, "migrated down", database.MigrateDown)
}

// MigrateReset rolls back every migration.
func MigrateReset(_ context.Context, cmd *cli.Command) error {
	return withSchema(cmd, "migrations reset", database.MigrateReset)
}

// MigrateStatus prints the current schema version.
func MigrateStatus(_ context.Context, cmd *cli.Command) error {
	return withSchema(cmd, "schema status", nil)
}

func withSchema(cmd *cli.Command, msg string, fn func(*sql.DB) error) error {
	cfg := config.NewFromCLI(cmd)
	logger := SetupLogger(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeDB(db)

	if fn != nil {
		if err := fn(db.DB); err != nil {
			return err
		}
	}

	version, err := database.MigrationVersion(db.DB)
	if err != nil {
		return err
	}
	logger.Info(msg, "version", version)
	return nil
}

func closeDB(db *sqlx.DB) {
	_ = db.Close()
}
