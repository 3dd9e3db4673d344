// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func setupGoose() error {
	goose.SetBaseFS(embedMigrations)
	return goose.SetDialect("sqlite3")
}

// RunMigrations runs all pending goose migrations.
func RunMigrations(db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// MigrateDown rolls back the last migration.
func MigrateDown(db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.Down(db, "migrations")
}

// MigrateReset rolls back all migrations.
func MigrateReset(db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.Reset(db, "migrations")
}

// MigrationVersion returns the current schema version.
func MigrationVersion(db *sql.DB) (int64, error) {
	if err := setupGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
