// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinovest/sqlx"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "./data/votelinks.db"

// Open creates a new database connection with optimized SQLite settings
// and applies all pending migrations.
func Open(dsn string) (*sqlx.DB, error) {
	conn, err := Connect(dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(conn.DB); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// Connect opens the database without touching the schema.
func Connect(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}

	memory := IsMemory(dsn)

	// Create directory for file-based databases
	if !memory {
		dir := filepath.Dir(strings.TrimPrefix(dsnPath(dsn), "file:"))
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	dsn = addDefaultParams(dsn)

	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if memory {
		// Every connection to :memory: is its own database.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
	}

	ctx := context.Background()
	if err := configureSQLite(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// IsMemory reports whether the DSN points to an in-memory database.
func IsMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func dsnPath(dsn string) string {
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		return dsn[:i]
	}
	return dsn
}

// addDefaultParams adds recommended SQLite parameters if not already present.
// Parameters use the modernc.org/sqlite spelling.
func addDefaultParams(dsn string) string {
	defaults := []struct {
		marker string
		param  string
	}{
		{"_txlock", "_txlock=immediate"},
		{"busy_timeout", "_pragma=busy_timeout(5000)"},
		{"foreign_keys", "_pragma=foreign_keys(1)"},
		{"_time_format", "_time_format=sqlite"},
	}

	for _, d := range defaults {
		if !strings.Contains(dsn, d.marker) {
			separator := "?"
			if strings.Contains(dsn, "?") {
				separator = "&"
			}
			dsn += separator + d.param
		}
	}

	return dsn
}

// configureSQLite sets PRAGMAs for optimal performance.
func configureSQLite(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 134217728",
		"PRAGMA journal_size_limit = 27103364",
		"PRAGMA cache_size = 2000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return err
		}
	}

	return nil
}
