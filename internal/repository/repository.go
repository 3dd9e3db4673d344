// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vinovest/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateVerifier is returned when a token hash is already stored.
	ErrDuplicateVerifier = errors.New("duplicate token verifier")
	// ErrOpenLinkExists is returned when a member already holds an open link for the election.
	ErrOpenLinkExists = errors.New("open voting link already exists for member and election")
)

// Repository provides database operations on top of sqlx.
type Repository struct {
	db *sqlx.DB
}

// New creates a new Repository instance.
func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database handle.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// wrapError converts driver errors to repository errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		if strings.Contains(sqliteErr.Error(), "voting_links.token_hash") {
			return ErrDuplicateVerifier
		}
		if strings.Contains(sqliteErr.Error(), "voting_links.member_id") {
			return ErrOpenLinkExists
		}
	}
	return err
}

// utc normalizes timestamps so that TEXT comparisons in SQLite order correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}
