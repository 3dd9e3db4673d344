// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/database"
	"codeberg.org/oliverandrich/votelinks/internal/models"
	"codeberg.org/oliverandrich/votelinks/internal/repository"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

// TestSecret is a link secret long enough for the token codec.
const TestSecret = "test-secret-0123456789abcdef0123456789abcdef"

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	return openTestDB(t, ":memory:")
}

// NewFileTestDB creates a file-backed SQLite database in a temp directory.
// Unlike NewTestDB it allows several connections to run in parallel.
func NewFileTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
}

func openTestDB(t *testing.T, dsn string) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, repository.New(db)
}

// NewTestElection stores an election with the given status.
func NewTestElection(t *testing.T, repo *repository.Repository, id string, status models.ElectionStatus) *models.Election {
	t.Helper()
	e := &models.Election{
		ID:        id,
		Chapter:   "test-chapter",
		Status:    status,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.UpsertElection(context.Background(), e))
	return e
}

// NewTestLink stores a pending voting link with the given hash and deadline.
func NewTestLink(t *testing.T, repo *repository.Repository, memberID, electionID, tokenHash string, expiresAt time.Time) *models.VotingLink {
	t.Helper()
	link := &models.VotingLink{
		ID:          uuid.NewString(),
		MemberID:    memberID,
		MemberEmail: memberID + "@example.com",
		ElectionID:  electionID,
		Chapter:     "test-chapter",
		TokenHash:   tokenHash,
		Status:      models.LinkPending,
		ExpiresAt:   expiresAt,
		GeneratedBy: "admin",
		GeneratedAt: time.Now(),
	}
	require.NoError(t, repo.CreateVotingLink(context.Background(), link))
	return link
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}
