// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/models"
	"codeberg.org/oliverandrich/votelinks/internal/repository"
	"codeberg.org/oliverandrich/votelinks/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertElection(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	e := &models.Election{ID: "E1", Chapter: "berlin", Status: models.ElectionOpen, UpdatedAt: time.Now()}
	require.NoError(t, repo.UpsertElection(ctx, e))

	got, err := repo.GetElection(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "berlin", got.Chapter)
	assert.Equal(t, models.ElectionOpen, got.Status)

	e.Status = models.ElectionClosed
	require.NoError(t, repo.UpsertElection(ctx, e))

	got, err = repo.GetElection(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, models.ElectionClosed, got.Status)
}

func TestGetElection_NotFound(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	_, err := repo.GetElection(context.Background(), "missing")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIsElectionOpen(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()

	testutil.NewTestElection(t, repo, "open", models.ElectionOpen)
	testutil.NewTestElection(t, repo, "closed", models.ElectionClosed)

	open, err := repo.IsElectionOpen(ctx, "open")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = repo.IsElectionOpen(ctx, "closed")
	require.NoError(t, err)
	assert.False(t, open)

	open, err = repo.IsElectionOpen(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, open)
}
