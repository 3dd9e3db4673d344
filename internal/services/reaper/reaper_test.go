// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package reaper_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/models"
	"codeberg.org/oliverandrich/votelinks/internal/services/reaper"
	"codeberg.org/oliverandrich/votelinks/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()

	testutil.NewTestLink(t, repo, "M1", "E1", "overdue", now.Add(-time.Minute))
	testutil.NewTestLink(t, repo, "M2", "E1", "fresh", now.Add(time.Hour))

	r := reaper.New(repo, reaper.Options{Now: func() time.Time { return now }}, nil)
	res, err := r.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Expired)
	assert.Zero(t, res.Purged)

	overdue, err := repo.GetVotingLinkByHash(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, models.LinkExpired, overdue.Status)

	fresh, err := repo.GetVotingLinkByHash(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.LinkPending, fresh.Status)
}

func TestRunOnce_Idempotent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	testutil.NewTestLink(t, repo, "M1", "E1", "overdue", time.Now().Add(-time.Minute))
	r := reaper.New(repo, reaper.Options{}, nil)

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	res, err := r.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Expired)
}

func TestRunOnce_Retention(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()

	testutil.NewTestLink(t, repo, "M1", "E1", "ancient", now.Add(-48*time.Hour))
	testutil.NewTestLink(t, repo, "M2", "E1", "recent", now.Add(-time.Hour))

	r := reaper.New(repo, reaper.Options{
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return now },
	}, nil)
	res, err := r.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Expired)
	assert.Equal(t, int64(1), res.Purged)

	_, err = repo.GetVotingLinkByHash(ctx, "ancient")
	require.Error(t, err)
	_, err = repo.GetVotingLinkByHash(ctx, "recent")
	require.NoError(t, err)
}

type failingStore struct{}

func (failingStore) ExpireOverdueVotingLinks(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func (failingStore) PurgeVotingLinks(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestRunOnce_Error(t *testing.T) {
	r := reaper.New(failingStore{}, reaper.Options{}, nil)

	_, err := r.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiring voting links")
}

type countingStore struct {
	sweeps atomic.Int64
}

func (s *countingStore) ExpireOverdueVotingLinks(context.Context, time.Time) (int64, error) {
	s.sweeps.Add(1)
	return 0, nil
}

func (s *countingStore) PurgeVotingLinks(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func TestStartStop(t *testing.T) {
	store := &countingStore{}
	r := reaper.New(store, reaper.Options{Interval: time.Second}, nil)

	require.NoError(t, r.Start())
	assert.Eventually(t, func() bool {
		return store.sweeps.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
	r.Stop()
	r.Stop()
}
