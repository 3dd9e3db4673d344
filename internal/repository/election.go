// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"errors"

	"codeberg.org/oliverandrich/votelinks/internal/models"
)

// UpsertElection creates or updates the election row mirrored from the election module.
func (r *Repository) UpsertElection(ctx context.Context, e *models.Election) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO elections (id, chapter, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     chapter = excluded.chapter,
		     status = excluded.status,
		     updated_at = excluded.updated_at`,
		e.ID, e.Chapter, e.Status, utc(e.UpdatedAt))
	return err
}

// GetElection retrieves an election by ID.
func (r *Repository) GetElection(ctx context.Context, id string) (*models.Election, error) {
	var e models.Election
	if err := r.db.GetContext(ctx, &e, `SELECT * FROM elections WHERE id = ?`, id); err != nil {
		return nil, wrapError(err)
	}
	return &e, nil
}

// IsElectionOpen reports whether the election is accepting votes.
// Unknown elections are closed.
func (r *Repository) IsElectionOpen(ctx context.Context, id string) (bool, error) {
	e, err := r.GetElection(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Status == models.ElectionOpen, nil
}
