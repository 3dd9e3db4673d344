// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/models"
	"github.com/vinovest/sqlx"
)

// TransitionResult is the outcome of a redemption attempt at the storage layer.
type TransitionResult int

const (
	// TransitionUsed means this call moved the link to used.
	TransitionUsed TransitionResult = iota
	// TransitionAlreadyUsed means another call redeemed the link first.
	TransitionAlreadyUsed
	// TransitionExpired means the deadline passed or the link was marked expired.
	TransitionExpired
	// TransitionNotFound means no redeemable link exists (unknown or revoked).
	TransitionNotFound
)

func (r TransitionResult) String() string {
	switch r {
	case TransitionUsed:
		return "used"
	case TransitionAlreadyUsed:
		return "already_used"
	case TransitionExpired:
		return "expired"
	default:
		return "not_found"
	}
}

const insertVotingLink = `INSERT INTO voting_links (
	id, member_id, member_email, election_id, chapter, token_hash, status,
	expires_at, used_for_positions, generated_by, generated_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func createVotingLink(ctx context.Context, ex sqlx.ExecerContext, link *models.VotingLink) error {
	if link.Status == "" {
		link.Status = models.LinkPending
	}
	_, err := ex.ExecContext(ctx, insertVotingLink,
		link.ID, link.MemberID, link.MemberEmail, link.ElectionID, link.Chapter, link.TokenHash, link.Status,
		utc(link.ExpiresAt), link.UsedForPositions, link.GeneratedBy, utc(link.GeneratedAt), utc(link.GeneratedAt))
	return wrapError(err)
}

func revokeOpenVotingLinks(ctx context.Context, ex sqlx.ExecerContext, memberID, electionID string, now time.Time) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`UPDATE voting_links SET status = 'revoked', updated_at = ?
		 WHERE member_id = ? AND election_id = ? AND status IN ('pending', 'sent')`,
		utc(now), memberID, electionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateVotingLink inserts a new voting link.
func (r *Repository) CreateVotingLink(ctx context.Context, link *models.VotingLink) error {
	return createVotingLink(ctx, r.db, link)
}

// ReplaceOpenVotingLink revokes every open link for the link's member and
// election and inserts the new one in a single transaction.
// Returns the number of superseded links.
func (r *Repository) ReplaceOpenVotingLink(ctx context.Context, link *models.VotingLink) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	superseded, err := revokeOpenVotingLinks(ctx, tx, link.MemberID, link.ElectionID, link.GeneratedAt)
	if err != nil {
		return 0, err
	}

	if err := createVotingLink(ctx, tx, link); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError(err)
	}
	return superseded, nil
}

// RevokeOpenVotingLinks revokes all open links of a member for an election.
func (r *Repository) RevokeOpenVotingLinks(ctx context.Context, memberID, electionID string, now time.Time) (int64, error) {
	return revokeOpenVotingLinks(ctx, r.db, memberID, electionID, now)
}

// GetVotingLinkByHash retrieves a voting link by token hash regardless of status.
func (r *Repository) GetVotingLinkByHash(ctx context.Context, tokenHash string) (*models.VotingLink, error) {
	var link models.VotingLink
	err := r.db.GetContext(ctx, &link, `SELECT * FROM voting_links WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return nil, wrapError(err)
	}
	return &link, nil
}

// FindActiveVotingLinkByHash retrieves a pending or sent voting link by token hash.
func (r *Repository) FindActiveVotingLinkByHash(ctx context.Context, tokenHash string) (*models.VotingLink, error) {
	var link models.VotingLink
	err := r.db.GetContext(ctx, &link,
		`SELECT * FROM voting_links WHERE token_hash = ? AND status IN ('pending', 'sent')`, tokenHash)
	if err != nil {
		return nil, wrapError(err)
	}
	return &link, nil
}

// TransitionVotingLinkToUsed marks an open, unexpired link as used.
// The status check and the write happen in one conditional UPDATE, so of
// any number of concurrent callers exactly one observes TransitionUsed.
func (r *Repository) TransitionVotingLinkToUsed(ctx context.Context, tokenHash string, positions models.Positions, now time.Time) (TransitionResult, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE voting_links
		 SET status = 'used', used_at = ?, used_for_positions = ?, updated_at = ?
		 WHERE token_hash = ? AND status IN ('pending', 'sent') AND expires_at > ?`,
		utc(now), positions, utc(now), tokenHash, utc(now))
	if err != nil {
		return TransitionNotFound, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TransitionNotFound, err
	}
	if n == 1 {
		return TransitionUsed, nil
	}

	link, err := r.GetVotingLinkByHash(ctx, tokenHash)
	if errors.Is(err, ErrNotFound) {
		return TransitionNotFound, nil
	}
	if err != nil {
		return TransitionNotFound, err
	}

	switch link.Status {
	case models.LinkUsed:
		return TransitionAlreadyUsed, nil
	case models.LinkExpired:
		return TransitionExpired, nil
	case models.LinkPending, models.LinkSent:
		// Still open, so the deadline is what blocked the update.
		return TransitionExpired, nil
	default:
		return TransitionNotFound, nil
	}
}

// RevokeVotingLink revokes an open link. Revoking a terminal link is a no-op.
func (r *Repository) RevokeVotingLink(ctx context.Context, tokenHash string, now time.Time) error {
	return r.closeVotingLink(ctx, tokenHash, models.LinkRevoked, now)
}

// ExpireVotingLink marks an open link as expired. Expiring a terminal link is a no-op.
func (r *Repository) ExpireVotingLink(ctx context.Context, tokenHash string, now time.Time) error {
	return r.closeVotingLink(ctx, tokenHash, models.LinkExpired, now)
}

func (r *Repository) closeVotingLink(ctx context.Context, tokenHash string, status models.LinkStatus, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE voting_links SET status = ?, updated_at = ?
		 WHERE token_hash = ? AND status IN ('pending', 'sent')`,
		status, utc(now), tokenHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	exists, err := r.votingLinkExists(ctx, tokenHash)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) votingLinkExists(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM voting_links WHERE token_hash = ?)`, tokenHash)
	return exists, err
}

// ExpireOverdueVotingLinks marks every open link past its deadline as expired.
func (r *Repository) ExpireOverdueVotingLinks(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE voting_links SET status = 'expired', updated_at = ?
		 WHERE status IN ('pending', 'sent') AND expires_at <= ?`,
		utc(now), utc(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeVotingLinks deletes terminal links whose deadline lies before the cutoff.
func (r *Repository) PurgeVotingLinks(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM voting_links
		 WHERE status IN ('used', 'expired', 'revoked') AND expires_at < ?`,
		utc(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkVotingLinkSent records a successful delivery and moves a pending link to sent.
// Terminal links only get the delivery flags updated.
func (r *Repository) MarkVotingLinkSent(ctx context.Context, tokenHash string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE voting_links
		 SET email_sent = 1, email_sent_at = ?, updated_at = ?,
		     status = CASE WHEN status = 'pending' THEN 'sent' ELSE status END
		 WHERE token_hash = ?`,
		utc(now), utc(now), tokenHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordVotingLinkAccess updates the access telemetry of a link, whatever its status.
// Unknown hashes are ignored.
func (r *Repository) RecordVotingLinkAccess(ctx context.Context, tokenHash, ip string, now time.Time) error {
	var lastIP *string
	if ip != "" {
		lastIP = &ip
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE voting_links
		 SET access_count = access_count + 1, accessed_at = ?, last_access_ip = COALESCE(?, last_access_ip)
		 WHERE token_hash = ?`,
		utc(now), lastIP, tokenHash)
	return err
}

// ListVotingLinksForElection returns all links of an election, newest first.
func (r *Repository) ListVotingLinksForElection(ctx context.Context, electionID string) ([]models.VotingLink, error) {
	links := []models.VotingLink{}
	err := r.db.SelectContext(ctx, &links,
		`SELECT * FROM voting_links WHERE election_id = ? ORDER BY generated_at DESC, id`, electionID)
	if err != nil {
		return nil, err
	}
	return links, nil
}

// CountVotingLinksByStatus returns the number of links per status for an election.
func (r *Repository) CountVotingLinksByStatus(ctx context.Context, electionID string) (map[models.LinkStatus]int64, error) {
	var rows []struct {
		Status models.LinkStatus `db:"status"`
		Count  int64             `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM voting_links WHERE election_id = ? GROUP BY status`, electionID)
	if err != nil {
		return nil, fmt.Errorf("counting voting links: %w", err)
	}

	counts := make(map[models.LinkStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
