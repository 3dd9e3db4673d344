// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package votelink issues and redeems single-use voting links.
package votelink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/models"
	"codeberg.org/oliverandrich/votelinks/internal/repository"
	"codeberg.org/oliverandrich/votelinks/internal/services/token"
	"github.com/google/uuid"
)

const (
	// DefaultLinkTTL is how long a link stays valid when no deadline is given.
	DefaultLinkTTL = 72 * time.Hour
	// DefaultStorageTimeout bounds every storage call.
	DefaultStorageTimeout = 5 * time.Second
	// issueAttempts is the number of tries before a verifier collision is surfaced.
	issueAttempts = 2
)

// Store is the persistence the service needs.
// *repository.Repository implements it.
type Store interface {
	ReplaceOpenVotingLink(ctx context.Context, link *models.VotingLink) (int64, error)
	GetVotingLinkByHash(ctx context.Context, tokenHash string) (*models.VotingLink, error)
	FindActiveVotingLinkByHash(ctx context.Context, tokenHash string) (*models.VotingLink, error)
	TransitionVotingLinkToUsed(ctx context.Context, tokenHash string, positions models.Positions, now time.Time) (repository.TransitionResult, error)
	RevokeVotingLink(ctx context.Context, tokenHash string, now time.Time) error
	ExpireVotingLink(ctx context.Context, tokenHash string, now time.Time) error
	MarkVotingLinkSent(ctx context.Context, tokenHash string, now time.Time) error
	RecordVotingLinkAccess(ctx context.Context, tokenHash, ip string, now time.Time) error
	ListVotingLinksForElection(ctx context.Context, electionID string) ([]models.VotingLink, error)
	CountVotingLinksByStatus(ctx context.Context, electionID string) (map[models.LinkStatus]int64, error)
}

// ElectionChecker tells whether an election currently accepts votes.
type ElectionChecker interface {
	IsElectionOpen(ctx context.Context, electionID string) (bool, error)
}

// Elections is the election state shared with the election module.
type Elections interface {
	ElectionChecker
	UpsertElection(ctx context.Context, e *models.Election) error
}

// Options configures a Service. Zero values select the defaults.
type Options struct {
	LinkTTL        time.Duration
	StorageTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Service implements the voting link lifecycle.
type Service struct {
	store     Store
	elections Elections
	codec     *token.Codec
	ttl       time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a new voting link service.
func NewService(store Store, elections Elections, codec *token.Codec, opts Options) *Service {
	s := &Service{
		store:     store,
		elections: elections,
		codec:     codec,
		ttl:       opts.LinkTTL,
		timeout:   opts.StorageTimeout,
		now:       opts.Now,
		logger:    opts.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultLinkTTL
	}
	if s.timeout <= 0 {
		s.timeout = DefaultStorageTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// IssueRequest describes the link to create.
type IssueRequest struct {
	MemberID    string
	MemberEmail string
	ElectionID  string
	Chapter     string
	IssuedBy    string
	// ExpiresAt overrides the default deadline when non-zero.
	ExpiresAt time.Time
}

// Issued carries the plaintext token back to the caller for delivery.
// The token is not stored anywhere else.
type Issued struct {
	Token      string
	Link       *models.VotingLink
	Superseded int64
}

// Grant is returned by a successful redemption.
type Grant struct {
	LinkID     string           `json:"link_id"`
	MemberID   string           `json:"member_id"`
	ElectionID string           `json:"election_id"`
	Chapter    string           `json:"chapter"`
	Positions  models.Positions `json:"positions"`
	UsedAt     time.Time        `json:"used_at"`
}

// RedeemRequest is a voter's attempt to use a token.
type RedeemRequest struct {
	Token     string
	Positions []string
	RemoteIP  string
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// IssueLink creates the one open link for a member and election, revoking
// any link issued before.
func (s *Service) IssueLink(ctx context.Context, req IssueRequest) (*Issued, error) {
	req.MemberID = strings.TrimSpace(req.MemberID)
	req.ElectionID = strings.TrimSpace(req.ElectionID)
	if req.MemberID == "" || req.ElectionID == "" {
		return nil, ErrInvalidRequest
	}

	open, err := s.electionOpen(ctx, req.ElectionID)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrElectionNotOpen
	}

	now := s.now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.ttl)
	}

	var lastErr error
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		plaintext, hash, err := s.codec.Issue()
		if err != nil {
			return nil, err
		}

		link := &models.VotingLink{
			ID:               uuid.NewString(),
			MemberID:         req.MemberID,
			MemberEmail:      req.MemberEmail,
			ElectionID:       req.ElectionID,
			Chapter:          req.Chapter,
			TokenHash:        hash,
			Status:           models.LinkPending,
			ExpiresAt:        expiresAt,
			UsedForPositions: models.Positions{},
			GeneratedBy:      req.IssuedBy,
			GeneratedAt:      now,
			UpdatedAt:        now,
		}

		superseded, err := s.replace(ctx, link)
		switch {
		case err == nil:
			s.logger.Info("voting link issued",
				"link_id", link.ID,
				"member_id", link.MemberID,
				"election_id", link.ElectionID,
				"hash", token.HashPrefix(hash),
				"superseded", superseded,
			)
			return &Issued{Token: plaintext, Link: link, Superseded: superseded}, nil
		case errors.Is(err, repository.ErrDuplicateVerifier), errors.Is(err, repository.ErrOpenLinkExists):
			lastErr = err
			s.logger.Warn("voting link issuance conflict, retrying",
				"member_id", req.MemberID,
				"election_id", req.ElectionID,
				"attempt", attempt,
				"error", err,
			)
		default:
			return nil, storageError("issue link", err)
		}
	}

	if errors.Is(lastErr, repository.ErrOpenLinkExists) {
		s.logger.Warn("voting link issuance kept racing another issuance",
			"member_id", req.MemberID,
			"election_id", req.ElectionID,
		)
		return nil, ErrIssueConflict
	}

	s.logger.Error("voting link verifier collided repeatedly, check the randomness source",
		"member_id", req.MemberID,
		"election_id", req.ElectionID,
	)
	return nil, ErrDuplicateVerifier
}

func (s *Service) replace(ctx context.Context, link *models.VotingLink) (int64, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.store.ReplaceOpenVotingLink(sctx, link)
}

// PutElection stores the openness of an election.
func (s *Service) PutElection(ctx context.Context, e *models.Election) error {
	if e.ID == "" {
		return fmt.Errorf("%w: election id is required", ErrInvalidRequest)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.now()
	}

	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.elections.UpsertElection(sctx, e); err != nil {
		return storageError("put election", err)
	}

	s.logger.Info("election updated", "election_id", e.ID, "status", e.Status)
	return nil
}

func (s *Service) electionOpen(ctx context.Context, electionID string) (bool, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	open, err := s.elections.IsElectionOpen(sctx, electionID)
	if err != nil {
		return false, storageError("check election", err)
	}
	return open, nil
}

// Redeem consumes a token. Of any number of concurrent calls with the same
// token at most one succeeds.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*Grant, error) {
	hash, err := s.codec.Verify(req.Token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	now := s.now()
	s.recordAccess(ctx, hash, req.RemoteIP, now)

	link, err := s.findActive(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.classifyInactive(ctx, hash)
	}
	if err != nil {
		return nil, err
	}

	if !s.codec.Equal(link.TokenHash, hash) {
		return nil, ErrInvalidToken
	}

	if !now.Before(link.ExpiresAt) {
		s.expire(ctx, hash, now)
		return nil, ErrTokenExpired
	}

	result, err := s.transition(ctx, hash, req.Positions, now)
	if err != nil {
		return nil, err
	}

	switch result {
	case repository.TransitionUsed:
		s.logger.Info("voting link redeemed",
			"link_id", link.ID,
			"member_id", link.MemberID,
			"election_id", link.ElectionID,
		)
		return &Grant{
			LinkID:     link.ID,
			MemberID:   link.MemberID,
			ElectionID: link.ElectionID,
			Chapter:    link.Chapter,
			Positions:  models.Positions(req.Positions),
			UsedAt:     now,
		}, nil
	case repository.TransitionAlreadyUsed:
		return nil, ErrTokenAlreadyUsed
	case repository.TransitionExpired:
		return nil, ErrTokenExpired
	default:
		return nil, ErrInvalidToken
	}
}

func (s *Service) recordAccess(ctx context.Context, hash, ip string, now time.Time) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.store.RecordVotingLinkAccess(sctx, hash, ip, now); err != nil {
		s.logger.Warn("failed to record voting link access", "hash", token.HashPrefix(hash), "error", err)
	}
}

func (s *Service) findActive(ctx context.Context, hash string) (*models.VotingLink, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	link, err := s.store.FindActiveVotingLinkByHash(sctx, hash)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError("find link", err)
	}
	return link, err
}

// classifyInactive tells a used or expired link apart from unknown and revoked ones.
func (s *Service) classifyInactive(ctx context.Context, hash string) error {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	link, err := s.store.GetVotingLinkByHash(sctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return storageError("get link", err)
	}

	switch link.Status {
	case models.LinkUsed:
		return ErrTokenAlreadyUsed
	case models.LinkExpired:
		return ErrTokenExpired
	default:
		return ErrInvalidToken
	}
}

func (s *Service) expire(ctx context.Context, hash string, now time.Time) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.store.ExpireVotingLink(sctx, hash, now); err != nil {
		s.logger.Warn("failed to mark voting link expired", "hash", token.HashPrefix(hash), "error", err)
	}
}

func (s *Service) transition(ctx context.Context, hash string, positions []string, now time.Time) (repository.TransitionResult, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	if positions == nil {
		positions = []string{}
	}
	result, err := s.store.TransitionVotingLinkToUsed(sctx, hash, models.Positions(positions), now)
	if err != nil {
		return repository.TransitionNotFound, storageError("redeem link", err)
	}
	return result, nil
}

// IsValid reports whether the link behind a verifier can still be redeemed.
// Only the access telemetry is updated.
func (s *Service) IsValid(ctx context.Context, tokenHash, ip string) (bool, error) {
	now := s.now()
	s.recordAccess(ctx, tokenHash, ip, now)

	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	link, err := s.store.GetVotingLinkByHash(sctx, tokenHash)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storageError("get link", err)
	}
	return link.IsValidAt(now), nil
}

// IsTokenValid is IsValid for a plaintext token.
func (s *Service) IsTokenValid(ctx context.Context, plaintext, ip string) (bool, error) {
	hash, err := s.codec.Verify(plaintext)
	if err != nil {
		return false, nil
	}
	return s.IsValid(ctx, hash, ip)
}

// Revoke invalidates a link. Revoking a terminal link is a no-op.
func (s *Service) Revoke(ctx context.Context, tokenHash string) error {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	err := s.store.RevokeVotingLink(sctx, tokenHash, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrLinkNotFound
	}
	if err != nil {
		return storageError("revoke link", err)
	}
	s.logger.Info("voting link revoked", "hash", token.HashPrefix(tokenHash))
	return nil
}

// MarkSent records a successful out-of-band delivery.
func (s *Service) MarkSent(ctx context.Context, tokenHash string) error {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	err := s.store.MarkVotingLinkSent(sctx, tokenHash, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrLinkNotFound
	}
	if err != nil {
		return storageError("mark link sent", err)
	}
	return nil
}

// Links lists the links of an election.
func (s *Service) Links(ctx context.Context, electionID string) ([]models.VotingLink, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	links, err := s.store.ListVotingLinksForElection(sctx, electionID)
	if err != nil {
		return nil, storageError("list links", err)
	}
	return links, nil
}

// Summary counts the links of an election per status.
func (s *Service) Summary(ctx context.Context, electionID string) (map[models.LinkStatus]int64, error) {
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	counts, err := s.store.CountVotingLinksByStatus(sctx, electionID)
	if err != nil {
		return nil, storageError("count links", err)
	}
	return counts, nil
}
