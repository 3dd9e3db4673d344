// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package votelink

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken covers unknown, malformed and revoked tokens alike.
	ErrInvalidToken = errors.New("invalid voting link")
	// ErrTokenExpired is returned when the link deadline has passed.
	ErrTokenExpired = errors.New("voting link expired")
	// ErrTokenAlreadyUsed is returned when the link was already redeemed.
	ErrTokenAlreadyUsed = errors.New("voting link already used")
	// ErrElectionNotOpen is returned when the election does not accept votes.
	ErrElectionNotOpen = errors.New("election is not open")
	// ErrDuplicateVerifier is returned when issuance collides twice in a row.
	// This points at a broken randomness source.
	ErrDuplicateVerifier = errors.New("duplicate token verifier after retry")
	// ErrIssueConflict is returned when another issuance for the same member
	// and election kept winning the open-link index.
	ErrIssueConflict = errors.New("concurrent issuance for the same member and election")
	// ErrStorageUnavailable is returned when storage fails or times out.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidRequest is returned for issuance requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrLinkNotFound is returned by administrative operations on unknown hashes.
	ErrLinkNotFound = errors.New("voting link not found")
)

// IsRedemptionFailure reports whether err is one of the token failures
// that must be shown to voters as a single generic message.
func IsRedemptionFailure(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyUsed)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
