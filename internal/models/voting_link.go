// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LinkStatus is the lifecycle state of a voting link.
type LinkStatus string

const (
	LinkPending LinkStatus = "pending"
	LinkSent    LinkStatus = "sent"
	LinkUsed    LinkStatus = "used"
	LinkExpired LinkStatus = "expired"
	LinkRevoked LinkStatus = "revoked"
)

// LinkStatuses lists every status in lifecycle order.
var LinkStatuses = []LinkStatus{LinkPending, LinkSent, LinkUsed, LinkExpired, LinkRevoked}

// Open reports whether the status still allows redemption.
func (s LinkStatus) Open() bool {
	return s == LinkPending || s == LinkSent
}

// Terminal reports whether no further state change may happen.
func (s LinkStatus) Terminal() bool {
	return s == LinkUsed || s == LinkExpired || s == LinkRevoked
}

// Positions lists the ballot positions a link was redeemed for.
// Stored as a JSON array in a TEXT column.
type Positions []string

// Value implements driver.Valuer.
func (p Positions) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Positions) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("positions: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	*p = out
	return nil
}

// VotingLink is a single-use authorization to vote in one election.
// The plaintext token is never stored; TokenHash is the lookup key.
type VotingLink struct { //nolint:govet // fieldalignment: readability over optimization
	ID               string     `db:"id" json:"id"`
	MemberID         string     `db:"member_id" json:"member_id"`
	MemberEmail      string     `db:"member_email" json:"member_email"`
	ElectionID       string     `db:"election_id" json:"election_id"`
	Chapter          string     `db:"chapter" json:"chapter"`
	TokenHash        string     `db:"token_hash" json:"token_hash"`
	Status           LinkStatus `db:"status" json:"status"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt           *time.Time `db:"used_at" json:"used_at,omitempty"`
	UsedForPositions Positions  `db:"used_for_positions" json:"used_for_positions,omitempty"`
	GeneratedBy      string     `db:"generated_by" json:"generated_by"`
	GeneratedAt      time.Time  `db:"generated_at" json:"generated_at"`
	EmailSent        bool       `db:"email_sent" json:"email_sent"`
	EmailSentAt      *time.Time `db:"email_sent_at" json:"email_sent_at,omitempty"`
	AccessedAt       *time.Time `db:"accessed_at" json:"accessed_at,omitempty"`
	AccessCount      int64      `db:"access_count" json:"access_count"`
	LastAccessIP     *string    `db:"last_access_ip" json:"last_access_ip,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// IsValidAt reports whether the link can still be redeemed at the given instant.
// The expiry check applies to every open status.
func (l *VotingLink) IsValidAt(now time.Time) bool {
	return l.Status.Open() && now.Before(l.ExpiresAt)
}
