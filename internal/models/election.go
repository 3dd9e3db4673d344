// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// ElectionStatus mirrors the election module's view of whether voting is allowed.
type ElectionStatus string

const (
	ElectionOpen   ElectionStatus = "open"
	ElectionClosed ElectionStatus = "closed"
)

// Election is the slice of election state the link core needs.
// Rows are owned by the election module.
type Election struct {
	ID        string         `db:"id" json:"id"`
	Chapter   string         `db:"chapter" json:"chapter"`
	Status    ElectionStatus `db:"status" json:"status"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}
