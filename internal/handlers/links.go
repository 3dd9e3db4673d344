// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/models"
	"codeberg.org/oliverandrich/votelinks/internal/services/email"
	"codeberg.org/oliverandrich/votelinks/internal/services/token"
	"codeberg.org/oliverandrich/votelinks/internal/services/votelink"
	"github.com/labstack/echo/v4"
)

// Mailer delivers an issued voting link to the member.
type Mailer interface {
	SendVotingLink(ctx context.Context, link email.VotingLink) error
}

// LinkHandlers contains the administrative voting link handlers.
type LinkHandlers struct {
	links   *votelink.Service
	mailer  Mailer
	baseURL string
}

// NewLinks creates a new LinkHandlers instance. mailer may be nil.
func NewLinks(links *votelink.Service, mailer Mailer, baseURL string) *LinkHandlers {
	return &LinkHandlers{links: links, mailer: mailer, baseURL: baseURL}
}

// ElectionRequest is the request body for syncing an election.
type ElectionRequest struct {
	Chapter string                `json:"chapter"`
	Status  models.ElectionStatus `json:"status"`
}

// PutElection creates or updates the openness of an election.
func (h *LinkHandlers) PutElection(c echo.Context) error {
	var req ElectionRequest
	if !bind(c, &req) {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}

	electionID := param(c, "electionID")
	if electionID == "" {
		return errorJSON(c, http.StatusBadRequest, "election id is required")
	}
	if req.Status != models.ElectionOpen && req.Status != models.ElectionClosed {
		return errorJSON(c, http.StatusBadRequest, "status must be open or closed")
	}

	election := &models.Election{
		ID:      electionID,
		Chapter: req.Chapter,
		Status:  req.Status,
	}
	if err := h.links.PutElection(c.Request().Context(), election); err != nil {
		return adminError(c, err)
	}
	return c.JSON(http.StatusOK, election)
}

// IssueRequest is the request body for issuing a voting link.
type IssueRequest struct {
	ExpiresAt   *time.Time `json:"expires_at"`
	MemberID    string     `json:"member_id"`
	MemberEmail string     `json:"member_email"`
	Chapter     string     `json:"chapter"`
	IssuedBy    string     `json:"issued_by"`
	SendEmail   bool       `json:"send_email"`
}

// IssueResponse is returned after issuing a link. Token and VoteURL are only
// set when the link was not delivered by email.
type IssueResponse struct {
	Link       *models.VotingLink `json:"link"`
	Token      string             `json:"token,omitempty"`
	VoteURL    string             `json:"vote_url,omitempty"`
	Superseded int64              `json:"superseded"`
	EmailSent  bool               `json:"email_sent"`
}

// IssueLink creates a voting link and optionally emails it.
func (h *LinkHandlers) IssueLink(c echo.Context) error {
	var req IssueRequest
	if !bind(c, &req) {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}

	issuedBy := req.IssuedBy
	if issuedBy == "" {
		issuedBy = "admin"
	}
	issueReq := votelink.IssueRequest{
		MemberID:    req.MemberID,
		MemberEmail: req.MemberEmail,
		ElectionID:  param(c, "electionID"),
		Chapter:     req.Chapter,
		IssuedBy:    issuedBy,
	}
	if req.ExpiresAt != nil {
		issueReq.ExpiresAt = *req.ExpiresAt
	}

	ctx := c.Request().Context()
	issued, err := h.links.IssueLink(ctx, issueReq)
	if err != nil {
		return adminError(c, err)
	}

	resp := IssueResponse{Link: issued.Link, Superseded: issued.Superseded}
	if req.SendEmail && h.mailer != nil && req.MemberEmail != "" {
		resp.EmailSent = h.deliver(ctx, issued)
	}
	if !resp.EmailSent {
		resp.Token = issued.Token
		resp.VoteURL = email.VoteURL(h.baseURL, issued.Token)
	}

	return c.JSON(http.StatusCreated, resp)
}

// deliver emails the link and records the delivery. A failed send leaves the
// link valid so it can be delivered another way.
func (h *LinkHandlers) deliver(ctx context.Context, issued *votelink.Issued) bool {
	link := issued.Link
	err := h.mailer.SendVotingLink(ctx, email.VotingLink{
		To:         link.MemberEmail,
		Token:      issued.Token,
		ElectionID: link.ElectionID,
		ExpiresAt:  link.ExpiresAt,
	})
	if err != nil {
		slog.Warn("failed to send voting link",
			"link_id", link.ID,
			"member_id", link.MemberID,
			"error", err,
		)
		return false
	}

	if err := h.links.MarkSent(ctx, link.TokenHash); err != nil {
		slog.Error("voting link sent but not marked", "link_id", link.ID, "error", err)
		return true
	}
	link.Status = models.LinkSent
	link.EmailSent = true
	return true
}

// ListLinks returns every link of an election.
func (h *LinkHandlers) ListLinks(c echo.Context) error {
	links, err := h.links.Links(c.Request().Context(), param(c, "electionID"))
	if err != nil {
		return adminError(c, err)
	}
	return c.JSON(http.StatusOK, links)
}

// SummaryResponse counts the links of an election per status.
type SummaryResponse struct {
	Counts     map[models.LinkStatus]int64 `json:"counts"`
	ElectionID string                      `json:"election_id"`
	Total      int64                       `json:"total"`
}

// Summary returns the link counts of an election.
func (h *LinkHandlers) Summary(c echo.Context) error {
	electionID := param(c, "electionID")
	counts, err := h.links.Summary(c.Request().Context(), electionID)
	if err != nil {
		return adminError(c, err)
	}

	resp := SummaryResponse{ElectionID: electionID, Counts: make(map[models.LinkStatus]int64)}
	for _, status := range models.LinkStatuses {
		resp.Counts[status] = counts[status]
		resp.Total += counts[status]
	}
	return c.JSON(http.StatusOK, resp)
}

// RevokeLink invalidates a link identified by its verifier.
func (h *LinkHandlers) RevokeLink(c echo.Context) error {
	hash := param(c, "tokenHash")
	if len(hash) != token.HashLength {
		return errorJSON(c, http.StatusNotFound, votelink.ErrLinkNotFound.Error())
	}
	if err := h.links.Revoke(c.Request().Context(), hash); err != nil {
		return adminError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkSent records an out-of-band delivery of a link.
func (h *LinkHandlers) MarkSent(c echo.Context) error {
	hash := param(c, "tokenHash")
	if len(hash) != token.HashLength {
		return errorJSON(c, http.StatusNotFound, votelink.ErrLinkNotFound.Error())
	}
	if err := h.links.MarkSent(c.Request().Context(), hash); err != nil {
		return adminError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
