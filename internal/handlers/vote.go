// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/votelinks/internal/services/votelink"
	"github.com/labstack/echo/v4"
)

// VoteHandlers contains the handlers voters reach through their link.
type VoteHandlers struct {
	links *votelink.Service
}

// NewVote creates a new VoteHandlers instance.
func NewVote(links *votelink.Service) *VoteHandlers {
	return &VoteHandlers{links: links}
}

// ValidityResponse tells a voting page whether to offer the ballot.
type ValidityResponse struct {
	Valid bool `json:"valid"`
}

// Validity reports whether the token in the query string can still be redeemed.
func (h *VoteHandlers) Validity(c echo.Context) error {
	valid, err := h.links.IsTokenValid(c.Request().Context(), c.QueryParam("token"), c.RealIP())
	if err != nil {
		return voterError(c, err)
	}
	return c.JSON(http.StatusOK, ValidityResponse{Valid: valid})
}

// RedeemRequest is the request body for casting a vote with a link.
type RedeemRequest struct {
	Token     string   `json:"token"`
	Positions []string `json:"positions"`
}

// Redeem consumes a token and returns the voting grant.
func (h *VoteHandlers) Redeem(c echo.Context) error {
	var req RedeemRequest
	if !bind(c, &req) {
		return errorJSON(c, http.StatusBadRequest, "invalid request")
	}

	grant, err := h.links.Redeem(c.Request().Context(), votelink.RedeemRequest{
		Token:     req.Token,
		Positions: req.Positions,
		RemoteIP:  c.RealIP(),
	})
	if err != nil {
		return voterError(c, err)
	}
	return c.JSON(http.StatusOK, grant)
}
