// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/votelinks/internal/i18n"
	"codeberg.org/oliverandrich/votelinks/internal/services/votelink"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func errorJSON(c echo.Context, code int, message string) error {
	return c.JSON(code, ErrorResponse{Error: message})
}

// adminError maps service errors for administrative callers, who get the detail.
func adminError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, votelink.ErrInvalidRequest):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, votelink.ErrLinkNotFound):
		return errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, votelink.ErrElectionNotOpen), errors.Is(err, votelink.ErrIssueConflict):
		return errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, votelink.ErrStorageUnavailable):
		slog.Error("storage unavailable", "path", c.Path(), "error", err)
		return errorJSON(c, http.StatusServiceUnavailable, "storage unavailable")
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}

// voterError maps redemption errors for voters. Token failures all look the same.
func voterError(c echo.Context, err error) error {
	switch {
	case votelink.IsRedemptionFailure(err):
		slog.Debug("redemption rejected", "reason", err)
		return errorJSON(c, http.StatusGone, i18n.T(c.Request().Context(), "redemption_failed"))
	case errors.Is(err, votelink.ErrStorageUnavailable):
		slog.Error("storage unavailable", "path", c.Path(), "error", err)
		return errorJSON(c, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		slog.Error("redemption failed", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}
