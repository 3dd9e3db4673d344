// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/votelinks/internal/repository"
	"github.com/labstack/echo/v4"
)

// Handlers contains the handlers shared by all routes.
type Handlers struct {
	repo *repository.Repository
}

// New creates a new Handlers instance.
func New(repo *repository.Repository) *Handlers {
	return &Handlers{repo: repo}
}

// Health returns the health status. It fails when the database is unreachable.
func (h *Handlers) Health(c echo.Context) error {
	if h.repo != nil {
		if err := h.repo.DB().PingContext(c.Request().Context()); err != nil {
			slog.Error("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
