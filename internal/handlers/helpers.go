// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// bind decodes the request body and reports whether it was well formed.
func bind(c echo.Context, v any) bool {
	return c.Bind(v) == nil
}

// param returns a trimmed path parameter.
func param(c echo.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
