// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// SetupLogger configures the global slog logger.
func SetupLogger(level, format string) *slog.Logger {
	logger := newLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: logLevel})
	}

	return slog.New(handler)
}
