// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"codeberg.org/oliverandrich/votelinks/internal/handlers"
	"codeberg.org/oliverandrich/votelinks/internal/i18n"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// APIKeyHeader carries the administrative API key.
const APIKeyHeader = "X-API-Key"

// ipExtractor takes the client address from the connection unless trusted
// proxies are configured. Only those proxies may set X-Forwarded-For.
func ipExtractor(proxies []string) (echo.IPExtractor, error) {
	nets, err := config.ParseTrustedProxies(proxies)
	if err != nil {
		return nil, err
	}
	if len(nets) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range nets {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

func setupMiddleware(e *echo.Echo, cfg *config.Config) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", cfg.Server.MaxBodySize)))
	e.Use(i18nMiddleware())
}

// requestLogger returns middleware that logs requests using slog.
// Only the path is logged because the query string may carry a token.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURIPath:   true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}

			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				slog.LogAttrs(c.Request().Context(), slog.LevelError, "request", attrs...)
			} else {
				slog.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			}

			return nil
		},
	})
}

// i18nMiddleware sets the locale based on Accept-Language header.
func i18nMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acceptLang := c.Request().Header.Get("Accept-Language")
			lang := i18n.MatchLanguage(acceptLang)
			ctx := i18n.WithLocale(c.Request().Context(), lang)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// apiKeyAuth guards the administrative routes.
func apiKeyAuth(apiKey string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + APIKeyHeader,
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, handlers.ErrorResponse{Error: "invalid API key"})
		},
	})
}

// voterRateLimit limits voter requests per client IP to perMinute.
func voterRateLimit(perMinute int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / 60),
		Burst:     perMinute,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, handlers.ErrorResponse{Error: "forbidden"})
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			slog.Warn("voter rate limit exceeded", "ip", identifier)
			return c.JSON(http.StatusTooManyRequests, handlers.ErrorResponse{Error: "too many requests"})
		},
	})
}

// noStore keeps token-bearing responses out of caches and referrers.
func noStore() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")
			return next(c)
		}
	}
}
