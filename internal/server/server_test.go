// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"codeberg.org/oliverandrich/votelinks/internal/handlers"
	"codeberg.org/oliverandrich/votelinks/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-admin-key"

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "localhost", Port: 8080, BaseURL: "http://localhost:8080", MaxBodySize: 64},
		Log:      config.LogConfig{Level: "debug", Format: "text"},
		Database: config.DatabaseConfig{DSN: ":memory:"},
		TLS:      config.TLSConfig{Mode: "off"},
		Links: config.LinksConfig{
			Secret:         testutil.TestSecret,
			TTL:            time.Hour,
			StorageTimeout: time.Second,
			SweepInterval:  time.Minute,
		},
		Admin:     config.AdminConfig{APIKey: testAPIKey},
		RateLimit: config.RateLimitConfig{RedeemPerMinute: 100},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	require.NoError(t, cfg.Validate())
	app, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = app.Close()
	})
	return app
}

func do(app *App, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := testutil.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

var adminHeader = map[string]string{APIKeyHeader: testAPIKey}

func issueToken(t *testing.T, app *App) string {
	t.Helper()
	rec := do(app, http.MethodPut, "/api/elections/E1", `{"status":"open"}`, adminHeader)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(app, http.MethodPost, "/api/elections/E1/links", `{"member_id":"M1"}`, adminHeader)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp handlers.IssueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthRoute(t *testing.T) {
	app := newTestApp(t, testConfig())

	rec := do(app, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	app := newTestApp(t, testConfig())

	tests := []struct {
		name   string
		header map[string]string
	}{
		{"missing key", nil},
		{"wrong key", map[string]string{APIKeyHeader: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(app, http.MethodPut, "/api/elections/E1", `{"status":"open"}`, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = do(app, http.MethodGet, "/api/elections/E1/links", "", tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestVotingFlow(t *testing.T) {
	app := newTestApp(t, testConfig())
	tok := issueToken(t, app)

	rec := do(app, http.MethodGet, "/api/vote/validity?token="+tok, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))

	rec = do(app, http.MethodPost, "/api/vote/redeem", `{"token":"`+tok+`","positions":["chair"]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(app, http.MethodPost, "/api/vote/redeem", `{"token":"`+tok+`"}`, nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = do(app, http.MethodGet, "/api/elections/E1/summary", "", adminHeader)
	assert.Equal(t, http.StatusOK, rec.Code)
	var summary handlers.SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(1), summary.Counts["used"])
}

func TestVoterMessageLocalized(t *testing.T) {
	app := newTestApp(t, testConfig())

	rec := do(app, http.MethodPost, "/api/vote/redeem", `{"token":"garbage"}`, map[string]string{
		"Accept-Language": "de-DE,de;q=0.9",
	})

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Contains(t, rec.Body.String(), "nicht gültig")
}

func TestVoterRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RedeemPerMinute = 3
	app := newTestApp(t, cfg)

	for range 3 {
		rec := do(app, http.MethodPost, "/api/vote/redeem", `{"token":"garbage"}`, nil)
		require.Equal(t, http.StatusGone, rec.Code)
	}

	rec := do(app, http.MethodPost, "/api/vote/redeem", `{"token":"garbage"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Administrative routes are not limited
	rec = do(app, http.MethodGet, "/api/elections/E1/links", "", adminHeader)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVoterRateLimit_IgnoresForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RedeemPerMinute = 3
	app := newTestApp(t, cfg)

	limited := 0
	for i := range 10 {
		header := map[string]string{echo.HeaderXForwardedFor: fmt.Sprintf("10.0.0.%d", i+1)}
		rec := do(app, http.MethodGet, "/api/vote/validity?token=garbage", "", header)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 7, limited)
}

func TestVoterRateLimit_TrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RedeemPerMinute = 3
	cfg.Server.TrustedProxies = []string{"192.0.2.0/24"}
	app := newTestApp(t, cfg)

	for i := range 6 {
		header := map[string]string{echo.HeaderXForwardedFor: fmt.Sprintf("203.0.113.%d", i+1)}
		rec := do(app, http.MethodGet, "/api/vote/validity?token=garbage", "", header)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	client := map[string]string{echo.HeaderXForwardedFor: "203.0.113.50"}
	for range 3 {
		rec := do(app, http.MethodGet, "/api/vote/validity?token=garbage", "", client)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(app, http.MethodGet, "/api/vote/validity?token=garbage", "", client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func lastAccessIP(t *testing.T, app *App) string {
	t.Helper()
	links, err := app.Repo.ListVotingLinksForElection(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.NotNil(t, links[0].LastAccessIP)
	return *links[0].LastAccessIP
}

func TestAccessIP_FromConnection(t *testing.T) {
	app := newTestApp(t, testConfig())
	tok := issueToken(t, app)

	header := map[string]string{echo.HeaderXForwardedFor: "10.9.9.9"}
	rec := do(app, http.MethodGet, "/api/vote/validity?token="+tok, "", header)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "192.0.2.1", lastAccessIP(t, app))
}

func TestAccessIP_FromTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"192.0.2.1"}
	app := newTestApp(t, cfg)
	tok := issueToken(t, app)

	header := map[string]string{echo.HeaderXForwardedFor: "203.0.113.7"}
	rec := do(app, http.MethodGet, "/api/vote/validity?token="+tok, "", header)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "203.0.113.7", lastAccessIP(t, app))
}

func TestNew_InvalidTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"not-an-ip"}

	_, err := New(cfg, slog.Default())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted prox")
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodySize = 1
	app := newTestApp(t, cfg)

	body := `{"token":"` + strings.Repeat("a", 2048) + `"}`
	rec := do(app, http.MethodPost, "/api/vote/redeem", body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequestLoggerOmitsToken(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(newLogger(&buf, "info", "json"))
	t.Cleanup(func() { slog.SetDefault(previous) })

	app := newTestApp(t, testConfig())
	tok := issueToken(t, app)
	buf.Reset()

	do(app, http.MethodGet, "/api/vote/validity?token="+tok, "", nil)

	assert.Contains(t, buf.String(), "/api/vote/validity")
	assert.NotContains(t, buf.String(), tok)
}

func TestNew_InvalidSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Links.Secret = "short"

	_, err := New(cfg, slog.Default())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "token codec")
}

func TestNew_WithSMTP(t *testing.T) {
	cfg := testConfig()
	cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "vote@example.com"}

	app := newTestApp(t, cfg)

	assert.NotNil(t, app.mailer)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
