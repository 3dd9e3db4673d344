// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"codeberg.org/oliverandrich/votelinks/internal/database"
	"codeberg.org/oliverandrich/votelinks/internal/handlers"
	"codeberg.org/oliverandrich/votelinks/internal/i18n"
	"codeberg.org/oliverandrich/votelinks/internal/repository"
	"codeberg.org/oliverandrich/votelinks/internal/services/email"
	"codeberg.org/oliverandrich/votelinks/internal/services/reaper"
	"codeberg.org/oliverandrich/votelinks/internal/services/token"
	"codeberg.org/oliverandrich/votelinks/internal/services/votelink"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
	"golang.org/x/sync/errgroup"
)

// App wires storage, services and routes together.
type App struct {
	Echo   *echo.Echo
	DB     *sqlx.DB
	Repo   *repository.Repository
	Links  *votelink.Service
	Reaper *reaper.Reaper
	mailer handlers.Mailer
}

// New builds the application from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := i18n.Init(); err != nil {
		return nil, fmt.Errorf("failed to init i18n: %w", err)
	}

	codec, err := token.NewCodec([]byte(cfg.Links.Secret))
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := repository.New(db)
	app := &App{
		DB:   db,
		Repo: repo,
		Links: votelink.NewService(repo, repo, codec, votelink.Options{
			LinkTTL:        cfg.Links.TTL,
			StorageTimeout: cfg.Links.StorageTimeout,
			Logger:         logger,
		}),
		Reaper: reaper.New(repo, reaper.Options{
			Interval:  cfg.Links.SweepInterval,
			Retention: cfg.Links.Retention,
		}, logger),
	}

	if cfg.SMTP.Enabled() {
		mailer, err := email.NewService(&cfg.SMTP, cfg.Server.BaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create email service: %w", err)
		}
		app.mailer = mailer
	} else {
		logger.Warn("SMTP not configured, voting links must be delivered manually")
	}

	extractIP, err := ipExtractor(cfg.Server.TrustedProxies)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure trusted proxies: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = extractIP
	app.Echo = e

	setupMiddleware(e, cfg)
	setupRoutes(e, cfg, app)

	return app, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	logger := SetupLogger(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	app, err := New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
	}()

	if err := app.Reaper.Start(); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer app.Reaper.Stop()

	return startWithGracefulShutdown(ctx, app.Echo, cfg)
}

func setupRoutes(e *echo.Echo, cfg *config.Config, app *App) {
	h := handlers.New(app.Repo)
	links := handlers.NewLinks(app.Links, app.mailer, cfg.Server.BaseURL)
	vote := handlers.NewVote(app.Links)

	e.GET("/health", h.Health)

	admin := apiKeyAuth(cfg.Admin.APIKey)
	e.PUT("/api/elections/:electionID", links.PutElection, admin)
	e.POST("/api/elections/:electionID/links", links.IssueLink, admin)
	e.GET("/api/elections/:electionID/links", links.ListLinks, admin)
	e.GET("/api/elections/:electionID/summary", links.Summary, admin)
	e.DELETE("/api/links/:tokenHash", links.RevokeLink, admin)
	e.POST("/api/links/:tokenHash/sent", links.MarkSent, admin)

	limit := voterRateLimit(cfg.RateLimit.RedeemPerMinute)
	e.GET("/api/vote/validity", vote.Validity, noStore(), limit)
	e.POST("/api/vote/redeem", vote.Redeem, noStore(), limit)
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	tlsResult, err := SetupTLS(cfg)
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// HTTP redirect server for ACME mode
	var httpServer *http.Server

	switch tlsResult.Mode {
	case TLSModeOff:
		g.Go(func() error {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			return ignoreClosed(e.Start(addr))
		})

	case TLSModeACME:
		g.Go(func() error {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			return ignoreClosed(startTLSServer(e, ":443", tlsResult.TLSConfig))
		})

		httpServer = &http.Server{
			Addr:              ":80",
			Handler:           tlsResult.HTTPHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("HTTP→HTTPS redirect active", "addr", ":80")
			return ignoreClosed(httpServer.ListenAndServe())
		})

	case TLSModeManual:
		g.Go(func() error {
			slog.Info("Server running", "url", cfg.Server.BaseURL)
			return ignoreClosed(startTLSServer(e, addr, tlsResult.TLSConfig))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown main server", "error", err)
		}
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("failed to shutdown HTTP redirect server", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}

	slog.Info("server stopped")
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startTLSServer starts the Echo server with a custom TLS configuration.
func startTLSServer(e *echo.Echo, addr string, tlsConfig *tls.Config) error {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	e.TLSListener = tls.NewListener(ln, tlsConfig)
	e.TLSServer.TLSConfig = tlsConfig
	return e.Server.Serve(e.TLSListener)
}
