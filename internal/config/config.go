// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/services/token"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var (
	configPath string
	configFile = altsrc.NewStringPtrSourcer(&configPath)
)

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	TLS       TLSConfig
	Links     LinksConfig
	SMTP      SMTPConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
}

type TLSConfig struct {
	Mode     string // auto, acme, manual, off
	CertDir  string // Directory for the ACME certificate cache
	Email    string // ACME email for Let's Encrypt
	CertFile string // Path to certificate file (manual mode)
	KeyFile  string // Path to private key file (manual mode)
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in KB
	// TrustedProxies lists the proxy networks whose X-Forwarded-For is honored.
	// Empty means the client address is taken from the connection.
	TrustedProxies []string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

// LinksConfig controls token issuance and the expiry sweep.
type LinksConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Secret         string
	TTL            time.Duration
	StorageTimeout time.Duration
	SweepInterval  time.Duration
	Retention      time.Duration // 0 keeps terminal links forever
}

// SMTPConfig holds the mail server used to deliver voting links.
type SMTPConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// Enabled reports whether a mail server is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type AdminConfig struct {
	APIKey string
}

type RateLimitConfig struct {
	RedeemPerMinute int
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:           cmd.String("host"),
			Port:           int(cmd.Int("port")),
			BaseURL:        cmd.String("base-url"),
			MaxBodySize:    int(cmd.Int("max-body-size")),
			TrustedProxies: cmd.StringSlice("trusted-proxies"),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		TLS: TLSConfig{
			Mode:     cmd.String("tls-mode"),
			CertDir:  cmd.String("tls-cert-dir"),
			Email:    cmd.String("tls-email"),
			CertFile: cmd.String("tls-cert-file"),
			KeyFile:  cmd.String("tls-key-file"),
		},
		Links: LinksConfig{
			Secret:         cmd.String("link-secret"),
			TTL:            cmd.Duration("link-ttl"),
			StorageTimeout: cmd.Duration("storage-timeout"),
			SweepInterval:  cmd.Duration("sweep-interval"),
			Retention:      cmd.Duration("link-retention"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Admin: AdminConfig{
			APIKey: cmd.String("admin-api-key"),
		},
		RateLimit: RateLimitConfig{
			RedeemPerMinute: int(cmd.Int("redeem-rate-limit")),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	return cfg
}

// Validate reports every setting that prevents the server from starting.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Links.Secret) < token.MinSecretLength {
		errs = append(errs, fmt.Errorf("link secret must be at least %d bytes", token.MinSecretLength))
	}
	if c.Admin.APIKey == "" {
		errs = append(errs, errors.New("admin API key is required"))
	}
	if c.Links.TTL <= 0 {
		errs = append(errs, errors.New("link TTL must be positive"))
	}
	if c.Links.StorageTimeout <= 0 {
		errs = append(errs, errors.New("storage timeout must be positive"))
	}
	if c.Links.SweepInterval < time.Second {
		errs = append(errs, errors.New("sweep interval must be at least 1s"))
	}
	if c.Links.Retention < 0 {
		errs = append(errs, errors.New("link retention must not be negative"))
	}
	if c.RateLimit.RedeemPerMinute <= 0 {
		errs = append(errs, errors.New("redeem rate limit must be positive"))
	}
	if _, err := ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.TLS.Mode) {
	case "", "auto", "off", "acme", "manual":
	default:
		errs = append(errs, fmt.Errorf("unknown TLS mode %q", c.TLS.Mode))
	}
	if c.SMTP.Enabled() && c.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP from address is required when SMTP is enabled"))
	}

	return errors.Join(errs...)
}

// ParseTrustedProxies parses IPs and CIDR ranges. A bare IP becomes a host range.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", entry)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port
	mode := strings.ToLower(cfg.TLS.Mode)

	useTLS := shouldUseTLS(mode, host)

	scheme := "http"
	if useTLS {
		scheme = "https"
	}

	// ACME mode always uses port 443
	if mode == "acme" {
		return fmt.Sprintf("https://%s", host)
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

func shouldUseTLS(mode, host string) bool {
	switch mode {
	case "off":
		return false
	case "acme", "manual":
		return true
	default: // "auto" or empty
		return !IsLocalhost(host)
	}
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., vote.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       "config.toml",
			Usage:       "Path to configuration file",
			Destination: &configPath,
			Sources:     cli.EnvVars("CONFIG"),
		},
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: cli.NewValueSourceChain(cli.EnvVar("HOST"), toml.TOML("server.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PORT"), toml.TOML("server.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Public base URL used in voting links",
			Sources: cli.NewValueSourceChain(cli.EnvVar("BASE_URL"), toml.TOML("server.base_url", configFile)),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   64,
			Usage:   "Maximum request body size in KB",
			Sources: cli.NewValueSourceChain(cli.EnvVar("MAX_BODY_SIZE"), toml.TOML("server.max_body_size", configFile)),
		},
		&cli.StringSliceFlag{
			Name:    "trusted-proxies",
			Usage:   "Proxy IPs or CIDR ranges allowed to set X-Forwarded-For",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TRUSTED_PROXIES"), toml.TOML("server.trusted_proxies", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_LEVEL"), toml.TOML("log.level", configFile)),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LOG_FORMAT"), toml.TOML("log.format", configFile)),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/votelinks.db",
			Usage:   "Database DSN",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DATABASE_DSN"), toml.TOML("database.dsn", configFile)),
		},
		&cli.StringFlag{
			Name:    "tls-mode",
			Value:   "auto",
			Usage:   "TLS mode (auto, acme, manual, off)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TLS_MODE"), toml.TOML("tls.mode", configFile)),
		},
		&cli.StringFlag{
			Name:    "tls-cert-dir",
			Value:   "./data/certs",
			Usage:   "Directory for the ACME certificate cache",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TLS_CERT_DIR"), toml.TOML("tls.cert_dir", configFile)),
		},
		&cli.StringFlag{
			Name:    "tls-email",
			Usage:   "Email for ACME/Let's Encrypt registration",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TLS_EMAIL"), toml.TOML("tls.email", configFile)),
		},
		&cli.StringFlag{
			Name:    "tls-cert-file",
			Usage:   "Path to TLS certificate file (manual mode)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TLS_CERT_FILE"), toml.TOML("tls.cert_file", configFile)),
		},
		&cli.StringFlag{
			Name:    "tls-key-file",
			Usage:   "Path to TLS private key file (manual mode)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("TLS_KEY_FILE"), toml.TOML("tls.key_file", configFile)),
		},
		// Link flags
		&cli.StringFlag{
			Name:    "link-secret",
			Usage:   "Server secret for token verifiers (at least 32 bytes)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LINK_SECRET"), toml.TOML("links.secret", configFile)),
		},
		&cli.DurationFlag{
			Name:    "link-ttl",
			Value:   72 * time.Hour,
			Usage:   "How long a voting link stays valid",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LINK_TTL"), toml.TOML("links.ttl", configFile)),
		},
		&cli.DurationFlag{
			Name:    "storage-timeout",
			Value:   5 * time.Second,
			Usage:   "Timeout for a single storage operation",
			Sources: cli.NewValueSourceChain(cli.EnvVar("STORAGE_TIMEOUT"), toml.TOML("links.storage_timeout", configFile)),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Value:   5 * time.Minute,
			Usage:   "How often overdue links are marked expired",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SWEEP_INTERVAL"), toml.TOML("links.sweep_interval", configFile)),
		},
		&cli.DurationFlag{
			Name:    "link-retention",
			Value:   90 * 24 * time.Hour,
			Usage:   "How long used, expired and revoked links are kept after their deadline (0 keeps them)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("LINK_RETENTION"), toml.TOML("links.retention", configFile)),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (empty disables email delivery)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_HOST"), toml.TOML("smtp.host", configFile)),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PORT"), toml.TOML("smtp.port", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_USERNAME"), toml.TOML("smtp.username", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_PASSWORD"), toml.TOML("smtp.password", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Usage:   "Sender address for voting link emails",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM"), toml.TOML("smtp.from", configFile)),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_FROM_NAME"), toml.TOML("smtp.from_name", configFile)),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: cli.NewValueSourceChain(cli.EnvVar("SMTP_TLS"), toml.TOML("smtp.tls", configFile)),
		},
		// Admin flags
		&cli.StringFlag{
			Name:    "admin-api-key",
			Usage:   "API key for the administrative endpoints",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ADMIN_API_KEY"), toml.TOML("admin.api_key", configFile)),
		},
		&cli.IntFlag{
			Name:    "redeem-rate-limit",
			Value:   30,
			Usage:   "Voter requests allowed per minute and IP",
			Sources: cli.NewValueSourceChain(cli.EnvVar("REDEEM_RATE_LIMIT"), toml.TOML("ratelimit.redeem_per_minute", configFile)),
		},
	}
}
