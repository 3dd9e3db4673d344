// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"golang.org/x/crypto/acme/autocert"
)

// TLSMode represents the resolved TLS mode.
type TLSMode string

const (
	TLSModeOff    TLSMode = "off"
	TLSModeACME   TLSMode = "acme"
	TLSModeManual TLSMode = "manual"
)

// TLSResult contains the resolved TLS configuration.
type TLSResult struct {
	TLSConfig   *tls.Config
	HTTPHandler http.Handler // HTTP-01 challenges and redirect (ACME only)
	Mode        TLSMode
}

// SetupTLS configures TLS based on the configuration.
func SetupTLS(cfg *config.Config) (*TLSResult, error) {
	mode, err := resolveTLSMode(cfg)
	if err != nil {
		return nil, err
	}

	switch mode {
	case TLSModeACME:
		if err := validateACME(cfg); err != nil {
			return nil, err
		}
		slog.Info("TLS mode: acme", "host", cfg.Server.Host, "email", cfg.TLS.Email)
		return setupACME(cfg)
	case TLSModeManual:
		slog.Info("TLS mode: manual", "cert", cfg.TLS.CertFile, "key", cfg.TLS.KeyFile)
		return setupManual(cfg)
	default:
		slog.Info("TLS mode: off")
		return &TLSResult{Mode: TLSModeOff}, nil
	}
}

// resolveTLSMode picks the TLS mode. Auto never serves voting links over
// plain HTTP on a public host.
func resolveTLSMode(cfg *config.Config) (TLSMode, error) {
	switch strings.ToLower(cfg.TLS.Mode) {
	case "off":
		return TLSModeOff, nil
	case "acme":
		return TLSModeACME, nil
	case "manual":
		return TLSModeManual, nil
	case "auto", "":
	default:
		return "", fmt.Errorf("unknown TLS mode: %s", cfg.TLS.Mode)
	}

	switch {
	case config.IsLocalhost(cfg.Server.Host):
		return TLSModeOff, nil
	case cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "":
		return TLSModeManual, nil
	case cfg.TLS.Email != "" && net.ParseIP(cfg.Server.Host) == nil:
		return TLSModeACME, nil
	default:
		return "", fmt.Errorf("host %s needs TLS: set tls-email for ACME or tls-cert-file and tls-key-file, or tls-mode off behind a proxy", cfg.Server.Host)
	}
}

// validateACME checks requirements when ACME mode is selected.
func validateACME(cfg *config.Config) error {
	if cfg.Server.Port != 443 {
		slog.Warn("ACME mode uses port 443, configured port will be ignored",
			"configured_port", cfg.Server.Port,
		)
	}
	if cfg.TLS.Email == "" {
		return fmt.Errorf("ACME mode requires TLS_EMAIL to be set")
	}
	if !isPortAvailable(80) {
		return fmt.Errorf("ACME mode requires port 80 for HTTP-01 challenge (port in use)")
	}
	if !isPortAvailable(443) {
		return fmt.Errorf("ACME mode requires port 443 for HTTPS (port in use)")
	}
	return nil
}

// isPortAvailable checks if a port is available for binding.
func isPortAvailable(port int) bool {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// setupACME configures Let's Encrypt with autocert.
func setupACME(cfg *config.Config) (*TLSResult, error) {
	certDir := filepath.Join(cfg.TLS.CertDir, "acme")
	if err := os.MkdirAll(certDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ACME cert directory: %w", err)
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      cfg.TLS.Email,
		Cache:      autocert.DirCache(certDir),
		HostPolicy: autocert.HostWhitelist(cfg.Server.Host),
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	return &TLSResult{
		Mode:        TLSModeACME,
		TLSConfig:   tlsConfig,
		HTTPHandler: manager.HTTPHandler(nil),
	}, nil
}

// setupManual loads user-provided certificate files.
func setupManual(cfg *config.Config) (*TLSResult, error) {
	certFile := cfg.TLS.CertFile
	keyFile := cfg.TLS.KeyFile

	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("manual TLS mode requires both cert-file and key-file")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	logCertFingerprint(&cert)

	return &TLSResult{
		Mode: TLSModeManual,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}, nil
}

// logCertFingerprint logs the SHA256 fingerprint of the certificate.
func logCertFingerprint(cert *tls.Certificate) {
	if len(cert.Certificate) == 0 {
		return
	}
	fingerprint := sha256.Sum256(cert.Certificate[0])
	hexParts := make([]string, len(fingerprint))
	for i, b := range fingerprint {
		hexParts[i] = fmt.Sprintf("%02X", b)
	}
	slog.Info("Certificate fingerprint", "sha256", strings.Join(hexParts, ":"))
}
