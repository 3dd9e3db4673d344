// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email delivers voting links over SMTP.
package email

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"codeberg.org/oliverandrich/votelinks/internal/config"
	"codeberg.org/oliverandrich/votelinks/internal/i18n"
	"github.com/wneessen/go-mail"
)

// sendTimeout bounds dialing and talking to the SMTP server.
const sendTimeout = 15 * time.Second

// VotingLink is a link ready for delivery.
type VotingLink struct {
	To         string
	Token      string
	ElectionID string
	ExpiresAt  time.Time
}

// Service sends voting link emails.
type Service struct {
	cfg     *config.SMTPConfig
	baseURL string
}

// NewService creates a new email service.
func NewService(cfg *config.SMTPConfig, baseURL string) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// VoteURL returns the address a voter opens to redeem a token.
func VoteURL(baseURL, token string) string {
	return fmt.Sprintf("%s/vote?token=%s", strings.TrimSuffix(baseURL, "/"), url.QueryEscape(token))
}

// Message builds the localized voting link email.
func (s *Service) Message(ctx context.Context, link VotingLink) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(link.To); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	data := map[string]any{
		"ElectionID": link.ElectionID,
		"VoteURL":    VoteURL(s.baseURL, link.Token),
	}
	body := i18n.TData(ctx, "voting_link_email_body", data)
	if !link.ExpiresAt.IsZero() {
		hours := int(time.Until(link.ExpiresAt).Round(time.Hour).Hours())
		if hours > 0 {
			body = strings.TrimRight(body, "\n") + "\n" + i18n.TPlural(ctx, "voting_link_email_validity", hours) + "\n"
		}
	}

	msg.Subject(i18n.TData(ctx, "voting_link_email_subject", data))
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// SendVotingLink delivers a voting link to the member.
func (s *Service) SendVotingLink(ctx context.Context, link VotingLink) error {
	msg, err := s.Message(ctx, link)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

// send sends an email via SMTP using go-mail.
func (s *Service) send(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(sendTimeout),
	}

	// Use implicit TLS (SSL) for port 465, STARTTLS for others
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}
