// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package smtp sends notification email through an SMTP relay.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/wneessen/go-mail"
	"golang.org/x/oauth2"

	"github.com/deboucheur/chatrelay/internal/models"
)

// Security selects how the connection is protected.
type Security string

const (
	SecurityTLS      Security = "tls"      // implicit TLS, usually port 465
	SecuritySTARTTLS Security = "starttls" // usually port 587
	SecurityNone     Security = "none"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Security Security
	Username string
	Password string
	FromAddr string
	FromName string
	Timeout  time.Duration

	// TokenSource switches authentication to XOAUTH2 when set.
	TokenSource oauth2.TokenSource
}

// Sender delivers messages over a fresh SMTP connection per send.
type Sender struct {
	cfg Config
}

// New creates a sender, filling defaults for port, security and timeout.
func New(cfg Config) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.FromAddr == "" {
		cfg.FromAddr = cfg.Username
	}
	if cfg.Security == "" {
		cfg.Security = SecurityTLS
	}
	if cfg.Port == 0 {
		switch cfg.Security {
		case SecurityTLS:
			cfg.Port = 465
		case SecuritySTARTTLS:
			cfg.Port = 587
		default:
			cfg.Port = 25
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Sender{cfg: cfg}, nil
}

// Send builds and delivers msg. Any SMTP error is returned to the caller.
func (s *Sender) Send(ctx context.Context, msg models.OutboundEmail) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		return err
	}

	opts, err := s.clientOptions()
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	slog.Info("email sent", "to", msg.To, "subject", msg.Subject, "message_id", m.GetMessageID())
	return nil
}

func (s *Sender) buildMessage(msg models.OutboundEmail) (*mail.Msg, error) {
	m := mail.NewMsg()
	if s.cfg.FromName != "" {
		if err := m.FromFormat(s.cfg.FromName, s.cfg.FromAddr); err != nil {
			return nil, fmt.Errorf("set from: %w", err)
		}
	} else if err := m.From(s.cfg.FromAddr); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetDate()

	switch {
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
		if msg.Text != "" {
			m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
		}
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}

	for _, a := range msg.Attachments {
		var opts []mail.FileOption
		if a.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return m, nil
}

func (s *Sender) clientOptions() ([]mail.Option, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
	}

	switch s.cfg.Security {
	case SecurityTLS:
		opts = append(opts, mail.WithSSLPort(false), mail.WithTLSPolicy(mail.TLSMandatory))
	case SecuritySTARTTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	switch {
	case s.cfg.TokenSource != nil:
		tok, err := s.cfg.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("fetch smtp oauth token: %w", err)
		}
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthXOAUTH2),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(tok.AccessToken),
		)
	case s.cfg.Username != "":
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts, nil
}
