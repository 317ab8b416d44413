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

// Package mailgun sends notification email through the Mailgun HTTP API.
package mailgun

import (
	"context"
	"fmt"
	"log/slog"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/deboucheur/chatrelay/internal/models"
)

// Config holds Mailgun settings.
type Config struct {
	Domain   string
	APIKey   string
	Region   string // "us" or "eu"
	FromAddr string
	FromName string
}

// Sender delivers messages through Mailgun.
type Sender struct {
	client *mg.Client
	domain string
	from   string
}

// New creates a Mailgun sender.
func New(cfg Config) (*Sender, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("mailgun domain and api key are required")
	}
	client := mg.NewMailgun(cfg.APIKey)
	if cfg.Region == "eu" {
		client.SetAPIBase(mg.APIBaseEU)
	}

	from := cfg.FromAddr
	if from == "" {
		from = fmt.Sprintf("noreply@%s", cfg.Domain)
	}
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, from)
	}
	return &Sender{client: client, domain: cfg.Domain, from: from}, nil
}

// Send delivers msg.
func (s *Sender) Send(ctx context.Context, msg models.OutboundEmail) error {
	m := mg.NewMessage(s.domain, s.from, msg.Subject, msg.Text, msg.To...)
	if msg.HTML != "" {
		m.SetHTML(msg.HTML)
	}
	if len(msg.Attachments) > 0 {
		slog.Warn("mailgun sender drops attachments", "count", len(msg.Attachments))
	}

	resp, err := s.client.Send(ctx, m)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	slog.Info("email sent", "to", msg.To, "subject", msg.Subject, "message_id", resp.ID)
	return nil
}
