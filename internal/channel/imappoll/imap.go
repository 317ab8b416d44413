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

package imappoll

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

// Config holds mailbox connection settings.
type Config struct {
	Host     string
	Port     int
	Security string // "tls", "starttls" or "none"
	Username string
	Password string
	Mailbox  string
	Timeout  time.Duration

	// TokenSource switches authentication to SASL OAUTHBEARER when set.
	TokenSource oauth2.TokenSource
}

// IMAPDialer connects to a real IMAP server.
type IMAPDialer struct {
	cfg Config
}

// NewIMAPDialer creates a dialer, filling defaults for port, mailbox and
// timeout.
func NewIMAPDialer(cfg Config) *IMAPDialer {
	if cfg.Security == "" {
		cfg.Security = "tls"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
		if cfg.Security != "tls" {
			cfg.Port = 143
		}
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPDialer{cfg: cfg}
}

// Dial connects, authenticates and selects the mailbox. The whole session
// is bounded by the configured timeout.
func (d *IMAPDialer) Dial(ctx context.Context) (Mailbox, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	dialer := &net.Dialer{Timeout: d.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", addr, err)
	}
	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set imap deadline: %w", err)
	}

	opts := &imapclient.Options{TLSConfig: &tls.Config{ServerName: d.cfg.Host}}
	var client *imapclient.Client
	switch d.cfg.Security {
	case "starttls":
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("imap starttls: %w", err)
		}
	case "none":
		client = imapclient.New(conn, opts)
	default:
		client = imapclient.New(tls.Client(conn, opts.TLSConfig), opts)
	}

	if err := d.authenticate(client); err != nil {
		client.Close()
		return nil, err
	}

	if _, err := client.Select(d.cfg.Mailbox, nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("select %s: %w", d.cfg.Mailbox, err)
	}
	return &imapMailbox{client: client}, nil
}

func (d *IMAPDialer) authenticate(client *imapclient.Client) error {
	if d.cfg.TokenSource != nil {
		tok, err := d.cfg.TokenSource.Token()
		if err != nil {
			return fmt.Errorf("fetch imap oauth token: %w", err)
		}
		sc := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: d.cfg.Username,
			Token:    tok.AccessToken,
		})
		if err := client.Authenticate(sc); err != nil {
			return fmt.Errorf("imap authenticate: %w", err)
		}
		return nil
	}
	if err := client.Login(d.cfg.Username, d.cfg.Password).Wait(); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	return nil
}

type imapMailbox struct {
	client *imapclient.Client
}

func (m *imapMailbox) Unseen(_ context.Context, marker string) ([]RawMessage, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header:  []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: marker}},
	}
	data, err := m.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := m.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	msgs := make([]RawMessage, 0, len(bufs))
	for _, buf := range bufs {
		raw := buf.FindBodySection(section)
		if raw == nil {
			continue
		}
		msgs = append(msgs, RawMessage{UID: uint32(buf.UID), Raw: raw})
	}
	return msgs, nil
}

func (m *imapMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	set := imap.UIDSet{}
	for _, uid := range uids {
		set.AddNum(imap.UID(uid))
	}
	err := m.client.Store(set, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("imap store \\Seen: %w", err)
	}
	return nil
}

func (m *imapMailbox) Close() error {
	if err := m.client.Logout().Wait(); err != nil {
		m.client.Close()
		return err
	}
	return m.client.Close()
}
