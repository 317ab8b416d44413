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

// Package imappoll reads owner replies from an IMAP mailbox. Each poll
// opens a fresh connection, routes every unread message whose subject
// carries the reply marker, and marks parsed messages as seen.
package imappoll

import (
	"context"
	"log/slog"
	"time"

	"github.com/deboucheur/chatrelay/internal/mailparse"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/relay"
)

// DefaultMarker is the subject substring searched for.
const DefaultMarker = "REPLY:"

// RawMessage is one unread message fetched from the mailbox.
type RawMessage struct {
	UID uint32
	Raw []byte
}

// Mailbox is an open mailbox session.
type Mailbox interface {
	// Unseen returns unread messages whose subject contains marker,
	// without marking them as read.
	Unseen(ctx context.Context, marker string) ([]RawMessage, error)
	// MarkSeen sets \Seen on the given messages.
	MarkSeen(ctx context.Context, uids []uint32) error
	Close() error
}

// Dialer opens a mailbox session.
type Dialer interface {
	Dial(ctx context.Context) (Mailbox, error)
}

// Router is the part of the relay pipeline the poller needs.
type Router interface {
	Route(ctx context.Context, in models.InboundReply) relay.Outcome
}

// Summary counts what one poll did.
type Summary struct {
	Fetched  int
	Stored   int
	Rejected int
	Failed   int
}

// Poller checks the mailbox for owner replies.
type Poller struct {
	dialer   Dialer
	router   Router
	marker   string
	interval time.Duration
	now      func() time.Time
}

// NewPoller creates a poller. interval is only used by Run.
func NewPoller(dialer Dialer, router Router, marker string, interval time.Duration) *Poller {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Poller{
		dialer:   dialer,
		router:   router,
		marker:   marker,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("imap poller starting", "interval", p.interval, "marker", p.marker)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("imap poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if _, err := p.PollOnce(ctx); err != nil {
		slog.Error("imap poll failed", "error", err)
	}
}

// PollOnce runs a single poll. Messages that fail to parse, or whose reply
// could not be stored, stay unread for the next poll. Everything else is
// marked seen, rejected replies included.
func (p *Poller) PollOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	mb, err := p.dialer.Dial(ctx)
	if err != nil {
		return sum, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			slog.Debug("imap close failed", "error", err)
		}
	}()

	msgs, err := mb.Unseen(ctx, p.marker)
	if err != nil {
		return sum, err
	}
	sum.Fetched = len(msgs)
	if len(msgs) == 0 {
		slog.Debug("no unread replies")
		return sum, nil
	}
	slog.Info("found unread replies", "count", len(msgs))

	var handled []uint32
	for _, m := range msgs {
		parsed, err := mailparse.Parse(m.Raw)
		if err != nil {
			slog.Error("failed to parse polled email", "uid", m.UID, "error", err)
			sum.Failed++
			continue
		}

		out := p.router.Route(ctx, parsed.Reply(models.ChannelEmailPoll, p.now()))
		switch out.Status {
		case relay.StatusStored:
			sum.Stored++
		case relay.StatusFailed:
			sum.Failed++
			continue
		default:
			sum.Rejected++
		}
		handled = append(handled, m.UID)
	}

	if len(handled) > 0 {
		if err := mb.MarkSeen(ctx, handled); err != nil {
			return sum, err
		}
	}

	slog.Info("imap poll complete",
		"fetched", sum.Fetched,
		"stored", sum.Stored,
		"rejected", sum.Rejected,
		"failed", sum.Failed,
	)
	return sum, nil
}
