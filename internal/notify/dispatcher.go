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

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deboucheur/chatrelay/internal/conversation"
	"github.com/deboucheur/chatrelay/internal/metrics"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/queue"
)

// Channel names used for fan-out, job payloads and metrics.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// AllChannels is the full fan-out.
var AllChannels = []string{ChannelEmail, ChannelSMS}

// Mailer sends an email.
type Mailer interface {
	Send(ctx context.Context, msg models.OutboundEmail) error
}

// Texter sends an SMS.
type Texter interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Recipients are the owner addresses. The first phone is the primary SMS
// recipient; later ones get best-effort copies.
type Recipients struct {
	Emails []string
	Phones []string
}

// Result reports which channels delivered.
type Result struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// Config holds the dependencies for a Dispatcher.
type Config struct {
	Store      conversation.Store
	Mailer     Mailer // nil disables email
	Texter     Texter // nil disables SMS
	Composer   *Composer
	Recipients Recipients
	Every      int
	Metrics    *metrics.Metrics // optional
}

// Dispatcher decides whether a chat exchange warrants a notification and
// fans it out to the owner.
type Dispatcher struct {
	store      conversation.Store
	mailer     Mailer
	texter     Texter
	composer   *Composer
	recipients Recipients
	every      int
	metrics    *metrics.Metrics
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Every <= 0 {
		cfg.Every = DefaultEvery
	}
	if cfg.Composer == nil {
		cfg.Composer = NewComposer(LocaleFor("fr"), time.UTC, "")
	}
	return &Dispatcher{
		store:      cfg.Store,
		mailer:     cfg.Mailer,
		texter:     cfg.Texter,
		composer:   cfg.Composer,
		recipients: cfg.Recipients,
		every:      cfg.Every,
		metrics:    cfg.Metrics,
	}
}

// Evaluate counts the session's user turns and applies the cadence rule.
func (d *Dispatcher) Evaluate(ctx context.Context, sessionID string) (bool, int, error) {
	count, err := d.store.CountUserTurns(ctx, sessionID)
	if err != nil {
		return false, 0, fmt.Errorf("count user turns: %w", err)
	}
	notify := ShouldNotify(count, d.every)

	decision := "skip"
	if notify {
		decision = "notify"
	}
	if d.metrics != nil {
		d.metrics.NotifyDecisions.WithLabelValues(decision).Inc()
	}
	slog.Debug("notification decision", "session_id", sessionID, "user_turns", count, "decision", decision)
	return notify, count, nil
}

// Deliver sends ev on the requested channels concurrently and records the
// forwarded flags. failed lists the channels that should be retried;
// channels without a configured transport are not retried.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event, channels []string) (Result, []string) {
	start := time.Now()
	var (
		res    Result
		failed []string
		mu     sync.Mutex
		g      errgroup.Group
	)
	fail := func(ch string) {
		mu.Lock()
		failed = append(failed, ch)
		mu.Unlock()
	}

	for _, ch := range channels {
		switch ch {
		case ChannelEmail:
			g.Go(func() error {
				ok, retry := d.sendEmail(ctx, ev)
				mu.Lock()
				res.Email = ok
				mu.Unlock()
				if retry {
					fail(ChannelEmail)
				}
				return nil
			})
		case ChannelSMS:
			g.Go(func() error {
				ok, retry := d.sendSMS(ctx, ev)
				mu.Lock()
				res.SMS = ok
				mu.Unlock()
				if retry {
					fail(ChannelSMS)
				}
				return nil
			})
		default:
			slog.Warn("unknown notification channel", "channel", ch)
		}
	}
	_ = g.Wait()

	if res.Email || res.SMS {
		flags := models.ForwardFlags{Email: res.Email, SMS: res.SMS}
		if err := d.store.MarkForwarded(context.WithoutCancel(ctx), ev.SessionID, flags); err != nil {
			slog.Error("failed to mark session forwarded", "session_id", ev.SessionID, "error", err)
		}
	}
	if d.metrics != nil {
		d.metrics.NotifyLatency.Observe(time.Since(start).Seconds())
	}

	slog.Info("notification delivered",
		"session_id", ev.SessionID,
		"email", res.Email,
		"sms", res.SMS,
		"failed", failed,
	)
	return res, failed
}

// HandleJob adapts Deliver to the queue worker.
func (d *Dispatcher) HandleJob(ctx context.Context, job queue.Job) ([]string, error) {
	var ev Event
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode notification event: %w", err)
	}
	_, failed := d.Deliver(ctx, ev, job.Channels)
	return failed, nil
}

// sendEmail mails each owner address separately. The channel succeeds when
// any address accepted the message.
func (d *Dispatcher) sendEmail(ctx context.Context, ev Event) (ok, retry bool) {
	if d.mailer == nil || len(d.recipients.Emails) == 0 {
		d.record(ChannelEmail, "disabled")
		return false, false
	}

	html, err := d.composer.EmailHTML(ev)
	if err != nil {
		slog.Error("failed to render notification email", "session_id", ev.SessionID, "error", err)
		d.record(ChannelEmail, "failed")
		return false, false
	}
	msg := models.OutboundEmail{
		Subject: d.composer.EmailSubject(ev),
		HTML:    html,
		Text:    d.composer.EmailText(ev),
	}

	for _, addr := range dedupe(d.recipients.Emails) {
		msg.To = []string{addr}
		if err := d.mailer.Send(ctx, msg); err != nil {
			slog.Error("notification email failed", "session_id", ev.SessionID, "to", addr, "error", err)
			continue
		}
		ok = true
	}
	if ok {
		d.record(ChannelEmail, "sent")
		return true, false
	}
	d.record(ChannelEmail, "failed")
	return false, true
}

// sendSMS texts the primary phone. Copies to other phones never affect the
// channel outcome.
func (d *Dispatcher) sendSMS(ctx context.Context, ev Event) (ok, retry bool) {
	phones := dedupe(d.recipients.Phones)
	if d.texter == nil || len(phones) == 0 {
		d.record(ChannelSMS, "disabled")
		return false, false
	}

	body := d.composer.SMSBody(ev)
	if err := d.texter.SendSMS(ctx, phones[0], body); err != nil {
		slog.Error("notification SMS failed", "session_id", ev.SessionID, "to", phones[0], "error", err)
		d.record(ChannelSMS, "failed")
		return false, true
	}
	d.record(ChannelSMS, "sent")

	for _, to := range phones[1:] {
		if err := d.texter.SendSMS(ctx, to, body); err != nil {
			slog.Warn("secondary notification SMS failed", "session_id", ev.SessionID, "to", to, "error", err)
		}
	}
	return true, false
}

func (d *Dispatcher) record(channel, outcome string) {
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(channel, outcome).Inc()
	}
}

// dedupe drops empty and repeated addresses, keeping order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
