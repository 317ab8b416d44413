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

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deboucheur/chatrelay/internal/conversation"
	"github.com/deboucheur/chatrelay/internal/dedup"
	"github.com/deboucheur/chatrelay/internal/metrics"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/replyparse"
)

// Status is the result of routing one reply.
type Status string

const (
	StatusStored          Status = "stored"
	StatusUnauthorized    Status = "unauthorized"
	StatusNoSession       Status = "no_session"
	StatusSessionNotFound Status = "session_not_found"
	StatusEmptyMessage    Status = "empty_message"
	StatusDuplicate       Status = "duplicate"
	StatusFailed          Status = "failed"
)

// Outcome describes what happened to a reply.
type Outcome struct {
	Status    Status
	SessionID string
	TurnID    int64

	// LastSession is filled for SMS replies without a session id, so the
	// owner can be told which chat is the most recent one.
	LastSession string

	Err error
}

// Authorizer decides whether a sender may reply.
type Authorizer interface {
	Authorize(identity string, kind models.SenderKind) bool
}

// RouterConfig holds the dependencies for a Router.
type RouterConfig struct {
	Store   conversation.Store
	Auth    Authorizer
	Seen    dedup.Checker    // optional
	Metrics *metrics.Metrics // optional
}

// Router is the inbound reply pipeline shared by every channel.
type Router struct {
	store    conversation.Store
	auth     Authorizer
	seen     dedup.Checker
	metrics  *metrics.Metrics
	resolver *Resolver
	parsers  map[models.Channel]*replyparse.Parser
	now      func() time.Time
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	email := replyparse.ForEmail()
	return &Router{
		store:    cfg.Store,
		auth:     cfg.Auth,
		seen:     cfg.Seen,
		metrics:  cfg.Metrics,
		resolver: NewResolver(cfg.Store),
		parsers: map[models.Channel]*replyparse.Parser{
			models.ChannelSMS:          replyparse.ForSMS(),
			models.ChannelEmailPush:    email,
			models.ChannelEmailPoll:    email,
			models.ChannelEmailWebhook: email,
			models.ChannelDirect:       email,
		},
		now: time.Now,
	}
}

// Route runs a reply through the pipeline. It never panics on a nil
// optional dependency and always returns an Outcome.
func (r *Router) Route(ctx context.Context, in models.InboundReply) Outcome {
	out := r.route(ctx, in)

	attrs := []any{
		"channel", in.Channel,
		"sender", in.SenderIdentity,
		"status", out.Status,
		"session_id", out.SessionID,
	}
	switch out.Status {
	case StatusStored:
		slog.Info("owner reply stored", append(attrs, "turn_id", out.TurnID)...)
	case StatusFailed:
		slog.Error("owner reply failed", append(attrs, "error", out.Err)...)
	default:
		slog.Warn("owner reply not stored", attrs...)
	}

	if r.metrics != nil {
		r.metrics.InboundReplies.WithLabelValues(string(in.Channel), string(out.Status)).Inc()
	}
	return out
}

func (r *Router) route(ctx context.Context, in models.InboundReply) Outcome {
	if in.SenderKind != models.SenderNone && !r.auth.Authorize(in.SenderIdentity, in.SenderKind) {
		return Outcome{Status: StatusUnauthorized}
	}

	sessionID := strings.TrimSpace(in.SessionHint)
	message := strings.TrimSpace(in.RawBody)
	last := in.DeferLast

	if sessionID == "" && !last {
		res, ok := r.parser(in.Channel).Parse(in.RawBody)
		if !ok {
			out := Outcome{Status: StatusNoSession}
			if in.Channel == models.ChannelSMS {
				latest, err := r.resolver.ResolveLast(ctx)
				if err != nil {
					slog.Warn("could not look up latest session", "error", err)
				}
				out.LastSession = latest
			}
			return out
		}
		sessionID, message, last = res.SessionID, res.Message, res.Last
	}

	if last {
		latest, err := r.resolver.ResolveLast(ctx)
		if err != nil {
			return Outcome{Status: StatusFailed, Err: fmt.Errorf("resolve last session: %w", err)}
		}
		if latest == "" {
			return Outcome{Status: StatusNoSession}
		}
		sessionID = latest
	}

	if message == "" {
		return Outcome{Status: StatusEmptyMessage, SessionID: sessionID}
	}

	exists, err := r.resolver.Exists(ctx, sessionID)
	if err != nil {
		return Outcome{Status: StatusFailed, SessionID: sessionID, Err: fmt.Errorf("check session: %w", err)}
	}
	if !exists {
		return Outcome{Status: StatusSessionNotFound, SessionID: sessionID}
	}

	seenKey := ""
	if r.seen != nil && in.TransportID != "" {
		seenKey = string(in.Channel) + ":" + in.TransportID
		isNew, err := r.seen.IsNew(ctx, seenKey)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
			seenKey = ""
		} else if !isNew {
			return Outcome{Status: StatusDuplicate, SessionID: sessionID}
		}
	}

	id, err := r.store.Append(ctx, models.Turn{
		SessionID:      sessionID,
		Role:           models.RoleOwner,
		Content:        message,
		Timestamp:      r.now(),
		Author:         strings.TrimSpace(in.Sender),
		ForwardedSMS:   in.Channel == models.ChannelSMS,
		ForwardedEmail: in.Channel.IsEmail(),
	})
	if err != nil {
		if seenKey != "" {
			if ferr := r.seen.Forget(ctx, seenKey); ferr != nil {
				slog.Warn("failed to release dedup key", "key", seenKey, "error", ferr)
			}
		}
		return Outcome{Status: StatusFailed, SessionID: sessionID, Err: fmt.Errorf("append owner turn: %w", err)}
	}

	if r.metrics != nil {
		r.metrics.TurnsAppended.WithLabelValues(string(models.RoleOwner)).Inc()
	}
	return Outcome{Status: StatusStored, SessionID: sessionID, TurnID: id}
}

func (r *Router) parser(ch models.Channel) *replyparse.Parser {
	if p, ok := r.parsers[ch]; ok {
		return p
	}
	return replyparse.ForEmail()
}
