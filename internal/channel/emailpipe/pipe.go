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

// Package emailpipe reads one raw owner reply from a mail-server pipe and
// routes it into the conversation. Nothing is ever reported back to the
// mail server: every failure is logged and swallowed so the MTA does not
// bounce the owner's reply.
package emailpipe

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/deboucheur/chatrelay/internal/mailparse"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/relay"
)

// maxMessageSize caps how much of stdin is read.
const maxMessageSize = 25 << 20

// Router is the part of the relay pipeline the pipe needs.
type Router interface {
	Route(ctx context.Context, in models.InboundReply) relay.Outcome
}

// Run consumes r and routes the reply it contains. It returns the routing
// status for logging and tests; callers must exit successfully regardless.
func Run(ctx context.Context, r io.Reader, router Router) relay.Status {
	raw, err := io.ReadAll(io.LimitReader(r, maxMessageSize))
	if err != nil {
		slog.Error("failed to read piped email", "error", err)
		return relay.StatusFailed
	}

	msg, err := mailparse.Parse(raw)
	if err != nil {
		slog.Error("failed to parse piped email", "bytes", len(raw), "error", err)
		return relay.StatusFailed
	}

	slog.Info("piped email received",
		"from", msg.From,
		"subject", msg.Subject,
		"message_id", msg.MessageID,
		"body_len", len(msg.Body),
	)

	out := router.Route(ctx, msg.Reply(models.ChannelEmailPush, time.Now()))
	return out.Status
}
