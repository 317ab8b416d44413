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

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/mailparse"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/relay"
)

// replyRequest covers every payload shape /api/chat-reply accepts.
type replyRequest struct {
	// Direct reply.
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	FromEmail string `json:"fromEmail"`
	FromPhone string `json:"fromPhone"`

	// Raw RFC 822 message.
	RawEmail string `json:"rawEmail"`

	// Email-provider webhook.
	Subject string `json:"subject"`
	Text    string `json:"text"`
	Body    string `json:"body"`
	From    string `json:"from"`

	// SMS gateway JSON.
	SMSFrom string `json:"From"`
	SMSBody string `json:"Body"`
}

// handleReply accepts an owner reply as a direct call, a raw email, an
// email-provider webhook payload or an SMS gateway payload.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var (
		in  models.InboundReply
		via string
	)
	switch {
	case req.SessionID != "" && req.Message != "":
		in = s.directReply(req)
		via = "direct"

	case req.RawEmail != "":
		msg, err := mailparse.Parse([]byte(req.RawEmail))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Unreadable email")
			return
		}
		in = msg.Reply(models.ChannelEmailPush, s.now())
		via = "email"

	case req.Subject != "" || req.Text != "":
		in = s.webhookReply(req)
		via = "email"

	case req.SMSFrom != "" && req.SMSBody != "":
		in = models.InboundReply{
			Channel:        models.ChannelSMS,
			SenderIdentity: identity.NormalizePhone(req.SMSFrom),
			SenderKind:     models.SenderPhone,
			RawBody:        strings.TrimSpace(req.SMSBody),
			ReceivedAt:     s.now(),
		}
		via = "sms"

	default:
		respondError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	out := s.cfg.Replies.Route(r.Context(), in)
	s.respondOutcome(w, out, via)
}

// directReply picks the sender identity to check. Calls without any
// identity are trusted, as they come from the owner's own tooling.
func (s *Server) directReply(req replyRequest) models.InboundReply {
	in := models.InboundReply{
		Channel:     models.ChannelDirect,
		SenderKind:  models.SenderNone,
		RawBody:     strings.TrimSpace(req.Message),
		ReceivedAt:  s.now(),
		SessionHint: strings.TrimSpace(req.SessionID),
		Sender:      req.Sender,
	}

	email := strings.TrimSpace(req.FromEmail)
	phone := identity.NormalizePhone(req.FromPhone)
	switch {
	case email != "" && s.cfg.Auth.Authorize(email, models.SenderEmail):
		in.SenderIdentity, in.SenderKind = email, models.SenderEmail
	case phone != "":
		in.SenderIdentity, in.SenderKind = phone, models.SenderPhone
	case email != "":
		in.SenderIdentity, in.SenderKind = email, models.SenderEmail
	}
	return in
}

func (s *Server) webhookReply(req replyRequest) models.InboundReply {
	text := req.Text
	if text == "" {
		text = req.Body
	}
	from := firstNonEmpty(req.From, req.Sender)

	in := models.InboundReply{
		Channel:        models.ChannelEmailWebhook,
		SenderIdentity: identity.ExtractEmailAddress(from),
		SenderKind:     models.SenderEmail,
		RawBody:        mailparse.CleanReply(text),
		ReceivedAt:     s.now(),
		SessionHint:    mailparse.ExtractSessionID(req.Subject, text),
	}
	if in.SessionHint == "" && mailparse.HasLastToken(text) {
		in.DeferLast = true
		in.RawBody = mailparse.StripLastToken(in.RawBody)
	}
	return in
}

// respondOutcome maps a routing outcome to a status code. Internal errors
// are logged by the router and never echoed.
func (s *Server) respondOutcome(w http.ResponseWriter, out relay.Outcome, via string) {
	switch out.Status {
	case relay.StatusStored:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessionId": out.SessionID, "via": via})
	case relay.StatusDuplicate:
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessionId": out.SessionID, "via": via, "duplicate": true})
	case relay.StatusUnauthorized:
		respondError(w, http.StatusForbidden, "Unauthorized sender")
	case relay.StatusNoSession:
		respondError(w, http.StatusBadRequest, "No session ID. Format: REPLY:sessionId Your message")
	case relay.StatusSessionNotFound:
		respondError(w, http.StatusNotFound, "Session not found")
	case relay.StatusEmptyMessage:
		respondError(w, http.StatusBadRequest, "Empty message")
	default:
		slog.Debug("reply failed", "session_id", out.SessionID, "via", via)
		respondError(w, http.StatusInternalServerError, "Reply could not be stored")
	}
}
