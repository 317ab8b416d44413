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

// Package sms handles inbound SMS webhooks from Twilio. Owner replies are
// routed into the conversation and answered with TwiML. The gateway always
// gets a 200 so it never retries a reply we already handled.
package sms

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/relay"
)

// Router is the part of the relay pipeline the handler needs.
type Router interface {
	Route(ctx context.Context, in models.InboundReply) relay.Outcome
}

// Texts are the replies sent back to the owner's phone.
type Texts struct {
	Usage      string
	LastChat   string
	Stored     string
	NotFound   string
	Failed     string
	EmptyReply string
}

// TextsByLocale holds the owner-facing replies by language code.
var TextsByLocale = map[string]Texts{
	"fr": {
		Usage:      "Format: REPLY:sessionId votre message\nOu répondez au dernier chat avec: LAST votre message",
		LastChat:   "\n\nDernier chat: ",
		Stored:     "✅ Réponse envoyée au client!\nSession: ",
		NotFound:   "❌ Session non trouvée: ",
		Failed:     "❌ Erreur: la réponse n'a pas pu être enregistrée",
		EmptyReply: "❌ Message vide",
	},
	"en": {
		Usage:      "Format: REPLY:sessionId your message\nOr reply to the latest chat with: LAST your message",
		LastChat:   "\n\nLatest chat: ",
		Stored:     "✅ Reply sent to the customer!\nSession: ",
		NotFound:   "❌ Session not found: ",
		Failed:     "❌ Error: the reply could not be stored",
		EmptyReply: "❌ Empty message",
	},
}

// TextsFor returns the replies for lang, falling back to French.
func TextsFor(lang string) Texts {
	if t, ok := TextsByLocale[strings.ToLower(lang)]; ok {
		return t
	}
	return TextsByLocale["fr"]
}

// twimlResponse is the TwiML document returned to the gateway.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// Handler serves the SMS webhook and the delivery-status callback.
type Handler struct {
	router Router
	texts  Texts
	now    func() time.Time
}

// NewHandler creates an SMS webhook handler.
func NewHandler(router Router, texts Texts) *Handler {
	return &Handler{router: router, texts: texts, now: time.Now}
}

// ServeWebhook handles an inbound SMS.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("failed to parse sms webhook form", "error", err)
		h.writeTwiML(w, "")
		return
	}

	fields := make([]any, 0, 2*len(r.PostForm))
	for k := range r.PostForm {
		fields = append(fields, k, r.PostForm.Get(k))
	}
	slog.Info("sms webhook received", fields...)

	in := models.InboundReply{
		Channel:        models.ChannelSMS,
		SenderIdentity: identity.NormalizePhone(r.PostForm.Get("From")),
		SenderKind:     models.SenderPhone,
		RawBody:        strings.TrimSpace(r.PostForm.Get("Body")),
		ReceivedAt:     h.now(),
		TransportID:    r.PostForm.Get("MessageSid"),
	}

	out := h.router.Route(r.Context(), in)
	h.writeTwiML(w, h.reply(out))
}

// reply picks the TwiML message for an outcome. Unauthorized senders and
// gateway retries get an empty response.
func (h *Handler) reply(out relay.Outcome) string {
	switch out.Status {
	case relay.StatusStored:
		return h.texts.Stored + prefix(out.SessionID, 8) + "..."
	case relay.StatusNoSession:
		msg := h.texts.Usage
		if out.LastSession != "" {
			msg += h.texts.LastChat + out.LastSession
		}
		return msg
	case relay.StatusSessionNotFound:
		return h.texts.NotFound + out.SessionID
	case relay.StatusEmptyMessage:
		return h.texts.EmptyReply
	case relay.StatusFailed:
		return h.texts.Failed
	default:
		return ""
	}
}

func (h *Handler) writeTwiML(w http.ResponseWriter, message string) {
	body, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		slog.Error("failed to encode TwiML", "error", err)
		body = []byte("<Response></Response>")
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

// ServeStatus logs a delivery-status callback for an outbound SMS.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("failed to parse sms status callback", "error", err)
	} else {
		slog.Info("sms status callback",
			"message_sid", r.PostForm.Get("MessageSid"),
			"status", r.PostForm.Get("MessageStatus"),
			"to", r.PostForm.Get("To"),
			"error_code", r.PostForm.Get("ErrorCode"),
		)
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
