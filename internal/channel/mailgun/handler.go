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

// Package mailgun receives owner replies forwarded by a Mailgun inbound
// route. Requests must carry a valid webhook signature; after that the
// provider always gets a 200 so it does not retry.
package mailgun

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mg "github.com/mailgun/mailgun-go/v5"
	"github.com/mailgun/mailgun-go/v5/mtypes"

	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/mailparse"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/relay"
)

// Router is the part of the relay pipeline the handler needs.
type Router interface {
	Route(ctx context.Context, in models.InboundReply) relay.Outcome
}

// Handler serves the Mailgun inbound route.
type Handler struct {
	router   Router
	verifier *mg.Client
	now      func() time.Time
}

// NewHandler creates a Mailgun webhook handler. An empty signing key
// rejects every request.
func NewHandler(router Router, signingKey string) *Handler {
	verifier := mg.NewMailgun("")
	verifier.SetWebhookSigningKey(signingKey)
	return &Handler{router: router, verifier: verifier, now: time.Now}
}

// ServeHTTP handles one inbound email.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		if err2 := r.ParseForm(); err2 != nil {
			slog.Warn("failed to parse mailgun webhook", "error", err2)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if !h.verify(r.FormValue("timestamp"), r.FormValue("token"), r.FormValue("signature")) {
		slog.Warn("mailgun webhook signature verification failed", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	in := h.reply(r)
	slog.Info("mailgun webhook received",
		"sender", in.SenderIdentity,
		"subject", r.FormValue("subject"),
		"message_id", in.TransportID,
	)

	h.router.Route(r.Context(), in)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) verify(timestamp, token, signature string) bool {
	if signature == "" {
		return false
	}
	ok, err := h.verifier.VerifyWebhookSignature(mtypes.Signature{
		TimeStamp: timestamp,
		Token:     token,
		Signature: signature,
	})
	if err != nil {
		slog.Debug("mailgun signature check error", "error", err)
		return false
	}
	return ok
}

// reply builds the InboundReply from the route payload. stripped-text is
// preferred over body-plain; either one goes through the local cleanup so
// reply tokens never reach the stored turn.
func (h *Handler) reply(r *http.Request) models.InboundReply {
	subject := r.FormValue("subject")
	bodyPlain := r.FormValue("body-plain")

	sender := r.FormValue("sender")
	if sender == "" {
		sender = r.FormValue("from")
	}

	text := r.FormValue("stripped-text")
	if text == "" {
		text = bodyPlain
	}
	text = mailparse.CleanReply(text)

	in := models.InboundReply{
		Channel:        models.ChannelEmailWebhook,
		SenderIdentity: identity.ExtractEmailAddress(sender),
		SenderKind:     models.SenderEmail,
		RawBody:        text,
		ReceivedAt:     h.now(),
		SessionHint:    mailparse.ExtractSessionID(subject, bodyPlain),
		TransportID:    r.FormValue("Message-Id"),
	}
	if in.SessionHint == "" && mailparse.HasLastToken(bodyPlain) {
		in.DeferLast = true
		in.RawBody = mailparse.StripLastToken(text)
	}
	return in
}
