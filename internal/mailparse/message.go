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

// Package mailparse turns a raw RFC 822 owner reply into an InboundReply.
//
// Messages are read with go-message; when it rejects a malformed message a
// lenient line-based parser takes over so that hand-written or truncated
// replies still get through.
package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/models"
)

// ErrEmptyMessage is returned for an empty raw message.
var ErrEmptyMessage = errors.New("mailparse: empty message")

// Message is the subset of an email the relay needs.
type Message struct {
	From      string // raw From header
	Address   string // bare sender address
	Subject   string // decoded
	MessageID string
	Body      string // decoded first text/plain part, uncleaned
}

// Parse reads a raw email.
func Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	msg, err := parseMIME(raw)
	if err != nil {
		slog.Debug("strict MIME parse failed, using lenient parser", "error", err)
		msg = parseLenient(raw)
	}
	msg.Address = identity.ExtractEmailAddress(msg.From)
	return msg, nil
}

func parseMIME(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("create reader: %w", err)
	}
	defer mr.Close()

	msg := &Message{From: mr.Header.Get("From")}
	if msg.Subject, err = mr.Header.Subject(); err != nil {
		msg.Subject = mr.Header.Get("Subject")
	}
	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && (p == nil || !message.IsUnknownCharset(err)) {
			return nil, fmt.Errorf("read part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && !strings.EqualFold(ct, "text/plain") {
			continue
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read text part: %w", err)
		}
		msg.Body = string(b)
		break
	}

	return msg, nil
}

// Reply converts a parsed email into an InboundReply for ch.
//
// The session id comes from subject and body markers. When none is found
// and the body carries the literal LAST token, the reply is deferred to the
// most recent session.
func (m *Message) Reply(ch models.Channel, now time.Time) models.InboundReply {
	text := CleanReply(m.Body)
	r := models.InboundReply{
		Channel:        ch,
		SenderIdentity: m.Address,
		SenderKind:     models.SenderEmail,
		RawBody:        text,
		ReceivedAt:     now,
		SessionHint:    ExtractSessionID(m.Subject, m.Body),
		TransportID:    m.MessageID,
	}
	if r.SessionHint == "" && HasLastToken(m.Body) {
		r.DeferLast = true
		r.RawBody = StripLastToken(text)
	}
	return r
}
