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

// Package notify tells the business owner about new chat activity by email
// and SMS.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultEvery is the cadence threshold N: the owner hears about the first
// user message of a session and then about every Nth one.
const DefaultEvery = 5

// ShouldNotify reports whether a session with count user turns warrants a
// notification.
func ShouldNotify(count, every int) bool {
	if every <= 0 {
		every = DefaultEvery
	}
	return count == 1 || (count > 0 && count%every == 0)
}

// Event is one user/assistant exchange to tell the owner about.
type Event struct {
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	PageURL     string    `json:"page_url,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	UserTurns   int       `json:"user_turns"`
}

// Locale holds the owner-facing notification texts.
type Locale struct {
	SMSHeader      string
	SMSReplyHint   string
	SMSReplySuffix string
	EmailSubject   string
	EmailTitle     string
	UserLabel      string
	AIResponse     string
	ReplyByEmail   string
	ReplyEmailHint string
	ReplyBySMS     string
	ReplySMSHint   string
	Footer         string
}

// Locales by language code.
var Locales = map[string]Locale{
	"fr": {
		SMSHeader:      "💬 Nouveau chat Déboucheur",
		SMSReplyHint:   "📱 Pour répondre:",
		SMSReplySuffix: "Votre message",
		EmailSubject:   "💬 Nouveau chat client",
		EmailTitle:     "💬 Nouveau Message Chat",
		UserLabel:      "👤 Message du client:",
		AIResponse:     "🤖 Réponse IA:",
		ReplyByEmail:   "📧 Pour répondre par email:",
		ReplyEmailHint: "Répondez à cet email en gardant le sujet",
		ReplyBySMS:     "📱 Pour répondre par SMS:",
		ReplySMSHint:   "Envoyez:",
		Footer:         "Délai de réponse recommandé: 0-12 heures",
	},
	"en": {
		SMSHeader:      "💬 New Déboucheur chat",
		SMSReplyHint:   "📱 To reply:",
		SMSReplySuffix: "Your message",
		EmailSubject:   "💬 New customer chat",
		EmailTitle:     "💬 New Chat Message",
		UserLabel:      "👤 Customer message:",
		AIResponse:     "🤖 AI response:",
		ReplyByEmail:   "📧 To reply by email:",
		ReplyEmailHint: "Reply to this email keeping the subject",
		ReplyBySMS:     "📱 To reply by SMS:",
		ReplySMSHint:   "Send:",
		Footer:         "Recommended response time: 0-12 hours",
	},
}

// LocaleFor returns the texts for lang, falling back to French.
func LocaleFor(lang string) Locale {
	if l, ok := Locales[strings.ToLower(lang)]; ok {
		return l
	}
	return Locales["fr"]
}

// Composer renders notification content.
type Composer struct {
	locale   Locale
	location *time.Location
	brand    string
}

// NewComposer creates a composer. loc controls the displayed times.
func NewComposer(locale Locale, loc *time.Location, brand string) *Composer {
	if loc == nil {
		loc = time.UTC
	}
	return &Composer{locale: locale, location: loc, brand: brand}
}

// SMSBody renders the short owner SMS.
func (c *Composer) SMSBody(ev Event) string {
	var b strings.Builder
	b.WriteString(c.locale.SMSHeader + "\n")
	b.WriteString("📅 " + ev.Timestamp.In(c.location).Format("15:04 02/01") + "\n")
	b.WriteString("👤 " + truncateRunes(ev.UserMessage, 80) + "...\n")
	b.WriteString("🤖 " + truncateRunes(ev.AIResponse, 60) + "...\n")
	b.WriteString(c.locale.SMSReplyHint + "\n")
	b.WriteString("REPLY:" + ev.SessionID + " " + c.locale.SMSReplySuffix)
	return b.String()
}

// EmailSubject carries both session markers the reply parsers look for.
func (c *Composer) EmailSubject(ev Event) string {
	return fmt.Sprintf("%s - REPLY:%s [Session: %s]", c.locale.EmailSubject, ev.SessionID, ev.SessionID)
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
    body { font-family: Arial, sans-serif; background: #f9fafb; margin: 0; padding: 20px; }
    .container { max-width: 600px; margin: 0 auto; background: #fff; border-radius: 12px; overflow: hidden; }
    .header { background: #2563EB; color: #fff; padding: 20px; }
    .content { padding: 20px; }
    .info { background: #f3f4f6; padding: 12px; border-radius: 8px; margin-bottom: 16px; font-size: 14px; }
    .message-box { border-radius: 8px; padding: 12px; margin-bottom: 12px; white-space: pre-wrap; }
    .user-msg { background: #e0f2fe; border-left: 4px solid #2563EB; }
    .ai-msg { background: #f0fdf4; border-left: 4px solid #22c55e; }
    .label { font-weight: bold; color: #6b7280; font-size: 12px; text-transform: uppercase; margin-bottom: 6px; }
    .reply-box { background: #fef3c7; padding: 16px; border-radius: 8px; text-align: center; margin-top: 20px; }
    .footer { background: #1f2937; color: #9ca3af; padding: 16px; text-align: center; font-size: 12px; }
</style>
</head>
<body>
<div class="container">
    <div class="header"><h1>{{.L.EmailTitle}}</h1></div>
    <div class="content">
        <div class="info">
            <p><strong>Session:</strong> {{.Event.SessionID}}</p>
            <p><strong>Date:</strong> {{.When}}</p>
            {{if .Event.PageURL}}<p><strong>Page:</strong> {{.Event.PageURL}}</p>{{end}}
        </div>
        <div class="label">{{.L.UserLabel}}</div>
        <div class="message-box user-msg">{{.Event.UserMessage}}</div>
        <div class="label">{{.L.AIResponse}}</div>
        <div class="message-box ai-msg">{{.Event.AIResponse}}</div>
        <div class="reply-box">
            <p><strong>{{.L.ReplyByEmail}}</strong></p>
            <p>{{.L.ReplyEmailHint}} <code>REPLY:{{.Event.SessionID}}</code></p>
            <p><strong>{{.L.ReplyBySMS}}</strong></p>
            <p>{{.L.ReplySMSHint}} <code>REPLY:{{.Event.SessionID}} {{.L.SMSReplySuffix}}</code></p>
        </div>
    </div>
    <div class="footer">
        <p>{{.Brand}}</p>
        <p>{{.L.Footer}}</p>
    </div>
</div>
</body>
</html>
`))

// EmailHTML renders the notification email. User and AI text is escaped by
// the template.
func (c *Composer) EmailHTML(ev Event) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		L     Locale
		Event Event
		When  string
		Brand string
	}{
		L:     c.locale,
		Event: ev,
		When:  ev.Timestamp.In(c.location).Format("2006-01-02 15:04:05"),
		Brand: c.brand,
	})
	if err != nil {
		return "", fmt.Errorf("render notification email: %w", err)
	}
	return buf.String(), nil
}

// EmailText is the plain-text alternative of EmailHTML.
func (c *Composer) EmailText(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", ev.SessionID)
	fmt.Fprintf(&b, "Date: %s\n", ev.Timestamp.In(c.location).Format("2006-01-02 15:04:05"))
	if ev.PageURL != "" {
		fmt.Fprintf(&b, "Page: %s\n", ev.PageURL)
	}
	fmt.Fprintf(&b, "\n%s\n%s\n\n%s\n%s\n\n", c.locale.UserLabel, ev.UserMessage, c.locale.AIResponse, ev.AIResponse)
	fmt.Fprintf(&b, "%s REPLY:%s %s\n", c.locale.ReplySMSHint, ev.SessionID, c.locale.SMSReplySuffix)
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
