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

// Package replyparse extracts a session id and message from an owner reply.
//
// Grammars are plain matcher functions tried in order; the first one that
// yields a non-empty message wins.
package replyparse

import (
	"regexp"
	"strings"
)

// Result is a successfully parsed reply.
type Result struct {
	SessionID string
	Message   string

	// Last is set when the owner asked to reply to the most recent session.
	// SessionID is empty in that case.
	Last bool
}

// Matcher tries one grammar against a trimmed body.
type Matcher func(body string) (Result, bool)

var (
	explicitRe = regexp.MustCompile(`(?is)^(?:REPLY|REP|R):?\s*([A-Za-z0-9_-]+)\s+(.+)$`)
	lastRe     = regexp.MustCompile(`(?is)^LAST\s+(.+)$`)
	bareRe     = regexp.MustCompile(`(?s)^([A-Za-z0-9_-]{8,}):?\s+(.+)$`)
)

// Explicit matches "REPLY:<id> message", also "R:" and "REP:" with or
// without the colon.
func Explicit(body string) (Result, bool) {
	m := explicitRe.FindStringSubmatch(body)
	if m == nil {
		return Result{}, false
	}
	msg := strings.TrimSpace(m[2])
	if msg == "" {
		return Result{}, false
	}
	return Result{SessionID: m[1], Message: msg}, true
}

// Last matches "LAST message".
func Last(body string) (Result, bool) {
	m := lastRe.FindStringSubmatch(body)
	if m == nil {
		return Result{}, false
	}
	msg := strings.TrimSpace(m[1])
	if msg == "" {
		return Result{}, false
	}
	return Result{Message: msg, Last: true}, true
}

// BareToken matches "<id> message" where the id is at least 8 id chars.
// SMS only: ordinary text starting with a long word also matches.
func BareToken(body string) (Result, bool) {
	m := bareRe.FindStringSubmatch(body)
	if m == nil {
		return Result{}, false
	}
	msg := strings.TrimSpace(m[2])
	if msg == "" {
		return Result{}, false
	}
	return Result{SessionID: m[1], Message: msg}, true
}

// Parser runs an ordered list of matchers.
type Parser struct {
	matchers []Matcher
}

// New returns a parser trying matchers in the given order.
func New(matchers ...Matcher) *Parser {
	return &Parser{matchers: matchers}
}

// ForSMS accepts the explicit, LAST and bare-token grammars.
func ForSMS() *Parser {
	return New(Explicit, Last, BareToken)
}

// ForEmail accepts the explicit and LAST grammars.
func ForEmail() *Parser {
	return New(Explicit, Last)
}

// Parse returns the first match for body. ok is false when no grammar
// matched; callers answer with channel-appropriate guidance.
func (p *Parser) Parse(body string) (res Result, ok bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Result{}, false
	}
	for _, match := range p.matchers {
		if res, ok := match(body); ok {
			return res, true
		}
	}
	return Result{}, false
}
