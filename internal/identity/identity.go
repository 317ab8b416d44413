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

// Package identity normalizes owner identities and checks them against the
// configured allow-list.
package identity

import (
	"log/slog"
	"net/mail"
	"regexp"
	"strings"

	"github.com/deboucheur/chatrelay/internal/models"
)

var phoneNoise = strings.NewReplacer(" ", "", "\t", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone converts a phone number to E.164 where its shape allows it.
//
//   - "4385302343"   → "+14385302343" (North-American, no country code)
//   - "14385302343"  → "+14385302343"
//   - "+14385302343" → unchanged
//
// Anything else is returned with punctuation stripped but no prefix, so it
// will not match the allow-list.
func NormalizePhone(raw string) string {
	p := phoneNoise.Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(p, "+") {
		return p
	}
	if !allDigits(p) {
		return p
	}
	switch {
	case len(p) == 10:
		return "+1" + p
	case len(p) == 11 && p[0] == '1':
		return "+" + p
	}
	return p
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var angleAddr = regexp.MustCompile(`<([^<>@\s]+@[^<>\s]+)>`)
var bareAddr = regexp.MustCompile(`[^\s<>"',;]+@[^\s<>"',;]+`)

// ExtractEmailAddress returns the bare address from a From-style header
// value such as `"Jane" <jane@example.com>`. It returns "" when no address
// is present.
func ExtractEmailAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	if m := angleAddr.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return bareAddr.FindString(raw)
}

// AllowList is the immutable set of owner contacts allowed to reply.
type AllowList struct {
	phones map[string]struct{}
	emails map[string]struct{}
}

// NewAllowList builds an allow-list. Phones are normalized once here;
// emails are compared case-insensitively.
func NewAllowList(phones, emails []string) *AllowList {
	a := &AllowList{
		phones: make(map[string]struct{}, len(phones)),
		emails: make(map[string]struct{}, len(emails)),
	}
	for _, p := range phones {
		if p = NormalizePhone(p); p != "" {
			a.phones[p] = struct{}{}
		}
	}
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	return a
}

// Authorize reports whether identity may reply. Phones must already be in
// E.164 form; no normalization is re-applied.
func (a *AllowList) Authorize(identity string, kind models.SenderKind) bool {
	ok := false
	switch kind {
	case models.SenderPhone:
		_, ok = a.phones[identity]
	case models.SenderEmail:
		_, ok = a.emails[strings.ToLower(strings.TrimSpace(identity))]
	}
	if !ok {
		slog.Warn("unauthorized reply attempt",
			"identity", identity,
			"kind", kind,
		)
	}
	return ok
}

// Size returns the number of configured contacts.
func (a *AllowList) Size() int {
	return len(a.phones) + len(a.emails)
}
