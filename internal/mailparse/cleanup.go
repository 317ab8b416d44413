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

package mailparse

import (
	"regexp"
	"strings"
)

var cleanupSteps = []struct {
	re   *regexp.Regexp
	repl string
}{
	// quoted text
	{regexp.MustCompile(`(?m)^>.*$`), ""},
	// attribution line closing the reply, possibly wrapped once
	{regexp.MustCompile(`(?m)^On [^\n]+(?:\n[^\n>][^\n]*)?\swrote:\s*\z`), ""},
	{regexp.MustCompile(`(?m)^Le [^\n]+(?:\n[^\n>][^\n]*)?\sa écrit\s*:\s*\z`), ""},
	// forwarded originals
	{regexp.MustCompile(`(?is)-----\s*Original Message\s*-----.*\z`), ""},
	{regexp.MustCompile(`(?is)-----\s*Message original\s*-----.*\z`), ""},
	// reply token left in the body
	{regexp.MustCompile(`(?im)^(?:REPLY|R):[ \t]*[A-Za-z0-9_-]+[ \t]*`), ""},
	// signature
	{regexp.MustCompile(`(?ms)^--[ \t]*$.*`), ""},
}

// CleanReply removes quoted text, attributions, forwarded originals, reply
// tokens and signatures from an email body, then trims it.
func CleanReply(body string) string {
	body = normalizeNewlines(body)
	for _, step := range cleanupSteps {
		body = step.re.ReplaceAllString(body, step.repl)
	}
	return strings.TrimSpace(body)
}

var (
	subjectSessionRe = regexp.MustCompile(`(?i)\[Session:\s*([A-Za-z0-9_-]+)\]`)
	bodyTokenRe      = regexp.MustCompile(`(?im)^(?:REPLY|R):[ \t]*([A-Za-z0-9_-]+)`)
	subjectReplyRe   = regexp.MustCompile(`(?i)REPLY:\s*([A-Za-z0-9_-]+)`)
	lastTokenRe      = regexp.MustCompile(`\bLAST\b`)
	leadingLastRe    = regexp.MustCompile(`\A\s*LAST\b\s*`)
)

// ExtractSessionID looks for a session id in, in order: a "[Session: id]"
// marker in the subject, the same marker in the body, a REPLY:/R: token at
// the start of a body line, and a REPLY:id token anywhere in the subject.
func ExtractSessionID(subject, body string) string {
	if m := subjectSessionRe.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	if m := subjectSessionRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	if m := bodyTokenRe.FindStringSubmatch(normalizeNewlines(body)); m != nil {
		return m[1]
	}
	if m := subjectReplyRe.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	return ""
}

// HasLastToken reports whether body contains the literal LAST token.
func HasLastToken(body string) bool {
	return lastTokenRe.MatchString(body)
}

// StripLastToken drops a leading LAST token from a cleaned reply.
func StripLastToken(text string) string {
	return leadingLastRe.ReplaceAllString(text, "")
}
