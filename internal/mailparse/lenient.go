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
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// header holds the first occurrence of each header, keyed by lower-case name.
type header map[string]string

func (h header) get(key string) string {
	return h[strings.ToLower(key)]
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// parseLenient splits a message by hand: headers up to the first blank
// line (with folded continuation lines), then the body. It never fails.
func parseLenient(raw []byte) *Message {
	head, body, _ := strings.Cut(normalizeNewlines(string(raw)), "\n\n")
	h := parseHeaders(head)

	return &Message{
		From:      h.get("From"),
		Subject:   decodeHeader(h.get("Subject")),
		MessageID: strings.Trim(h.get("Message-ID"), "<> "),
		Body:      extractText(h, body),
	}
}

func parseHeaders(block string) header {
	h := header{}
	key := ""
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if key != "" {
				h[key] += " " + strings.TrimSpace(line)
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			key = ""
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if _, seen := h[name]; seen {
			key = ""
			continue
		}
		key = name
		h[key] = strings.TrimSpace(value)
	}
	return h
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// decodeHeader decodes RFC 2047 encoded words ("=?utf-8?B?...?=",
// "=?iso-8859-1?Q?...?="). Undecodable input is returned unchanged.
func decodeHeader(v string) string {
	if v == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// extractText returns the first text/plain part of body, or the whole body
// when the message is not multipart.
func extractText(h header, body string) string {
	mediaType, params, err := mime.ParseMediaType(h.get("Content-Type"))
	if err != nil {
		return decodeBody(body, h.get("Content-Transfer-Encoding"), "")
	}
	if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		return textFromMultipart(body, params["boundary"])
	}
	if mediaType != "text/plain" {
		return ""
	}
	return decodeBody(body, h.get("Content-Transfer-Encoding"), params["charset"])
}

func textFromMultipart(body, boundary string) string {
	parts := strings.Split(body, "--"+boundary)
	// parts[0] is the preamble
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "--") {
			break
		}
		part = strings.TrimPrefix(part, "\n")
		head, content, _ := strings.Cut(part, "\n\n")
		if text := extractText(parseHeaders(head), content); text != "" {
			return text
		}
	}
	return ""
}

func decodeBody(body, transferEncoding, charset string) string {
	text := body
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		if b, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body))); err == nil {
			text = string(b)
		}
	case "base64":
		compact := strings.Join(strings.Fields(body), "")
		if b, err := base64.StdEncoding.DecodeString(compact); err == nil {
			text = string(b)
		} else if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "=")); err == nil {
			text = string(b)
		}
	}

	if cs := strings.ToLower(strings.TrimSpace(charset)); cs != "" && cs != "utf-8" && cs != "us-ascii" {
		if enc, err := htmlindex.Get(cs); err == nil {
			if s, err := enc.NewDecoder().String(text); err == nil {
				text = s
			}
		}
	}
	return text
}
