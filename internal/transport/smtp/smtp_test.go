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

package smtp

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/deboucheur/chatrelay/internal/models"
)

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		security Security
		wantPort int
	}{
		{"", 465},
		{SecurityTLS, 465},
		{SecuritySTARTTLS, 587},
		{SecurityNone, 25},
	}
	for _, tt := range tests {
		s, err := New(Config{Host: "smtp.example.com", Username: "relay@example.com", Security: tt.security})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.cfg.Port != tt.wantPort {
			t.Errorf("security %q: port = %d, want %d", tt.security, s.cfg.Port, tt.wantPort)
		}
		if s.cfg.Timeout != 30*time.Second {
			t.Errorf("timeout = %v, want 30s", s.cfg.Timeout)
		}
		if s.cfg.FromAddr != "relay@example.com" {
			t.Errorf("from = %q, want username", s.cfg.FromAddr)
		}
	}
}

func TestNew_RequiresHost(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without host")
	}
}

func TestBuildMessage(t *testing.T) {
	s, err := New(Config{Host: "smtp.example.com", FromAddr: "relay@example.com", FromName: "Chat Relay"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m, err := s.buildMessage(models.OutboundEmail{
		To:      []string{"owner@example.com"},
		Subject: "REPLY:abc123",
		HTML:    "<p>hello</p>",
		Text:    "hello",
		Attachments: []models.Attachment{
			{Name: "transcript.txt", ContentType: "text/plain", Data: []byte("log")},
		},
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"owner@example.com",
		"relay@example.com",
		"REPLY:abc123",
		"multipart/alternative",
		"text/html",
		"transcript.txt",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestBuildMessage_RejectsBadRecipient(t *testing.T) {
	s, _ := New(Config{Host: "smtp.example.com", FromAddr: "relay@example.com"})
	if _, err := s.buildMessage(models.OutboundEmail{To: []string{"not an address"}, Text: "x"}); err == nil {
		t.Error("expected error for invalid recipient")
	}
}
