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

package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/deboucheur/chatrelay/internal/conversation"
	"github.com/deboucheur/chatrelay/internal/dedup"
	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/relay"
)

const ownerPhone = "+14385302343"

func newTestHandler(t *testing.T) (*Handler, *conversation.MemoryStore) {
	t.Helper()
	store := conversation.NewMemoryStore()
	router := relay.NewRouter(relay.RouterConfig{
		Store: store,
		Auth:  identity.NewAllowList([]string{ownerPhone}, nil),
		Seen:  dedup.NewMemory(time.Hour),
	})
	return NewHandler(router, TextsFor("fr")), store
}

func post(h *Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/sms-webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeWebhook(rr, req)
	return rr
}

func seedUser(t *testing.T, s conversation.Store, sessionID string) {
	t.Helper()
	if _, err := s.Append(context.Background(), models.Turn{SessionID: sessionID, Role: models.RoleUser, Content: "allo"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// TestServeWebhook_StoresReply verifies the happy path and the confirmation text.
func TestServeWebhook_StoresReply(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "abc123xyz")

	rr := post(h, url.Values{
		"From":       {"(438) 530-2343"},
		"Body":       {"REPLY:abc123xyz Je passe demain matin"},
		"MessageSid": {"SM1"},
	})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "✅ Réponse envoyée au client!") || !strings.Contains(body, "Session: abc123xy...") {
		t.Errorf("body = %q", body)
	}

	turns, _ := store.ListOwnerTurnsSince(context.Background(), "abc123xyz", nil)
	if len(turns) != 1 || turns[0].Content != "Je passe demain matin" || !turns[0].ForwardedSMS {
		t.Errorf("owner turns = %+v", turns)
	}
}

// TestServeWebhook_UnauthorizedGetsEmptyResponse verifies nothing leaks to strangers.
func TestServeWebhook_UnauthorizedGetsEmptyResponse(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "abc123xyz")

	rr := post(h, url.Values{"From": {"+15550001111"}, "Body": {"REPLY:abc123xyz hi"}})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "<Message>") {
		t.Errorf("unauthorized sender got a message: %q", rr.Body.String())
	}
	if turns, _ := store.ListOwnerTurnsSince(context.Background(), "abc123xyz", nil); len(turns) != 0 {
		t.Errorf("stored %d turns for unauthorized sender", len(turns))
	}
}

// TestServeWebhook_NoSessionListsLatestChat verifies the usage reply.
func TestServeWebhook_NoSessionListsLatestChat(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "latest-session")

	rr := post(h, url.Values{"From": {ownerPhone}, "Body": {"ok"}})

	body := rr.Body.String()
	if !strings.Contains(body, "Format: REPLY:sessionId votre message") {
		t.Errorf("missing usage: %q", body)
	}
	if !strings.Contains(body, "Dernier chat: latest-session") {
		t.Errorf("missing latest chat: %q", body)
	}
}

// TestServeWebhook_SessionNotFound verifies the not-found reply.
func TestServeWebhook_SessionNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := post(h, url.Values{"From": {ownerPhone}, "Body": {"REPLY:ghost123 hello"}})

	if !strings.Contains(rr.Body.String(), "❌ Session non trouvée: ghost123") {
		t.Errorf("body = %q", rr.Body.String())
	}
}

// TestServeWebhook_RetryIsIgnored verifies a repeated MessageSid stores once.
func TestServeWebhook_RetryIsIgnored(t *testing.T) {
	h, store := newTestHandler(t)
	seedUser(t, store, "abc123xyz")
	form := url.Values{"From": {ownerPhone}, "Body": {"REPLY:abc123xyz hi"}, "MessageSid": {"SM9"}}

	post(h, form)
	rr := post(h, form)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if turns, _ := store.ListOwnerTurnsSince(context.Background(), "abc123xyz", nil); len(turns) != 1 {
		t.Errorf("owner turns = %d, want 1", len(turns))
	}
}

type stubRouter struct{ out relay.Outcome }

func (s stubRouter) Route(context.Context, models.InboundReply) relay.Outcome { return s.out }

// TestServeWebhook_FailureStill200 verifies storage errors never reach the gateway.
func TestServeWebhook_FailureStill200(t *testing.T) {
	h := NewHandler(stubRouter{out: relay.Outcome{Status: relay.StatusFailed, Err: errors.New("db down")}}, TextsFor("en"))

	rr := post(h, url.Values{"From": {ownerPhone}, "Body": {"REPLY:x hi"}})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "db down") {
		t.Error("internal error leaked to the sender")
	}
}

// TestServeStatus verifies the delivery callback answers OK.
func TestServeStatus(t *testing.T) {
	h := NewHandler(stubRouter{}, TextsFor("fr"))
	req := httptest.NewRequest(http.MethodPost, "/api/sms-status", strings.NewReader("MessageSid=SM1&MessageStatus=delivered"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	h.ServeStatus(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}
