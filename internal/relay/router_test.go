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

package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deboucheur/chatrelay/internal/conversation"
	"github.com/deboucheur/chatrelay/internal/dedup"
	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/models"
)

const ownerPhone = "+14385302343"

// failingStore fails every Append but answers reads from the wrapped store.
type failingStore struct {
	*conversation.MemoryStore
}

func (f failingStore) Append(context.Context, models.Turn) (int64, error) {
	return 0, errors.New("disk full")
}

func newTestRouter(t *testing.T, store conversation.Store) *Router {
	t.Helper()
	return NewRouter(RouterConfig{
		Store: store,
		Auth:  identity.NewAllowList([]string{ownerPhone}, []string{"owner@example.com"}),
		Seen:  dedup.NewMemory(time.Hour),
	})
}

func seed(t *testing.T, s conversation.Store, sessionID string, at time.Time) {
	t.Helper()
	if _, err := s.Append(context.Background(), models.Turn{SessionID: sessionID, Role: models.RoleUser, Content: "hi", Timestamp: at}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func ownerTurns(t *testing.T, s conversation.Store, sessionID string) []models.Turn {
	t.Helper()
	turns, err := s.ListOwnerTurnsSince(context.Background(), sessionID, nil)
	if err != nil {
		t.Fatalf("ListOwnerTurnsSince: %v", err)
	}
	return turns
}

func sms(from, body, sid string) models.InboundReply {
	return models.InboundReply{
		Channel:        models.ChannelSMS,
		SenderIdentity: from,
		SenderKind:     models.SenderPhone,
		RawBody:        body,
		ReceivedAt:     time.Now(),
		TransportID:    sid,
	}
}

func TestRoute_UnauthorizedSMSStoresNothing(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "abc123", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), sms("+15550000000", "REPLY:abc123 hello", "SM1"))
	if out.Status != StatusUnauthorized {
		t.Fatalf("Status = %s, want %s", out.Status, StatusUnauthorized)
	}
	if got := ownerTurns(t, store, "abc123"); len(got) != 0 {
		t.Errorf("stored %d owner turns, want 0", len(got))
	}
}

func TestRoute_ExplicitSMSReply(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "abc123", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), sms(ownerPhone, "REPLY:abc123   on arrive  ", "SM1"))
	if out.Status != StatusStored || out.SessionID != "abc123" {
		t.Fatalf("outcome = %+v, want stored into abc123", out)
	}

	got := ownerTurns(t, store, "abc123")
	if len(got) != 1 {
		t.Fatalf("stored %d owner turns, want 1", len(got))
	}
	if got[0].Content != "on arrive" {
		t.Errorf("Content = %q, want %q", got[0].Content, "on arrive")
	}
	if !got[0].ForwardedSMS || got[0].ForwardedEmail {
		t.Errorf("forward flags = email:%v sms:%v, want sms only", got[0].ForwardedEmail, got[0].ForwardedSMS)
	}
	if got[0].ID != out.TurnID {
		t.Errorf("TurnID = %d, stored id %d", out.TurnID, got[0].ID)
	}
}

func TestRoute_NoSessionOffersLatest(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "older", time.Now().Add(-time.Hour))
	seed(t, store, "newest", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), sms(ownerPhone, "ok", "SM1"))
	if out.Status != StatusNoSession {
		t.Fatalf("Status = %s, want %s", out.Status, StatusNoSession)
	}
	if out.LastSession != "newest" {
		t.Errorf("LastSession = %q, want newest", out.LastSession)
	}
}

func TestRoute_LastRepliesToLatestSession(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "older", time.Now().Add(-time.Hour))
	seed(t, store, "newest", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), sms(ownerPhone, "LAST on arrive", "SM1"))
	if out.Status != StatusStored || out.SessionID != "newest" {
		t.Fatalf("outcome = %+v, want stored into newest", out)
	}
}

func TestRoute_LastOnEmptyStore(t *testing.T) {
	r := newTestRouter(t, conversation.NewMemoryStore())

	out := r.Route(context.Background(), sms(ownerPhone, "LAST on arrive", "SM1"))
	if out.Status != StatusNoSession {
		t.Errorf("Status = %s, want %s", out.Status, StatusNoSession)
	}
}

func TestRoute_SessionNotFound(t *testing.T) {
	store := conversation.NewMemoryStore()
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), sms(ownerPhone, "REPLY:ghost123 hello", "SM1"))
	if out.Status != StatusSessionNotFound || out.SessionID != "ghost123" {
		t.Errorf("outcome = %+v, want session_not_found for ghost123", out)
	}
}

func TestRoute_DuplicateTransportID(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "abc123", time.Now())
	r := newTestRouter(t, store)

	first := r.Route(context.Background(), sms(ownerPhone, "REPLY:abc123 hello", "SM1"))
	retry := r.Route(context.Background(), sms(ownerPhone, "REPLY:abc123 hello", "SM1"))
	if first.Status != StatusStored || retry.Status != StatusDuplicate {
		t.Fatalf("statuses = %s, %s, want stored then duplicate", first.Status, retry.Status)
	}

	// the same id on another channel is not a duplicate
	email := models.InboundReply{
		Channel:        models.ChannelEmailPush,
		SenderIdentity: "owner@example.com",
		SenderKind:     models.SenderEmail,
		RawBody:        "hello again",
		SessionHint:    "abc123",
		TransportID:    "SM1",
	}
	if out := r.Route(context.Background(), email); out.Status != StatusStored {
		t.Errorf("email Status = %s, want stored", out.Status)
	}
	if got := ownerTurns(t, store, "abc123"); len(got) != 2 {
		t.Errorf("stored %d owner turns, want 2", len(got))
	}
}

func TestRoute_EmailHintAndDeferLast(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "s-email", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), models.InboundReply{
		Channel:        models.ChannelEmailPoll,
		SenderIdentity: "OWNER@example.com",
		SenderKind:     models.SenderEmail,
		RawBody:        "C'est noté",
		DeferLast:      true,
	})
	if out.Status != StatusStored || out.SessionID != "s-email" {
		t.Fatalf("outcome = %+v, want stored into s-email", out)
	}
	got := ownerTurns(t, store, "s-email")
	if len(got) != 1 || !got[0].ForwardedEmail {
		t.Errorf("turns = %+v, want one email-forwarded turn", got)
	}
}

func TestRoute_EmptyMessage(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "s1", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), models.InboundReply{
		Channel:        models.ChannelEmailPush,
		SenderIdentity: "owner@example.com",
		SenderKind:     models.SenderEmail,
		RawBody:        "   ",
		SessionHint:    "s1",
	})
	if out.Status != StatusEmptyMessage {
		t.Errorf("Status = %s, want %s", out.Status, StatusEmptyMessage)
	}
}

func TestRoute_DirectWithoutIdentity(t *testing.T) {
	store := conversation.NewMemoryStore()
	seed(t, store, "s1", time.Now())
	r := newTestRouter(t, store)

	out := r.Route(context.Background(), models.InboundReply{
		Channel:     models.ChannelDirect,
		SenderKind:  models.SenderNone,
		RawBody:     "Bonjour",
		SessionHint: "s1",
		Sender:      "Billy",
	})
	if out.Status != StatusStored {
		t.Fatalf("Status = %s, want stored", out.Status)
	}
	if got := ownerTurns(t, store, "s1"); got[0].Author != "Billy" {
		t.Errorf("Author = %q, want Billy", got[0].Author)
	}
}

func TestRoute_StoreFailureReleasesDedupKey(t *testing.T) {
	mem := conversation.NewMemoryStore()
	seed(t, mem, "abc123", time.Now())
	seen := dedup.NewMemory(time.Hour)
	r := NewRouter(RouterConfig{
		Store: failingStore{mem},
		Auth:  identity.NewAllowList([]string{ownerPhone}, nil),
		Seen:  seen,
	})

	out := r.Route(context.Background(), sms(ownerPhone, "REPLY:abc123 hello", "SM9"))
	if out.Status != StatusFailed || out.Err == nil {
		t.Fatalf("outcome = %+v, want failed with error", out)
	}
	if ok, _ := seen.IsNew(context.Background(), "sms:SM9"); !ok {
		t.Error("dedup key should have been released after the failed append")
	}
}
