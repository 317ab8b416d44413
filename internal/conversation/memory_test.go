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

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deboucheur/chatrelay/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStore_OwnerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	t0 := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	if _, err := s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleUser, Content: "hi", Timestamp: t0}); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	ownerID, err := s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleOwner, Content: "on arrive", Timestamp: t0.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("Append owner: %v", err)
	}

	between := t0.Add(time.Minute)
	got, err := s.ListOwnerTurnsSince(ctx, "s1", &between)
	if err != nil {
		t.Fatalf("ListOwnerTurnsSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != ownerID || got[0].Content != "on arrive" {
		t.Fatalf("got %+v, want exactly the owner turn", got)
	}

	// lastCheck equal to the owner timestamp is not strictly newer
	at := t0.Add(2 * time.Minute)
	got, _ = s.ListOwnerTurnsSince(ctx, "s1", &at)
	if len(got) != 0 {
		t.Errorf("got %d turns for lastCheck == timestamp, want 0", len(got))
	}
}

func TestMemoryStore_ListAscendingByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	// inserted out of clock order
	s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleOwner, Content: "second", Timestamp: base.Add(time.Minute)})
	s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleOwner, Content: "first", Timestamp: base})
	s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleOwner, Content: "third", Timestamp: base.Add(time.Minute)})
	s.Append(ctx, models.Turn{SessionID: "s2", Role: models.RoleOwner, Content: "other", Timestamp: base})

	got, err := s.ListOwnerTurnsSince(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("ListOwnerTurnsSince: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %d turns, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("turn %d = %q, want %q", i, got[i].Content, w)
		}
	}
}

func TestMemoryStore_DefaultsAndTruncation(t *testing.T) {
	now := time.Date(2025, 3, 3, 10, 0, 0, 750_000_000, time.UTC)
	s := NewMemoryStore()
	s.now = fixedClock(now)

	s.Append(context.Background(), models.Turn{SessionID: "s1", Role: models.RoleOwner, Content: "x"})
	got, _ := s.ListOwnerTurnsSince(context.Background(), "s1", nil)
	if len(got) != 1 {
		t.Fatalf("got %d turns, want 1", len(got))
	}
	if want := now.Truncate(time.Second); !got[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, want)
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, now)
	}
}

func TestMemoryStore_CountExistsLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if id, _ := s.LatestUserSession(ctx); id != "" {
		t.Errorf("LatestUserSession on empty store = %q, want empty", id)
	}

	ts := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	s.Append(ctx, models.Turn{SessionID: "a", Role: models.RoleUser, Timestamp: ts})
	s.Append(ctx, models.Turn{SessionID: "a", Role: models.RoleAssistant, Timestamp: ts})
	s.Append(ctx, models.Turn{SessionID: "b", Role: models.RoleUser, Timestamp: ts})
	s.Append(ctx, models.Turn{SessionID: "a", Role: models.RoleUser, Timestamp: ts.Add(-time.Hour)})
	s.Append(ctx, models.Turn{SessionID: "c", Role: models.RoleOwner, Timestamp: ts.Add(time.Hour)})

	if n, _ := s.CountUserTurns(ctx, "a"); n != 2 {
		t.Errorf("CountUserTurns(a) = %d, want 2", n)
	}
	if ok, _ := s.SessionExists(ctx, "c"); !ok {
		t.Error("SessionExists(c) = false, want true")
	}
	if ok, _ := s.SessionExists(ctx, "zzz"); ok {
		t.Error("SessionExists(zzz) = true, want false")
	}
	// "a" and "b" tie on timestamp; "b" was inserted later
	if id, _ := s.LatestUserSession(ctx); id != "b" {
		t.Errorf("LatestUserSession = %q, want b", id)
	}
}

func TestMemoryStore_MarkForwarded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleOwner})

	s.MarkForwarded(ctx, "s1", models.ForwardFlags{SMS: true})
	s.MarkForwarded(ctx, "s1", models.ForwardFlags{Email: true})

	got, _ := s.ListOwnerTurnsSince(ctx, "s1", nil)
	if !got[0].ForwardedEmail || !got[0].ForwardedSMS {
		t.Errorf("flags = email:%v sms:%v, want both set", got[0].ForwardedEmail, got[0].ForwardedSMS)
	}
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(ctx, models.Turn{SessionID: "s1", Role: models.RoleUser})
		}()
	}
	wg.Wait()

	if n, _ := s.CountUserTurns(ctx, "s1"); n != 50 {
		t.Errorf("CountUserTurns = %d, want 50", n)
	}
}
