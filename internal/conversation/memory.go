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
	"time"

	"github.com/deboucheur/chatrelay/internal/models"
)

// MemoryStore keeps the log in process memory. Used for development and
// tests; contents are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	turns  []models.Turn
	nextID int64
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Append(_ context.Context, turn models.Turn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn = prepare(turn, s.now())
	s.nextID++
	turn.ID = s.nextID
	s.turns = append(s.turns, turn)
	return turn.ID, nil
}

func (s *MemoryStore) CountUserTurns(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.turns {
		if t.SessionID == sessionID && t.Role == models.RoleUser {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkForwarded(_ context.Context, sessionID string, flags models.ForwardFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.turns {
		if s.turns[i].SessionID != sessionID {
			continue
		}
		s.turns[i].ForwardedEmail = s.turns[i].ForwardedEmail || flags.Email
		s.turns[i].ForwardedSMS = s.turns[i].ForwardedSMS || flags.SMS
	}
	return nil
}

func (s *MemoryStore) ListOwnerTurnsSince(_ context.Context, sessionID string, since *time.Time) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Turn
	for _, t := range s.turns {
		if t.SessionID != sessionID || t.Role != models.RoleOwner {
			continue
		}
		if since != nil && !t.Timestamp.After(*since) {
			continue
		}
		out = append(out, t)
	}
	sortTurns(out)
	return out, nil
}

func (s *MemoryStore) SessionExists(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.turns {
		if t.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) LatestUserSession(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Turn
	for i := range s.turns {
		t := &s.turns[i]
		if t.Role != models.RoleUser {
			continue
		}
		// turns are in insertion order, so >= keeps the later of two ties
		if latest == nil || !t.Timestamp.Before(latest.Timestamp) {
			latest = t
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.SessionID, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}
