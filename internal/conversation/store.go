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

// Package conversation provides the append-only conversation log shared by
// the chat, notification and owner-reply paths.
package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/deboucheur/chatrelay/internal/models"
)

// Store is the conversation log. Implementations must be safe for
// concurrent use, including concurrent appends to the same session.
type Store interface {
	// Append inserts a turn and returns its id. A zero Timestamp is
	// replaced by the server time.
	Append(ctx context.Context, turn models.Turn) (int64, error)

	// CountUserTurns returns the number of user turns in a session.
	CountUserTurns(ctx context.Context, sessionID string) (int, error)

	// MarkForwarded records which channels carried a notification for the
	// session. Flags are only ever set, never cleared.
	MarkForwarded(ctx context.Context, sessionID string, flags models.ForwardFlags) error

	// ListOwnerTurnsSince returns owner turns strictly newer than since
	// (all of them when since is nil) in ascending timestamp order.
	ListOwnerTurnsSince(ctx context.Context, sessionID string, since *time.Time) ([]models.Turn, error)

	// SessionExists reports whether any turn carries sessionID.
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// LatestUserSession returns the session of the most recent user turn
	// across all sessions, ties broken by insertion order. It returns ""
	// when there is none.
	LatestUserSession(ctx context.Context) (string, error)

	Ping(ctx context.Context) error
	Close()
}

// prepare fills server-side fields. Timestamps are kept at second
// precision so that a client echoing a formatted timestamp back as
// lastCheck does not see the same turn twice.
func prepare(turn models.Turn, now time.Time) models.Turn {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}
	turn.Timestamp = turn.Timestamp.Truncate(time.Second)
	turn.CreatedAt = now
	return turn
}

func sortTurns(turns []models.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if !turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].Timestamp.Before(turns[j].Timestamp)
		}
		return turns[i].ID < turns[j].ID
	})
}
