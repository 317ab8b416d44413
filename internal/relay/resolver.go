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

// Package relay routes owner replies from every inbound channel into the
// conversation they answer.
//
// Each reply goes through the same steps: sender authorization, reply
// parsing, session resolution, retry de-duplication and finally the store
// append. The outcome is returned as a status so that every surface can
// apply its own response policy.
package relay

import (
	"context"

	"github.com/deboucheur/chatrelay/internal/conversation"
)

// Resolver answers session questions against the conversation store.
type Resolver struct {
	store conversation.Store
}

// NewResolver creates a resolver over store.
func NewResolver(store conversation.Store) *Resolver {
	return &Resolver{store: store}
}

// Exists reports whether the store has any turn for sessionID.
func (r *Resolver) Exists(ctx context.Context, sessionID string) (bool, error) {
	return r.store.SessionExists(ctx, sessionID)
}

// ResolveLast returns the session of the most recent user turn, or "" when
// the store holds none.
func (r *Resolver) ResolveLast(ctx context.Context) (string, error) {
	return r.store.LatestUserSession(ctx)
}
