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

// Package dedup remembers transport message ids for a while so that gateway
// retries of the same owner reply are stored only once.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen message id.
	// SMS gateways give up retrying well within an hour.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "relay:seen:"
)

// Checker reports whether an id is seen for the first time.
type Checker interface {
	IsNew(ctx context.Context, id string) (bool, error)
	// Forget releases an id so that a retry is processed again.
	Forget(ctx context.Context, id string) error
}

// Filter checks message ids against a Redis SET NX key with TTL.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a Redis-backed filter. A zero ttl means DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsNew returns true if id has not been seen within the TTL window.
func (f *Filter) IsNew(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, id)

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

func (f *Filter) Forget(ctx context.Context, id string) error {
	if err := f.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Memory is a process-local Checker for single-instance deployments.
type Memory struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
	sweep time.Time
}

// NewMemory creates an in-process filter. A zero ttl means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (m *Memory) IsNew(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.sweep) >= m.ttl {
		for k, t := range m.seen {
			if now.Sub(t) >= m.ttl {
				delete(m.seen, k)
			}
		}
		m.sweep = now
	}

	if t, ok := m.seen[id]; ok && now.Sub(t) < m.ttl {
		return false, nil
	}
	m.seen[id] = now
	return true, nil
}

func (m *Memory) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.seen, id)
	m.mu.Unlock()
	return nil
}
