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

// Package queue carries notification jobs through a Redis list so that
// delivery can happen outside the HTTP request that triggered it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list jobs are pushed to.
const DefaultQueue = "relay:notifications"

// Job is one notification waiting for delivery. Channels lists the
// channels that still have to succeed; a retried job only carries the ones
// that failed.
type Job struct {
	ID         string          `json:"id"`
	Attempts   int             `json:"attempts"`
	Channels   []string        `json:"channels"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Publisher pushes jobs onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish serialises payload into a new job for the given channels.
func (p *Publisher) Publish(ctx context.Context, channels []string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	job := Job{
		ID:         uuid.New().String(),
		Channels:   channels,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.push(ctx, job); err != nil {
		return "", err
	}

	slog.Info("published notification job",
		"job_id", job.ID,
		"channels", channels,
		"queue", p.queueName,
	)
	return job.ID, nil
}

func (p *Publisher) push(ctx context.Context, job Job) error {
	msg, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	// Workers BRPOP, so LPUSH keeps the list FIFO.
	if err := p.rdb.LPush(ctx, p.queueName, msg).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
