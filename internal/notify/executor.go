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

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deboucheur/chatrelay/internal/queue"
)

// Executor runs a notification outside the request that triggered it and
// reports what it knows about delivery when the caller must answer.
type Executor interface {
	Submit(ctx context.Context, ev Event) Result
}

// AsyncExecutor delivers in a goroutine that outlives the request. Submit
// waits at most budget for the outcome and reports false for channels that
// had not finished by then.
type AsyncExecutor struct {
	dispatcher *Dispatcher
	timeout    time.Duration
	budget     time.Duration
	wg         sync.WaitGroup
}

// NewAsyncExecutor creates an in-process executor. timeout bounds one
// delivery; budget bounds how long Submit blocks.
func NewAsyncExecutor(d *Dispatcher, timeout, budget time.Duration) *AsyncExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AsyncExecutor{dispatcher: d, timeout: timeout, budget: budget}
}

// Submit starts delivery of ev on every channel.
func (e *AsyncExecutor) Submit(ctx context.Context, ev Event) Result {
	done := make(chan Result, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		res, _ := e.dispatcher.Deliver(dctx, ev, AllChannels)
		done <- res
	}()

	if e.budget <= 0 {
		return Result{}
	}
	timer := time.NewTimer(e.budget)
	defer timer.Stop()
	select {
	case res := <-done:
		return res
	case <-timer.C:
		slog.Debug("notification still running after response budget", "session_id", ev.SessionID)
		return Result{}
	}
}

// Wait blocks until every started delivery has finished.
func (e *AsyncExecutor) Wait() {
	e.wg.Wait()
}

// QueueExecutor hands the notification to the Redis job queue. Delivery
// happens later in a worker, so Submit always reports false.
type QueueExecutor struct {
	pub *queue.Publisher
}

// NewQueueExecutor creates an executor publishing to pub.
func NewQueueExecutor(pub *queue.Publisher) *QueueExecutor {
	return &QueueExecutor{pub: pub}
}

// Submit enqueues ev for every channel.
func (e *QueueExecutor) Submit(ctx context.Context, ev Event) Result {
	if _, err := e.pub.Publish(ctx, AllChannels, ev); err != nil {
		slog.Error("failed to enqueue notification", "session_id", ev.SessionID, "error", err)
	}
	return Result{}
}
