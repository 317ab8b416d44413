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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deboucheur/chatrelay/internal/metrics"
)

// Handler delivers a job and returns the channels that failed.
type Handler func(ctx context.Context, job Job) (failed []string, err error)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	MaxAttempts int           // total deliveries per job, default 3
	PopTimeout  time.Duration // BRPOP block time, default 5s
	JobTimeout  time.Duration // per-job deadline, default 60s
	Metrics     *metrics.Metrics
}

// Worker pops jobs off the queue and re-enqueues the failed part of a job
// until it runs out of attempts.
type Worker struct {
	pub     *Publisher
	handler Handler
	cfg     WorkerConfig
}

// NewWorker creates a worker consuming the publisher's queue.
func NewWorker(pub *Publisher, handler Handler, cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 60 * time.Second
	}
	return &Worker{pub: pub, handler: handler, cfg: cfg}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("notification worker started", "queue", w.pub.queueName, "max_attempts", w.cfg.MaxAttempts)
	for {
		if ctx.Err() != nil {
			slog.Info("notification worker stopped")
			return
		}
		if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			slog.Error("notification worker error", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne waits for one job and handles it. It reports false when the
// pop timed out without a job.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	res, err := w.pub.rdb.BRPop(ctx, w.cfg.PopTimeout, w.pub.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// BRPOP answers [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		slog.Error("dropping malformed job", "error", err)
		w.count("malformed")
		return true, nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	job.Attempts++
	failed, err := w.handler(jobCtx, job)
	if err != nil {
		slog.Error("job handler failed", "job_id", job.ID, "attempt", job.Attempts, "error", err)
		failed = job.Channels
	}
	if len(failed) == 0 {
		w.count("done")
		return true, nil
	}

	if job.Attempts >= w.cfg.MaxAttempts {
		slog.Error("giving up on notification job",
			"job_id", job.ID,
			"attempts", job.Attempts,
			"failed_channels", failed,
		)
		w.count("exhausted")
		return true, nil
	}

	job.Channels = failed
	if err := w.pub.push(ctx, job); err != nil {
		w.count("lost")
		return true, err
	}
	slog.Warn("notification job re-enqueued",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"channels", failed,
	)
	w.count("retried")
	return true, nil
}

func (w *Worker) count(event string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.QueueJobs.WithLabelValues(event).Inc()
	}
}
