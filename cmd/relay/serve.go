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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/deboucheur/chatrelay/internal/channel/mailgun"
	"github.com/deboucheur/chatrelay/internal/channel/sms"
	"github.com/deboucheur/chatrelay/internal/config"
	"github.com/deboucheur/chatrelay/internal/httpapi"
	"github.com/deboucheur/chatrelay/internal/notify"
	"github.com/deboucheur/chatrelay/internal/queue"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat, reply and webhook endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting chat relay", "port", cfg.Port, "executor", cfg.Notify.Executor)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	checks := map[string]httpapi.Pinger{}
	if a.rdb != nil {
		checks["redis"] = redisPinger{rdb: a.rdb}
	}

	// --- Notification executor ---
	var (
		executor notify.Executor
		async    *notify.AsyncExecutor
		workerCh = make(chan struct{})
	)
	switch cfg.Notify.Executor {
	case "queue":
		pub := queue.NewPublisher(a.rdb, cfg.Redis.Queue)
		checks["queue"] = pub
		executor = notify.NewQueueExecutor(pub)
		worker := queue.NewWorker(pub, dispatcher.HandleJob, queue.WorkerConfig{
			MaxAttempts: cfg.Notify.MaxAttempts,
			JobTimeout:  cfg.Notify.Timeout,
			Metrics:     a.metrics,
		})
		go func() {
			defer close(workerCh)
			worker.Run(ctx)
		}()
	default:
		async = notify.NewAsyncExecutor(dispatcher, cfg.Notify.Timeout, cfg.Notify.ResponseBudget)
		executor = async
		close(workerCh)
	}

	// --- Inbound channels ---
	smsHandler := sms.NewHandler(a.router, sms.TextsFor(cfg.Locale))
	srvCfg := httpapi.Config{
		Store:      a.store,
		Replies:    a.router,
		Auth:       a.auth,
		Notifier:   dispatcher,
		Executor:   executor,
		Metrics:    a.metrics,
		Location:   cfg.Location,
		OwnerName:  cfg.OwnerName,
		SMSWebhook: smsHandler.ServeWebhook,
		SMSStatus:  smsHandler.ServeStatus,
		Checks:     checks,
	}
	if cfg.Email.Mailgun.SigningKey != "" {
		srvCfg.MailgunWebhook = mailgun.NewHandler(a.router, cfg.Email.Mailgun.SigningKey)
	}

	server := httpapi.New(srvCfg)
	ready, done, err := httpapi.Serve(ctx, cfg.Port, server.Router())
	if err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	<-ready

	err = <-done
	if err != nil {
		err = fmt.Errorf("http server: %w", err)
	}
	cancel()

	<-workerCh
	if async != nil {
		slog.Info("waiting for in-flight notifications")
		async.Wait()
	}
	slog.Info("chat relay stopped")
	return err
}
