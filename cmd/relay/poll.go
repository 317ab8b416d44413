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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deboucheur/chatrelay/internal/channel/imappoll"
)

func newPollCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch owner replies from the IMAP mailbox",
		Long: "Polls the reply mailbox once, or every --interval until interrupted.\n" +
			"Pass --interval=0 to use imap.interval from the configuration.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}
			if cfg.IMAP.Host == "" {
				return fmt.Errorf("imap.host is required for polling")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ic := imappoll.Config{
				Host:     cfg.IMAP.Host,
				Port:     cfg.IMAP.Port,
				Security: cfg.IMAP.Security,
				Username: cfg.IMAP.Username,
				Password: cfg.IMAP.Password,
				Mailbox:  cfg.IMAP.Mailbox,
				Timeout:  cfg.IMAP.Timeout,
			}
			if cfg.IMAP.OAuth {
				ic.TokenSource = a.tokens
			}

			every := cfg.IMAP.Interval
			loop := cmd.Flags().Changed("interval")
			if loop && interval > 0 {
				every = interval
			}
			poller := imappoll.NewPoller(imappoll.NewIMAPDialer(ic), a.router, cfg.IMAP.Marker, every)

			if loop {
				poller.Run(ctx)
				return nil
			}

			sum, err := poller.PollOnce(ctx)
			if err != nil {
				return fmt.Errorf("imap poll: %w", err)
			}
			slog.Info("imap poll finished",
				"fetched", sum.Fetched,
				"stored", sum.Stored,
				"rejected", sum.Rejected,
				"failed", sum.Failed,
			)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "keep polling at this interval instead of running once")
	return cmd
}
