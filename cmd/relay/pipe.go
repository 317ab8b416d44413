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
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deboucheur/chatrelay/internal/channel/emailpipe"
)

// pipeTimeout bounds one piped delivery so a hung store cannot hold the MTA.
const pipeTimeout = 60 * time.Second

func newPipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipe",
		Short: "Route an owner reply email read from stdin",
		Long: "Reads one raw RFC 822 message from stdin and stores the owner reply it carries.\n" +
			"Always exits 0 so the MTA never bounces the message.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout may be captured by the MTA.
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				slog.Error("email pipe could not start", "error", err)
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), pipeTimeout)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				slog.Error("email pipe could not start", "error", err)
				return nil
			}
			defer a.close()

			status := emailpipe.Run(ctx, cmd.InOrStdin(), a.router)
			slog.Info("email pipe finished", "status", status)
			return nil
		},
	}
}
