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

// Chat relay
//
// Entry point for the relay. It:
//  1. Loads configuration from config.yaml and fills missing credentials from SSM
//  2. Connects the conversation store and, when configured, Redis
//  3. Serves the chat, reply and webhook endpoints (relay serve)
//  4. Routes a raw email piped in by the MTA (relay pipe)
//  5. Polls the reply mailbox over IMAP (relay poll)
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/deboucheur/chatrelay/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay website chat sessions to the owner by email and SMS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $CONFIG_PATH or /app/config/config.yaml)")

	root.AddCommand(newServeCmd(), newPipeCmd(), newPollCmd())

	if err := root.Execute(); err != nil {
		slog.Error("relay exited with error", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the JSON logger at the
// configured level.
func loadConfig(logOut io.Writer) (*config.Config, error) {
	// Structured JSON logging
	setLogger(logOut, slog.LevelInfo)

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	setLogger(logOut, cfg.SlogLevel())
	return cfg, nil
}

func setLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
