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
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/deboucheur/chatrelay/internal/config"
	"github.com/deboucheur/chatrelay/internal/conversation"
	"github.com/deboucheur/chatrelay/internal/dedup"
	"github.com/deboucheur/chatrelay/internal/identity"
	"github.com/deboucheur/chatrelay/internal/metrics"
	"github.com/deboucheur/chatrelay/internal/notify"
	"github.com/deboucheur/chatrelay/internal/relay"
	"github.com/deboucheur/chatrelay/internal/secrets"
	"github.com/deboucheur/chatrelay/internal/transport/mailgun"
	"github.com/deboucheur/chatrelay/internal/transport/smtp"
	"github.com/deboucheur/chatrelay/internal/transport/twilio"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	store   conversation.Store
	rdb     *redis.Client // nil without redis.url
	auth    *identity.AllowList
	metrics *metrics.Metrics
	router  *relay.Router
	tokens  oauth2.TokenSource // nil unless oauth is enabled
}

// newApp resolves secrets and connects the store and Redis.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Secrets.SSMPrefix != "" {
		if err := resolveSecrets(ctx, cfg); err != nil {
			return nil, err
		}
	}

	store, err := conversation.Open(ctx, conversation.Options{
		Backend:     cfg.Store.Backend,
		DatabaseURL: cfg.Store.DatabaseURL,
		DynamoTable: cfg.Store.DynamoTable,
		AWSRegion:   cfg.Store.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		auth:    identity.NewAllowList(cfg.Authorized.Phones, cfg.Authorized.Emails),
		metrics: metrics.New(),
	}

	// --- Connect to Redis ---
	var seen dedup.Checker = dedup.NewMemory(cfg.Redis.DedupTTL)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		a.rdb = redis.NewClient(opt)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = a.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to Redis")
		seen = dedup.NewFilter(a.rdb, cfg.Redis.DedupTTL)
	}

	if cfg.Email.SMTP.OAuth || cfg.IMAP.OAuth {
		creds := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		a.tokens = creds.TokenSource(ctx)
	}

	a.router = relay.NewRouter(relay.RouterConfig{
		Store:   store,
		Auth:    a.auth,
		Seen:    seen,
		Metrics: a.metrics,
	})

	slog.Info("relay initialised",
		"store", cfg.Store.Backend,
		"redis", a.rdb != nil,
		"authorized_contacts", a.auth.Size(),
	)
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	a.store.Close()
}

// resolveSecrets fills empty credential fields from SSM Parameter Store.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Secrets.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Secrets.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client, err := secrets.New(ssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	if err := secrets.Resolve(ctx, client, cfg.Secrets.SSMPrefix, cfg.SecretTargets()); err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}
	slog.Info("secrets resolved", "prefix", cfg.Secrets.SSMPrefix)
	return nil
}

// newDispatcher wires the configured outbound transports. A channel whose
// transport is not configured is disabled rather than fatal.
func (a *app) newDispatcher() (*notify.Dispatcher, error) {
	cfg := a.cfg
	dc := notify.Config{
		Store:    a.store,
		Composer: notify.NewComposer(notify.LocaleFor(cfg.Locale), cfg.Location, cfg.Brand),
		Recipients: notify.Recipients{
			Emails: cfg.Notify.Emails,
			Phones: cfg.Notify.Phones,
		},
		Every:   cfg.Notify.Every,
		Metrics: a.metrics,
	}

	switch cfg.Email.Provider {
	case "smtp":
		if cfg.Email.SMTP.Host == "" {
			slog.Warn("smtp host not configured, email notifications disabled")
			break
		}
		sc := smtp.Config{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Security: smtp.Security(cfg.Email.SMTP.Security),
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			FromAddr: cfg.Email.FromAddr,
			FromName: cfg.Email.FromName,
		}
		if cfg.Email.SMTP.OAuth {
			sc.TokenSource = a.tokens
		}
		sender, err := smtp.New(sc)
		if err != nil {
			return nil, fmt.Errorf("smtp transport: %w", err)
		}
		dc.Mailer = sender
	case "mailgun":
		sender, err := mailgun.New(mailgun.Config{
			Domain:   cfg.Email.Mailgun.Domain,
			APIKey:   cfg.Email.Mailgun.APIKey,
			Region:   cfg.Email.Mailgun.Region,
			FromAddr: cfg.Email.FromAddr,
			FromName: cfg.Email.FromName,
		})
		if err != nil {
			return nil, fmt.Errorf("mailgun transport: %w", err)
		}
		dc.Mailer = sender
	default:
		slog.Info("email notifications disabled")
	}

	if cfg.SMS.AccountSID != "" {
		texter, err := twilio.New(nil, twilio.Config{
			AccountSID:     cfg.SMS.AccountSID,
			AuthToken:      cfg.SMS.AuthToken,
			FromNumber:     cfg.SMS.FromNumber,
			StatusCallback: cfg.SMS.StatusCallback,
		})
		if err != nil {
			return nil, fmt.Errorf("twilio transport: %w", err)
		}
		dc.Texter = texter
	} else {
		slog.Warn("twilio not configured, sms notifications disabled")
	}

	return notify.NewDispatcher(dc), nil
}
