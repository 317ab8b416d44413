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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects the conversation backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"` // "memory", "postgres" or "dynamodb"
	DatabaseURL string `yaml:"database_url"`
	DynamoTable string `yaml:"dynamodb_table"`
	AWSRegion   string `yaml:"aws_region"`
}

// RedisConfig enables reply de-duplication and the notification queue.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Queue    string        `yaml:"queue"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// AuthorizedConfig lists the owner contacts allowed to reply.
type AuthorizedConfig struct {
	Phones []string `yaml:"phones"`
	Emails []string `yaml:"emails"`
}

// NotifyConfig controls owner notifications.
type NotifyConfig struct {
	Every          int           `yaml:"every"`
	Executor       string        `yaml:"executor"` // "async" or "queue"
	ResponseBudget time.Duration `yaml:"response_budget"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Emails         []string      `yaml:"emails"`
	Phones         []string      `yaml:"phones"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Security string `yaml:"security"` // "tls", "starttls" or "none"
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	OAuth    bool   `yaml:"oauth"`
}

// MailgunConfig holds Mailgun API settings.
type MailgunConfig struct {
	Domain     string `yaml:"domain"`
	APIKey     string `yaml:"api_key"`
	Region     string `yaml:"region"`
	SigningKey string `yaml:"signing_key"`
}

// EmailConfig selects the outbound email provider.
type EmailConfig struct {
	Provider string        `yaml:"provider"` // "smtp", "mailgun" or "none"
	FromAddr string        `yaml:"from_address"`
	FromName string        `yaml:"from_name"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Mailgun  MailgunConfig `yaml:"mailgun"`
}

// TwilioConfig holds SMS gateway settings.
type TwilioConfig struct {
	AccountSID     string `yaml:"account_sid"`
	AuthToken      string `yaml:"auth_token"`
	FromNumber     string `yaml:"from_number"`
	StatusCallback string `yaml:"status_callback"`
}

// IMAPConfig holds the polled reply mailbox settings.
type IMAPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Security string        `yaml:"security"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Mailbox  string        `yaml:"mailbox"`
	Marker   string        `yaml:"marker"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	OAuth    bool          `yaml:"oauth"`
}

// OAuthConfig is the client-credentials grant shared by SMTP and IMAP.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// SecretsConfig enables SSM lookups for empty credentials.
type SecretsConfig struct {
	SSMPrefix string `yaml:"ssm_prefix"`
	AWSRegion string `yaml:"aws_region"`
}

// Config holds all configuration for the relay.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	Locale    string `yaml:"locale"`
	Timezone  string `yaml:"timezone"`
	OwnerName string `yaml:"owner_name"`
	Brand     string `yaml:"brand"`

	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Authorized AuthorizedConfig `yaml:"authorized"`
	Notify     NotifyConfig     `yaml:"notify"`
	Email      EmailConfig      `yaml:"email"`
	SMS        TwilioConfig     `yaml:"sms"`
	IMAP       IMAPConfig       `yaml:"imap"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Secrets    SecretsConfig    `yaml:"secrets"`

	// Location is Timezone resolved by Load.
	Location *time.Location `yaml:"-"`
}

// Load reads configuration from CONFIG_PATH (default
// /app/config/config.yaml) with env var expansion.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))
}

// LoadFile reads configuration from path.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = envOrDefaultInt("PORT", 8080)
	}
	c.LogLevel = firstNonEmpty(c.LogLevel, envOrDefault("LOG_LEVEL", "info"))
	c.Locale = firstNonEmpty(c.Locale, "fr")
	c.Timezone = firstNonEmpty(c.Timezone, envOrDefault("TZ_NAME", "America/Toronto"))
	c.OwnerName = firstNonEmpty(c.OwnerName, "Owner")

	c.Store.Backend = strings.ToLower(firstNonEmpty(c.Store.Backend, envOrDefault("STORE_BACKEND", "memory")))
	c.Store.DatabaseURL = firstNonEmpty(c.Store.DatabaseURL, os.Getenv("DATABASE_URL"))
	c.Store.AWSRegion = firstNonEmpty(c.Store.AWSRegion, os.Getenv("AWS_REGION"))

	c.Redis.URL = firstNonEmpty(c.Redis.URL, os.Getenv("REDIS_URL"))
	c.Redis.Queue = firstNonEmpty(c.Redis.Queue, "relay:notifications")
	if c.Redis.DedupTTL <= 0 {
		c.Redis.DedupTTL = envOrDefaultDuration("DEDUP_TTL", 24*time.Hour)
	}

	if c.Notify.Every <= 0 {
		c.Notify.Every = 5
	}
	c.Notify.Executor = strings.ToLower(firstNonEmpty(c.Notify.Executor, "async"))
	if c.Notify.ResponseBudget == 0 {
		c.Notify.ResponseBudget = 3 * time.Second
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 60 * time.Second
	}
	if c.Notify.MaxAttempts <= 0 {
		c.Notify.MaxAttempts = 3
	}
	if len(c.Notify.Emails) == 0 {
		c.Notify.Emails = c.Authorized.Emails
	}
	if len(c.Notify.Phones) == 0 {
		c.Notify.Phones = c.Authorized.Phones
	}

	c.Email.Provider = strings.ToLower(firstNonEmpty(c.Email.Provider, "smtp"))
	c.Email.FromAddr = firstNonEmpty(c.Email.FromAddr, c.Email.SMTP.Username)

	c.IMAP.Marker = firstNonEmpty(c.IMAP.Marker, "REPLY:")
	if c.IMAP.Interval <= 0 {
		c.IMAP.Interval = envOrDefaultDuration("POLL_INTERVAL", 5*time.Minute)
	}
	c.IMAP.Username = firstNonEmpty(c.IMAP.Username, c.Email.SMTP.Username)
}

func (c *Config) validate() error {
	if len(c.Authorized.Phones) == 0 && len(c.Authorized.Emails) == 0 {
		return fmt.Errorf("no authorized contacts configured: check config.yaml and environment variables")
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend")
		}
	case "dynamodb":
		if c.Store.DynamoTable == "" {
			return fmt.Errorf("store.dynamodb_table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Notify.Executor {
	case "async":
	case "queue":
		if c.Redis.URL == "" {
			return fmt.Errorf("notify.executor queue requires redis.url")
		}
	default:
		return fmt.Errorf("unknown notify executor %q", c.Notify.Executor)
	}

	switch c.Email.Provider {
	case "smtp", "mailgun", "none":
	default:
		return fmt.Errorf("unknown email provider %q", c.Email.Provider)
	}

	if (c.Email.SMTP.OAuth || c.IMAP.OAuth) && (c.OAuth.TokenURL == "" || c.OAuth.ClientID == "") {
		return fmt.Errorf("oauth.token_url and oauth.client_id are required when oauth is enabled")
	}
	return nil
}

// SecretTargets maps SSM parameter names to the credential fields they can
// fill.
func (c *Config) SecretTargets() map[string]*string {
	return map[string]*string{
		"smtp_password":       &c.Email.SMTP.Password,
		"imap_password":       &c.IMAP.Password,
		"mailgun_api_key":     &c.Email.Mailgun.APIKey,
		"mailgun_signing_key": &c.Email.Mailgun.SigningKey,
		"twilio_auth_token":   &c.SMS.AuthToken,
		"oauth_client_secret": &c.OAuth.ClientSecret,
	}
}

// SlogLevel converts LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
