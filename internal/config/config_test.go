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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `
authorized:
  phones: ["+14385302343"]
  emails: ["owner@example.com"]
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Port != 8080 && os.Getenv("PORT") == "" {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Store.Backend != "memory" && os.Getenv("STORE_BACKEND") == "" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Notify.Every != 5 {
		t.Errorf("Notify.Every = %d, want 5", cfg.Notify.Every)
	}
	if cfg.Notify.Executor != "async" {
		t.Errorf("Notify.Executor = %q, want async", cfg.Notify.Executor)
	}
	if cfg.Notify.MaxAttempts != 3 {
		t.Errorf("Notify.MaxAttempts = %d, want 3", cfg.Notify.MaxAttempts)
	}
	if len(cfg.Notify.Phones) != 1 || cfg.Notify.Phones[0] != "+14385302343" {
		t.Errorf("Notify.Phones = %v, want authorized phones", cfg.Notify.Phones)
	}
	if cfg.Locale != "fr" {
		t.Errorf("Locale = %q, want fr", cfg.Locale)
	}
	if cfg.Location == nil {
		t.Error("Location not resolved")
	}
}

func TestParse_ExpandsEnvAndDurations(t *testing.T) {
	t.Setenv("TEST_TWILIO_TOKEN", "tw-secret")

	cfg, err := Parse([]byte(minimal + `
sms:
  account_sid: AC1
  auth_token: ${TEST_TWILIO_TOKEN}
notify:
  every: 3
  response_budget: 500ms
imap:
  interval: 2m
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SMS.AuthToken != "tw-secret" {
		t.Errorf("AuthToken = %q", cfg.SMS.AuthToken)
	}
	if cfg.Notify.Every != 3 {
		t.Errorf("Every = %d", cfg.Notify.Every)
	}
	if cfg.Notify.ResponseBudget != 500*time.Millisecond {
		t.Errorf("ResponseBudget = %v", cfg.Notify.ResponseBudget)
	}
	if cfg.IMAP.Interval != 2*time.Minute {
		t.Errorf("IMAP.Interval = %v", cfg.IMAP.Interval)
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no contacts", `port: 9000`, "no authorized contacts"},
		{"postgres without url", minimal + "store:\n  backend: postgres\n", "database_url"},
		{"dynamodb without table", minimal + "store:\n  backend: dynamodb\n", "dynamodb_table"},
		{"unknown backend", minimal + "store:\n  backend: sqlite\n", "unknown store backend"},
		{"queue without redis", minimal + "notify:\n  executor: queue\n", "requires redis.url"},
		{"unknown provider", minimal + "email:\n  provider: sendgrid\n", "unknown email provider"},
		{"oauth without client", minimal + "imap:\n  oauth: true\n", "oauth.token_url"},
		{"bad timezone", minimal + "timezone: Mars/Olympus\n", "load timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "queue without redis" && os.Getenv("REDIS_URL") != "" {
				t.Skip("REDIS_URL set in environment")
			}
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_UsesConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSecretTargets_PointIntoConfig(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	*cfg.SecretTargets()["twilio_auth_token"] = "x"
	if cfg.SMS.AuthToken != "x" {
		t.Error("secret target does not alias the config field")
	}
}
