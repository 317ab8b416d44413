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

// Package httpapi serves the browser-facing chat endpoints, the owner
// reply endpoints and the SMS and email-provider webhooks.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/deboucheur/chatrelay/internal/conversation"
	"github.com/deboucheur/chatrelay/internal/metrics"
	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/notify"
	"github.com/deboucheur/chatrelay/internal/relay"
)

// WireTimeLayout is the timestamp format exchanged with the browser.
const WireTimeLayout = "2006-01-02 15:04:05"

// ReplyRouter runs owner replies through the inbound pipeline.
type ReplyRouter interface {
	Route(ctx context.Context, in models.InboundReply) relay.Outcome
}

// Notifier applies the notification cadence.
type Notifier interface {
	Evaluate(ctx context.Context, sessionID string) (bool, int, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the dependencies for a Server.
type Config struct {
	Store     conversation.Store
	Replies   ReplyRouter
	Auth      relay.Authorizer
	Notifier  Notifier
	Executor  notify.Executor
	Metrics   *metrics.Metrics
	Location  *time.Location
	OwnerName string

	SMSWebhook     http.HandlerFunc // optional
	SMSStatus      http.HandlerFunc // optional
	MailgunWebhook http.Handler     // optional

	// Checks are pinged by /health in addition to the store.
	Checks map[string]Pinger
}

// Server exposes the relay over HTTP.
type Server struct {
	cfg Config
	now func() time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = "Owner"
	}
	return &Server{cfg: cfg, now: time.Now}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	r.Post("/api/chat-forward", s.handleForward)
	r.Get("/api/chat-responses", s.handleResponses)
	r.Post("/api/chat-responses", s.handleResponses)
	r.Post("/api/chat-reply", s.handleReply)

	if s.cfg.SMSWebhook != nil {
		r.Post("/api/sms-webhook", s.cfg.SMSWebhook)
	}
	if s.cfg.SMSStatus != nil {
		r.Post("/api/sms-status", s.cfg.SMSStatus)
	}
	if s.cfg.MailgunWebhook != nil {
		r.Post("/api/email-webhook/mailgun", s.cfg.MailgunWebhook.ServeHTTP)
	}
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	status := http.StatusOK
	if err := s.cfg.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	for name, p := range s.cfg.Checks {
		checks[name] = "ok"
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]any{"status": state, "checks": checks})
}

// formatTime renders t in the wire format and configured zone.
func (s *Server) formatTime(t time.Time) string {
	return t.In(s.cfg.Location).Format(WireTimeLayout)
}

// parseTime accepts the wire format (in the configured zone) or RFC 3339.
func (s *Server) parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(WireTimeLayout, v, s.cfg.Location); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

// Serve binds port, signals readiness on the returned channel and serves
// until ctx is cancelled.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, <-chan error, error) {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	return ready, done, nil
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
