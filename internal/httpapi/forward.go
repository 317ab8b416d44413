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

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/deboucheur/chatrelay/internal/models"
	"github.com/deboucheur/chatrelay/internal/notify"
)

type forwardRequest struct {
	SessionID   string `json:"sessionId"`
	UserMessage string `json:"userMessage"`
	AIResponse  string `json:"aiResponse"`
	Timestamp   string `json:"timestamp"`
	PageURL     string `json:"pageUrl"`
}

type forwardResponse struct {
	Status        string         `json:"status"`
	SessionID     string         `json:"sessionId,omitempty"`
	Notifications *notify.Result `json:"notifications,omitempty"`
}

// handleForward stores one chat exchange and notifies the owner when the
// cadence says so. Storage and notification failures never reach the
// browser.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	var req forwardRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "Missing sessionId")
		return
	}

	ctx := r.Context()
	ts := s.now()
	if req.Timestamp != "" {
		if t, err := s.parseTime(req.Timestamp); err == nil {
			ts = t
		} else {
			slog.Debug("ignoring client timestamp", "session_id", req.SessionID, "error", err)
		}
	}
	source := models.SourceMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		PageURL:   req.PageURL,
	}

	turns := []models.Turn{
		{SessionID: req.SessionID, Role: models.RoleUser, Content: req.UserMessage, Timestamp: ts, Source: source},
		{SessionID: req.SessionID, Role: models.RoleAssistant, Content: req.AIResponse, Timestamp: ts, Source: source},
	}
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		if _, err := s.cfg.Store.Append(ctx, t); err != nil {
			slog.Error("chat forward failed to store turn", "session_id", req.SessionID, "role", t.Role, "error", err)
			respondJSON(w, http.StatusOK, forwardResponse{
				Status:        "ok",
				SessionID:     req.SessionID,
				Notifications: &notify.Result{},
			})
			return
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.TurnsAppended.WithLabelValues(string(t.Role)).Inc()
		}
	}

	res := notify.Result{}
	if req.UserMessage != "" && s.cfg.Notifier != nil && s.cfg.Executor != nil {
		should, count, err := s.cfg.Notifier.Evaluate(ctx, req.SessionID)
		if err != nil {
			slog.Error("chat forward failed to evaluate cadence", "session_id", req.SessionID, "error", err)
		} else if should {
			res = s.cfg.Executor.Submit(ctx, notify.Event{
				SessionID:   req.SessionID,
				UserMessage: req.UserMessage,
				AIResponse:  req.AIResponse,
				PageURL:     req.PageURL,
				IP:          source.IP,
				Timestamp:   s.now(),
				UserTurns:   count,
			})
		}
	}

	respondJSON(w, http.StatusOK, forwardResponse{
		Status:        "ok",
		SessionID:     req.SessionID,
		Notifications: &res,
	})
}
