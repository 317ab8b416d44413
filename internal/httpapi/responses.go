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
	"time"
)

type responsesRequest struct {
	SessionID string `json:"sessionId"`
	LastCheck string `json:"lastCheck"`
}

type ownerResponse struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender"`
}

type responsesResponse struct {
	Status     string          `json:"status"`
	Responses  []ownerResponse `json:"responses"`
	Count      int             `json:"count"`
	ServerTime string          `json:"serverTime"`
}

// handleResponses returns owner replies newer than lastCheck. Parameters
// come from the query string, a form body or a JSON body.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	req := responsesRequest{
		SessionID: r.URL.Query().Get("sessionId"),
		LastCheck: r.URL.Query().Get("lastCheck"),
	}
	if r.Method == http.MethodPost {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var body responsesRequest
			if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
				respondError(w, http.StatusBadRequest, "Invalid JSON")
				return
			}
			req.SessionID = firstNonEmpty(req.SessionID, body.SessionID)
			req.LastCheck = firstNonEmpty(req.LastCheck, body.LastCheck)
		} else if err := r.ParseForm(); err == nil {
			req.SessionID = firstNonEmpty(req.SessionID, r.PostForm.Get("sessionId"))
			req.LastCheck = firstNonEmpty(req.LastCheck, r.PostForm.Get("lastCheck"))
		}
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "Missing sessionId")
		return
	}

	var since *time.Time
	if req.LastCheck != "" {
		t, err := s.parseTime(req.LastCheck)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid lastCheck")
			return
		}
		since = &t
	}

	out := responsesResponse{
		Status:     "ok",
		Responses:  []ownerResponse{},
		ServerTime: s.formatTime(s.now()),
	}

	turns, err := s.cfg.Store.ListOwnerTurnsSince(r.Context(), req.SessionID, since)
	if err != nil {
		slog.Error("chat responses lookup failed", "session_id", req.SessionID, "error", err)
		respondJSON(w, http.StatusOK, out)
		return
	}

	for _, t := range turns {
		sender := t.Author
		if sender == "" {
			sender = s.cfg.OwnerName
		}
		out.Responses = append(out.Responses, ownerResponse{
			ID:        t.ID,
			Content:   t.Content,
			Timestamp: s.formatTime(t.Timestamp),
			Sender:    sender,
		})
	}
	out.Count = len(out.Responses)
	respondJSON(w, http.StatusOK, out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
