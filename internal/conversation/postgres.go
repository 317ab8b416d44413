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

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deboucheur/chatrelay/internal/models"
)

// PostgresStore keeps the conversation log in a single chat_turns table.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a store backed by the given pool.
// It ensures the chat_turns table exists on creation.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure conversation schema: %w", err)
	}
	slog.Info("conversation store initialised", "backend", "postgres")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_turns (
			id              BIGSERIAL PRIMARY KEY,
			session_id      TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			turn_time       TIMESTAMPTZ NOT NULL,
			author          TEXT NOT NULL DEFAULT '',
			ip_address      TEXT NOT NULL DEFAULT '',
			user_agent      TEXT NOT NULL DEFAULT '',
			page_url        TEXT NOT NULL DEFAULT '',
			forwarded_email BOOLEAN NOT NULL DEFAULT FALSE,
			forwarded_sms   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON chat_turns(session_id, role, turn_time);
		CREATE INDEX IF NOT EXISTS idx_turns_role_time ON chat_turns(role, turn_time DESC, id DESC);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, turn models.Turn) (int64, error) {
	turn = prepare(turn, s.now())

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_turns
			(session_id, role, content, turn_time, author, ip_address, user_agent,
			 page_url, forwarded_email, forwarded_sms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, turn.SessionID, string(turn.Role), turn.Content, turn.Timestamp, turn.Author,
		turn.Source.IP, turn.Source.UserAgent, turn.Source.PageURL,
		turn.ForwardedEmail, turn.ForwardedSMS, turn.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CountUserTurns(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_turns WHERE session_id = $1 AND role = 'user'
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user turns: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkForwarded(ctx context.Context, sessionID string, flags models.ForwardFlags) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_turns
		SET forwarded_email = forwarded_email OR $2,
		    forwarded_sms   = forwarded_sms OR $3
		WHERE session_id = $1
	`, sessionID, flags.Email, flags.SMS)
	return err
}

func (s *PostgresStore) ListOwnerTurnsSince(ctx context.Context, sessionID string, since *time.Time) ([]models.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, turn_time, author, ip_address,
		       user_agent, page_url, forwarded_email, forwarded_sms, created_at
		FROM chat_turns
		WHERE session_id = $1 AND role = 'owner'
		  AND ($2::timestamptz IS NULL OR turn_time > $2)
		ORDER BY turn_time ASC, id ASC
	`, sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *PostgresStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_turns WHERE session_id = $1)
	`, sessionID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) LatestUserSession(ctx context.Context) (string, error) {
	var sessionID string
	err := s.pool.QueryRow(ctx, `
		SELECT session_id FROM chat_turns
		WHERE role = 'user'
		ORDER BY turn_time DESC, id DESC
		LIMIT 1
	`).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return sessionID, err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// collectTurns scans multiple rows into a slice of turns.
func collectTurns(rows pgx.Rows) ([]models.Turn, error) {
	var turns []models.Turn
	for rows.Next() {
		var (
			t    models.Turn
			role string
		)
		if err := rows.Scan(
			&t.ID, &t.SessionID, &role, &t.Content, &t.Timestamp, &t.Author,
			&t.Source.IP, &t.Source.UserAgent, &t.Source.PageURL,
			&t.ForwardedEmail, &t.ForwardedSMS, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Role = models.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
