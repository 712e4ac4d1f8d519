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

// Package sqlite implements store.Store on an embedded SQLite database,
// for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps a SQLite database.
type Store struct {
	queries
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema.
// Pass ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single connection avoids "database is locked" errors and keeps an
	// in-memory database alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{queries: queries{q: db}, db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("sqlite store initialised", "path", path)
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS requesters (
			id            TEXT PRIMARY KEY,
			handle        TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			email         TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS incident_requests (
			id                 TEXT PRIMARY KEY,
			location           TEXT NOT NULL,
			requested_at       TEXT NOT NULL,
			jurisdiction       TEXT NOT NULL,
			jurisdiction_email TEXT NOT NULL DEFAULT '',
			created_by         TEXT,
			requester_email    TEXT,
			created_at         TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_requests_created ON incident_requests(created_at);
		CREATE TABLE IF NOT EXISTS inbound_emails (
			id                  TEXT PRIMARY KEY,
			sender              TEXT NOT NULL,
			subject             TEXT NOT NULL DEFAULT '',
			body                TEXT NOT NULL DEFAULT '',
			parsed_location     TEXT,
			parsed_timestamp    TEXT,
			parsed_jurisdiction TEXT,
			extraction_strategy TEXT NOT NULL DEFAULT '',
			has_attachments     INTEGER NOT NULL DEFAULT 0,
			attachment_count    INTEGER NOT NULL DEFAULT 0,
			matched_request_id  TEXT REFERENCES incident_requests(id),
			forwarded_to        TEXT,
			forward_status      TEXT,
			forward_message_id  TEXT,
			forwarded_at        TEXT,
			created_at          TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_inbound_created ON inbound_emails(created_at);
	`)
	return err
}

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	s.db.Close()
}

type queries struct {
	q querier
}

const requestColumns = `id, location, requested_at, jurisdiction, jurisdiction_email,
		       COALESCE(created_by, ''), COALESCE(requester_email, ''), created_at`

const inboundColumns = `id, sender, subject, body,
		       COALESCE(parsed_location, ''), COALESCE(parsed_timestamp, ''), COALESCE(parsed_jurisdiction, ''),
		       extraction_strategy, attachment_count, COALESCE(matched_request_id, ''),
		       COALESCE(forwarded_to, ''), COALESCE(forward_status, ''), COALESCE(forward_message_id, ''),
		       COALESCE(forwarded_at, ''), created_at`

func (q *queries) CreateRequester(ctx context.Context, r *models.Requester) error {
	store.PrepareRequester(r)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO requesters (id, handle, password_hash, email, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.Handle, r.PasswordHash, r.Email, formatTime(r.CreatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert requester: %w", err)
	}
	return nil
}

func (q *queries) RequesterByHandle(ctx context.Context, handle string) (*models.Requester, error) {
	var r models.Requester
	var created string
	err := q.q.QueryRowContext(ctx, `
		SELECT id, handle, password_hash, email, created_at
		FROM requesters
		WHERE handle = ?
	`, handle).Scan(&r.ID, &r.Handle, &r.PasswordHash, &r.Email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select requester: %w", err)
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func (q *queries) CreateRequest(ctx context.Context, r *models.IncidentRequest) error {
	store.PrepareRequest(r)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO incident_requests
			(id, location, requested_at, jurisdiction, jurisdiction_email, created_by, requester_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Location, r.RequestedAt, r.Jurisdiction, r.JurisdictionEmail,
		store.Nullable(r.CreatedBy), store.Nullable(r.RequesterEmail), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert incident request: %w", err)
	}
	return nil
}

func (q *queries) GetRequest(ctx context.Context, id string) (*models.IncidentRequest, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM incident_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select incident request: %w", err)
	}
	return r, nil
}

func (q *queries) RecentRequests(ctx context.Context, limit int) ([]models.IncidentRequest, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM incident_requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, store.ClampLimit(limit, 20, store.MaxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list incident requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (q *queries) FindCandidates(ctx context.Context, c store.CandidateQuery) ([]models.IncidentRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM incident_requests
		WHERE jurisdiction LIKE ? ESCAPE '\'`
	args := []any{store.ContainsPattern(c.Jurisdiction)}

	if !c.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(c.Since))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, store.ClampLimit(c.Limit, store.DefaultCandidateLimit, store.DefaultCandidateLimit*10))

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (q *queries) CreateInbound(ctx context.Context, e *models.InboundEmail) error {
	store.PrepareInbound(e)
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO inbound_emails
			(id, sender, subject, body, parsed_location, parsed_timestamp, parsed_jurisdiction,
			 extraction_strategy, has_attachments, attachment_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Sender, e.Subject, e.Body,
		store.Nullable(e.Parsed.Location), store.Nullable(e.Parsed.Timestamp), store.Nullable(e.Parsed.Jurisdiction),
		e.Strategy, e.HasAttachments(), e.AttachmentCount, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert inbound email: %w", err)
	}
	return nil
}

func (q *queries) LinkMatch(ctx context.Context, inboundID, requestID string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE inbound_emails SET matched_request_id = ? WHERE id = ?`, requestID, inboundID)
	if err != nil {
		return fmt.Errorf("link match: %w", err)
	}
	return nil
}

func (q *queries) RecordForward(ctx context.Context, inboundID string, out models.ForwardOutcome) error {
	var at any
	if t := store.ForwardedAt(out); t != nil {
		at = formatTime(*t)
	}
	_, err := q.q.ExecContext(ctx, `
		UPDATE inbound_emails
		SET forwarded_to = ?, forward_status = ?, forward_message_id = ?, forwarded_at = ?
		WHERE id = ?
	`, store.Nullable(out.To), string(out.Status), store.Nullable(out.MessageID), at, inboundID)
	if err != nil {
		return fmt.Errorf("record forward: %w", err)
	}
	return nil
}

func (q *queries) RecentInbound(ctx context.Context, limit int) ([]models.InboundEmail, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+inboundColumns+`
		FROM inbound_emails
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, store.ClampLimit(limit, 20, store.MaxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list inbound emails: %w", err)
	}
	defer rows.Close()
	return collectInbound(rows)
}

func (q *queries) UnmatchedInbound(ctx context.Context, u store.UnmatchedQuery) ([]models.InboundEmail, error) {
	query := `
		SELECT ` + inboundColumns + `
		FROM inbound_emails
		WHERE matched_request_id IS NULL
		  AND parsed_location IS NOT NULL
		  AND parsed_timestamp IS NOT NULL
		  AND parsed_jurisdiction IS NOT NULL`
	var args []any
	if !u.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(u.Since))
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, store.ClampLimit(u.Limit, store.MaxListLimit, store.MaxUnmatchedLimit))

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select unmatched inbound emails: %w", err)
	}
	defer rows.Close()
	return collectInbound(rows)
}

func collectInbound(rows *sql.Rows) ([]models.InboundEmail, error) {
	var out []models.InboundEmail
	for rows.Next() {
		var e models.InboundEmail
		var status, forwardedAt, created string
		if err := rows.Scan(
			&e.ID, &e.Sender, &e.Subject, &e.Body,
			&e.Parsed.Location, &e.Parsed.Timestamp, &e.Parsed.Jurisdiction,
			&e.Strategy, &e.AttachmentCount, &e.MatchedRequestID,
			&e.ForwardedTo, &status, &e.ForwardMessageID,
			&forwardedAt, &created,
		); err != nil {
			return nil, fmt.Errorf("scan inbound email: %w", err)
		}
		e.ForwardStatus = models.ForwardStatus(status)
		if forwardedAt != "" {
			t := parseTime(forwardedAt)
			e.ForwardedAt = &t
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.IncidentRequest, error) {
	var r models.IncidentRequest
	var created string
	if err := row.Scan(
		&r.ID, &r.Location, &r.RequestedAt, &r.Jurisdiction, &r.JurisdictionEmail,
		&r.CreatedBy, &r.RequesterEmail, &created,
	); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func collectRequests(rows *sql.Rows) ([]models.IncidentRequest, error) {
	var out []models.IncidentRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
