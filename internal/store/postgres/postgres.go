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

// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence backed by a Postgres pool.
type Store struct {
	queries
	db DB
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store on db and ensures the schema exists.
func NewStore(ctx context.Context, db DB) (*Store, error) {
	s := &Store{queries: queries{q: db}, db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("postgres store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS requesters (
			id            TEXT PRIMARY KEY,
			handle        TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			email         TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS incident_requests (
			id                 TEXT PRIMARY KEY,
			location           TEXT NOT NULL,
			requested_at       TEXT NOT NULL,
			jurisdiction       TEXT NOT NULL,
			jurisdiction_email TEXT NOT NULL DEFAULT '',
			created_by         TEXT,
			requester_email    TEXT,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_requests_created ON incident_requests(created_at DESC);
		CREATE TABLE IF NOT EXISTS inbound_emails (
			id                  TEXT PRIMARY KEY,
			sender              TEXT NOT NULL,
			subject             TEXT NOT NULL DEFAULT '',
			body                TEXT NOT NULL DEFAULT '',
			parsed_location     TEXT,
			parsed_timestamp    TEXT,
			parsed_jurisdiction TEXT,
			extraction_strategy TEXT NOT NULL DEFAULT '',
			has_attachments     BOOLEAN NOT NULL DEFAULT FALSE,
			attachment_count    INTEGER NOT NULL DEFAULT 0,
			matched_request_id  TEXT REFERENCES incident_requests(id),
			forwarded_to        TEXT,
			forward_status      TEXT,
			forward_message_id  TEXT,
			forwarded_at        TIMESTAMPTZ,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_inbound_created ON inbound_emails(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_inbound_match ON inbound_emails(matched_request_id);
	`)
	return err
}

// WithTx runs fn inside a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// queries implements store.Queries on a pool or a transaction.
type queries struct {
	q querier
}

const requestColumns = `id, location, requested_at, jurisdiction, jurisdiction_email,
		       COALESCE(created_by, ''), COALESCE(requester_email, ''), created_at`

const inboundColumns = `id, sender, subject, body,
		       COALESCE(parsed_location, ''), COALESCE(parsed_timestamp, ''), COALESCE(parsed_jurisdiction, ''),
		       extraction_strategy, attachment_count, COALESCE(matched_request_id, ''),
		       COALESCE(forwarded_to, ''), COALESCE(forward_status, ''), COALESCE(forward_message_id, ''),
		       forwarded_at, created_at`

// CreateRequester inserts a requester.
func (q *queries) CreateRequester(ctx context.Context, r *models.Requester) error {
	store.PrepareRequester(r)
	_, err := q.q.Exec(ctx, `
		INSERT INTO requesters (id, handle, password_hash, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.Handle, r.PasswordHash, r.Email, r.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert requester: %w", err)
	}
	return nil
}

// RequesterByHandle looks a requester up by handle.
func (q *queries) RequesterByHandle(ctx context.Context, handle string) (*models.Requester, error) {
	var r models.Requester
	err := q.q.QueryRow(ctx, `
		SELECT id, handle, password_hash, email, created_at
		FROM requesters
		WHERE handle = $1
	`, handle).Scan(&r.ID, &r.Handle, &r.PasswordHash, &r.Email, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select requester: %w", err)
	}
	return &r, nil
}

// CreateRequest inserts an incident request.
func (q *queries) CreateRequest(ctx context.Context, r *models.IncidentRequest) error {
	store.PrepareRequest(r)
	_, err := q.q.Exec(ctx, `
		INSERT INTO incident_requests
			(id, location, requested_at, jurisdiction, jurisdiction_email, created_by, requester_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Location, r.RequestedAt, r.Jurisdiction, r.JurisdictionEmail,
		store.Nullable(r.CreatedBy), store.Nullable(r.RequesterEmail), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident request: %w", err)
	}
	return nil
}

// GetRequest retrieves a single incident request.
func (q *queries) GetRequest(ctx context.Context, id string) (*models.IncidentRequest, error) {
	row := q.q.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM incident_requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

// RecentRequests lists the newest incident requests.
func (q *queries) RecentRequests(ctx context.Context, limit int) ([]models.IncidentRequest, error) {
	rows, err := q.q.Query(ctx, `
		SELECT `+requestColumns+`
		FROM incident_requests
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, store.ClampLimit(limit, 20, store.MaxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list incident requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// FindCandidates returns requests whose jurisdiction contains
// c.Jurisdiction, newest first.
func (q *queries) FindCandidates(ctx context.Context, c store.CandidateQuery) ([]models.IncidentRequest, error) {
	sql := `
		SELECT ` + requestColumns + `
		FROM incident_requests
		WHERE jurisdiction ILIKE $1 ESCAPE '\'`
	args := []any{store.ContainsPattern(c.Jurisdiction)}

	if !c.Since.IsZero() {
		args = append(args, c.Since)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	args = append(args, store.ClampLimit(c.Limit, store.DefaultCandidateLimit, store.DefaultCandidateLimit*10))
	sql += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// CreateInbound inserts an inbound email record.
func (q *queries) CreateInbound(ctx context.Context, e *models.InboundEmail) error {
	store.PrepareInbound(e)
	_, err := q.q.Exec(ctx, `
		INSERT INTO inbound_emails
			(id, sender, subject, body, parsed_location, parsed_timestamp, parsed_jurisdiction,
			 extraction_strategy, has_attachments, attachment_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.Sender, e.Subject, e.Body,
		store.Nullable(e.Parsed.Location), store.Nullable(e.Parsed.Timestamp), store.Nullable(e.Parsed.Jurisdiction),
		e.Strategy, e.HasAttachments(), e.AttachmentCount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert inbound email: %w", err)
	}
	return nil
}

// LinkMatch records which request an inbound email matched.
func (q *queries) LinkMatch(ctx context.Context, inboundID, requestID string) error {
	_, err := q.q.Exec(ctx, `
		UPDATE inbound_emails SET matched_request_id = $1 WHERE id = $2
	`, requestID, inboundID)
	if err != nil {
		return fmt.Errorf("link match: %w", err)
	}
	return nil
}

// RecordForward stores the dispatch outcome on an inbound email.
func (q *queries) RecordForward(ctx context.Context, inboundID string, out models.ForwardOutcome) error {
	_, err := q.q.Exec(ctx, `
		UPDATE inbound_emails
		SET forwarded_to = $1, forward_status = $2, forward_message_id = $3, forwarded_at = $4
		WHERE id = $5
	`, store.Nullable(out.To), string(out.Status), store.Nullable(out.MessageID), store.ForwardedAt(out), inboundID)
	if err != nil {
		return fmt.Errorf("record forward: %w", err)
	}
	return nil
}

// RecentInbound lists the newest inbound emails.
func (q *queries) RecentInbound(ctx context.Context, limit int) ([]models.InboundEmail, error) {
	rows, err := q.q.Query(ctx, `
		SELECT `+inboundColumns+`
		FROM inbound_emails
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, store.ClampLimit(limit, 20, store.MaxListLimit))
	if err != nil {
		return nil, fmt.Errorf("list inbound emails: %w", err)
	}
	defer rows.Close()
	return collectInbound(rows)
}

// UnmatchedInbound lists fully parsed inbound emails without a match,
// oldest first.
func (q *queries) UnmatchedInbound(ctx context.Context, u store.UnmatchedQuery) ([]models.InboundEmail, error) {
	sql := `
		SELECT ` + inboundColumns + `
		FROM inbound_emails
		WHERE matched_request_id IS NULL
		  AND parsed_location IS NOT NULL
		  AND parsed_timestamp IS NOT NULL
		  AND parsed_jurisdiction IS NOT NULL`
	var args []any
	if !u.Since.IsZero() {
		args = append(args, u.Since)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	args = append(args, store.ClampLimit(u.Limit, store.MaxListLimit, store.MaxUnmatchedLimit))
	sql += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select unmatched inbound emails: %w", err)
	}
	defer rows.Close()
	return collectInbound(rows)
}

func collectInbound(rows pgx.Rows) ([]models.InboundEmail, error) {
	var out []models.InboundEmail
	for rows.Next() {
		var e models.InboundEmail
		var status string
		if err := rows.Scan(
			&e.ID, &e.Sender, &e.Subject, &e.Body,
			&e.Parsed.Location, &e.Parsed.Timestamp, &e.Parsed.Jurisdiction,
			&e.Strategy, &e.AttachmentCount, &e.MatchedRequestID,
			&e.ForwardedTo, &status, &e.ForwardMessageID,
			&e.ForwardedAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inbound email: %w", err)
		}
		e.ForwardStatus = models.ForwardStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanRequest scans a single row into an IncidentRequest.
func scanRequest(row pgx.Row) (*models.IncidentRequest, error) {
	var r models.IncidentRequest
	err := row.Scan(
		&r.ID, &r.Location, &r.RequestedAt, &r.Jurisdiction, &r.JurisdictionEmail,
		&r.CreatedBy, &r.RequesterEmail, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan incident request: %w", err)
	}
	return &r, nil
}

// collectRequests scans multiple rows into a slice of IncidentRequests.
func collectRequests(rows pgx.Rows) ([]models.IncidentRequest, error) {
	var out []models.IncidentRequest
	for rows.Next() {
		var r models.IncidentRequest
		if err := rows.Scan(
			&r.ID, &r.Location, &r.RequestedAt, &r.Jurisdiction, &r.JurisdictionEmail,
			&r.CreatedBy, &r.RequesterEmail, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan incident request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
