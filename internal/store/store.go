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

// Package store defines persistence for requesters, incident requests and
// inbound emails. Implementations live in the postgres and sqlite
// subpackages and share one canonical schema.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/irhub/inbound/internal/models"
)

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = errors.New("duplicate record")

const (
	// DefaultCandidateLimit bounds a matcher pre-filter scan.
	DefaultCandidateLimit = 500

	// MaxListLimit bounds listing endpoints.
	MaxListLimit = 100

	// MaxBodyChars is the longest inbound body kept on the record.
	MaxBodyChars = 10000
)

// CandidateQuery selects incident requests for matching.
type CandidateQuery struct {
	// Jurisdiction is matched as a case-insensitive substring.
	Jurisdiction string
	// Since excludes requests created before it. Zero means no bound.
	Since time.Time
	// Limit caps the number of rows; newest rows are returned first.
	Limit int
}

// UnmatchedQuery selects stored inbound emails that carry a complete set
// of parsed fields but never matched a request.
type UnmatchedQuery struct {
	// Since excludes emails received before it. Zero means no bound.
	Since time.Time
	// Limit caps the number of rows; oldest rows are returned first.
	Limit int
}

// MaxUnmatchedLimit bounds a single rematch scan.
const MaxUnmatchedLimit = 1000

// Queries are the operations available both directly on a Store and
// inside a transaction.
type Queries interface {
	CreateRequester(ctx context.Context, r *models.Requester) error
	// RequesterByHandle returns nil, nil when no requester has the handle.
	RequesterByHandle(ctx context.Context, handle string) (*models.Requester, error)

	CreateRequest(ctx context.Context, r *models.IncidentRequest) error
	// GetRequest returns nil, nil when the request does not exist.
	GetRequest(ctx context.Context, id string) (*models.IncidentRequest, error)
	RecentRequests(ctx context.Context, limit int) ([]models.IncidentRequest, error)
	FindCandidates(ctx context.Context, q CandidateQuery) ([]models.IncidentRequest, error)

	CreateInbound(ctx context.Context, e *models.InboundEmail) error
	LinkMatch(ctx context.Context, inboundID, requestID string) error
	RecordForward(ctx context.Context, inboundID string, out models.ForwardOutcome) error
	RecentInbound(ctx context.Context, limit int) ([]models.InboundEmail, error)
	UnmatchedInbound(ctx context.Context, q UnmatchedQuery) ([]models.InboundEmail, error)
}

// Store is a Queries with transactions and lifecycle.
type Store interface {
	Queries
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close()
}

// ContainsPattern builds a LIKE pattern matching s anywhere, with LIKE
// wildcards in s escaped by a backslash.
func ContainsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

// ClampLimit applies a default to a non-positive limit and caps it at max.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// TruncateBody shortens body to MaxBodyChars characters.
func TruncateBody(body string) string {
	if len(body) <= MaxBodyChars {
		return body
	}
	r := []rune(body)
	if len(r) <= MaxBodyChars {
		return body
	}
	return string(r[:MaxBodyChars])
}

// PrepareRequester assigns an ID and creation time when unset.
func PrepareRequester(r *models.Requester) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// PrepareRequest assigns an ID and creation time when unset.
func PrepareRequest(r *models.IncidentRequest) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// PrepareInbound assigns an ID and creation time when unset and truncates
// the body.
func PrepareInbound(e *models.InboundEmail) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Body = TruncateBody(e.Body)
}

// Nullable maps an empty string to a SQL NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ForwardedAt is the timestamp stored for an outcome: only successful
// sends carry one.
func ForwardedAt(out models.ForwardOutcome) *time.Time {
	if out.Status != models.ForwardSent || out.At.IsZero() {
		return nil
	}
	t := out.At.UTC()
	return &t
}
