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

// Package match finds the incident request an inbound email answers.
package match

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/normalize"
	"github.com/irhub/inbound/internal/store"
)

// Finder loads candidate requests. Both store.Store and a transaction
// satisfy it.
type Finder interface {
	FindCandidates(ctx context.Context, q store.CandidateQuery) ([]models.IncidentRequest, error)
}

// Config bounds the candidate scan.
type Config struct {
	// CandidateLimit caps the rows loaded per match attempt.
	CandidateLimit int
	// Lookback ignores requests older than this. Zero means no limit.
	Lookback time.Duration
}

// Matcher compares normalized fields against stored requests.
type Matcher struct {
	cfg Config
	now func() time.Time
}

// NewMatcher creates a matcher.
func NewMatcher(cfg Config) *Matcher {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = store.DefaultCandidateLimit
	}
	return &Matcher{cfg: cfg, now: time.Now}
}

// Match returns the newest request whose normalized location, timestamp
// and jurisdiction all equal those of fields, or nil. Lookup errors are
// logged and reported as no match.
func (m *Matcher) Match(ctx context.Context, finder Finder, fields models.Fields) *models.IncidentRequest {
	want := key{
		location:     normalize.Text(fields.Location),
		timestamp:    normalize.Timestamp(fields.Timestamp),
		jurisdiction: normalize.Jurisdiction(fields.Jurisdiction),
	}
	if want.location == "" || want.timestamp == "" || want.jurisdiction == "" {
		slog.Debug("match skipped: incomplete fields")
		return nil
	}

	q := store.CandidateQuery{
		Jurisdiction: normalize.TrimCounty(fields.Jurisdiction),
		Limit:        m.cfg.CandidateLimit,
	}
	if m.cfg.Lookback > 0 {
		q.Since = m.now().Add(-m.cfg.Lookback)
	}

	candidates, err := finder.FindCandidates(ctx, q)
	if err != nil {
		slog.Error("candidate lookup failed", "jurisdiction", q.Jurisdiction, "error", err)
		return nil
	}

	for i := range candidates {
		c := &candidates[i]
		if keyOf(c) == want {
			slog.Info("inbound matched request",
				"request_id", c.ID,
				"candidates", len(candidates),
			)
			return c
		}
	}

	slog.Info("no matching request",
		"jurisdiction", strings.TrimSpace(fields.Jurisdiction),
		"candidates", len(candidates),
	)
	return nil
}

type key struct {
	location     string
	timestamp    string
	jurisdiction string
}

func keyOf(r *models.IncidentRequest) key {
	return key{
		location:     normalize.Text(r.Location),
		timestamp:    normalize.Timestamp(r.RequestedAt),
		jurisdiction: normalize.Jurisdiction(r.Jurisdiction),
	}
}
