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

// Package backfill links stored inbound emails that arrived before the
// incident request they answer was recorded.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/irhub/inbound/internal/match"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

// Matcher finds the request an email's fields reconcile to.
type Matcher interface {
	Match(ctx context.Context, finder match.Finder, fields models.Fields) *models.IncidentRequest
}

// Request bounds one backfill run.
type Request struct {
	Since  time.Duration // lookback window; zero scans every stored email
	Limit  int
	DryRun bool // report links without writing them
}

// Link is one inbound email paired with the request it matched.
type Link struct {
	InboundID string `json:"inbound_id"`
	RequestID string `json:"request_id"`
}

// Result summarises one backfill pass. Links lists every pairing made
// (or, on a dry run, every pairing that would have been made).
type Result struct {
	Scanned   int           `json:"scanned"`
	Linked    int           `json:"linked"`
	Unmatched int           `json:"unmatched"`
	Errors    int           `json:"errors"`
	Links     []Link        `json:"links"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Runner re-matches stored inbound emails that have no linked request.
// A Runner is safe to reuse across passes but not to run concurrently.
type Runner struct {
	store   store.Queries
	matcher Matcher
	now     func() time.Time
}

// RunnerConfig holds the dependencies of a Runner.
type RunnerConfig struct {
	Store   store.Queries
	Matcher Matcher
}

// NewRunner returns a Runner reading and linking through cfg.Store.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		store:   cfg.Store,
		matcher: cfg.Matcher,
		now:     time.Now,
	}
}

// Run re-matches unmatched emails oldest first. A failed link is logged
// and counted; the run continues with the next email.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := r.now()
	q := store.UnmatchedQuery{Limit: req.Limit}
	if req.Since > 0 {
		q.Since = start.UTC().Add(-req.Since)
	}

	slog.Info("starting match backfill",
		"since", q.Since,
		"limit", req.Limit,
		"dry_run", req.DryRun,
	)

	emails, err := r.store.UnmatchedInbound(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list unmatched inbound emails: %w", err)
	}

	result := &Result{Links: []Link{}}
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		m := r.matcher.Match(ctx, r.store, e.Parsed)
		if m == nil {
			result.Unmatched++
			continue
		}

		if !req.DryRun {
			if err := r.store.LinkMatch(ctx, e.ID, m.ID); err != nil {
				slog.Error("backfill link failed",
					"inbound_id", e.ID,
					"request_id", m.ID,
					"error", err,
				)
				result.Errors++
				continue
			}
		}
		result.Linked++
		result.Links = append(result.Links, Link{InboundID: e.ID, RequestID: m.ID})
	}

	result.Elapsed = r.now().Sub(start)

	slog.Info("match backfill complete",
		"scanned", result.Scanned,
		"linked", result.Linked,
		"unmatched", result.Unmatched,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
