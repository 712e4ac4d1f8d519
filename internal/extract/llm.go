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

package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/irhub/inbound/internal/dedup"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/ratelimit"
)

// budgetKey is the single limiter key shared by every LLM call.
const budgetKey = "llm:calls"

// FieldCompleter extracts fields from free-form text with a language model.
type FieldCompleter interface {
	ExtractFields(ctx context.Context, body string) (models.Fields, error)
}

// LLM is the last-resort strategy. Each distinct cleaned body is sent at
// most once, calls are bounded by a global budget, and concurrent calls
// for the same body share a single request.
type LLM struct {
	client FieldCompleter
	seen   dedup.Cache
	budget ratelimit.Limiter
	group  singleflight.Group
}

// NewLLM creates the LLM strategy. seen and budget may be nil.
func NewLLM(client FieldCompleter, seen dedup.Cache, budget ratelimit.Limiter) *LLM {
	return &LLM{
		client: client,
		seen:   seen,
		budget: budget,
	}
}

func (l *LLM) Name() string { return StrategyLLM }

// FillsGaps keeps label values ahead of model output.
func (l *LLM) FillsGaps() bool { return true }

func (l *LLM) Extract(ctx context.Context, doc *Document) Outcome {
	body := strings.TrimSpace(doc.Cleaned)
	if body == "" {
		return Outcome{}
	}

	key := BodyKey(body)
	v, _, _ := l.group.Do(key, func() (any, error) {
		return l.call(ctx, key, body), nil
	})
	f := v.(models.Fields)
	return Outcome{Fields: f, Found: f.Complete()}
}

func (l *LLM) call(ctx context.Context, key, body string) models.Fields {
	if l.seen != nil {
		isNew, err := l.seen.IsNew(ctx, "llm:"+key)
		if err != nil {
			slog.Warn("llm dedup check failed, proceeding", "body_key", key, "error", err)
		} else if !isNew {
			slog.Info("llm skipped: duplicate body", "body_key", key)
			return models.Fields{}
		}
	}

	if l.budget != nil {
		res, err := l.budget.Allow(ctx, budgetKey)
		if err != nil || !res.Allowed {
			slog.Info("llm skipped: call budget exhausted", "body_key", key, "error", err)
			if l.seen != nil {
				if err := l.seen.Forget(ctx, "llm:"+key); err != nil {
					slog.Warn("llm dedup release failed", "body_key", key, "error", err)
				}
			}
			return models.Fields{}
		}
	}

	slog.Info("invoking llm extraction", "body_key", key, "body_len", len(body))
	f, err := l.client.ExtractFields(ctx, body)
	if err != nil {
		slog.Warn("llm extraction failed", "body_key", key, "error", err)
		return models.Fields{}
	}
	return f
}

// BodyKey is the first 16 hex characters of the SHA-256 of body.
func BodyKey(body string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(body)))
	return hex.EncodeToString(sum[:])[:16]
}
