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

// Package ratelimit provides sliding-window rate limiting keyed by an
// arbitrary string, with an in-memory and a Redis implementation.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultMaxKeys bounds the number of keys the in-memory limiter tracks.
const DefaultMaxKeys = 10000

// Config defines rate limiting parameters.
type Config struct {
	// RequestsPerWindow is the maximum requests allowed per window.
	RequestsPerWindow int64

	// Window is the sliding window length.
	Window time.Duration

	// KeyPrefix is prepended to all rate limit keys.
	KeyPrefix string

	// MaxKeys bounds the in-memory limiter. Ignored by the Redis limiter.
	MaxKeys int
}

// Result contains the rate limit check result.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before retrying.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Limiter admits or rejects one event for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// Memory is a process-local sliding window limiter. Expired entries are
// evicted lazily on each check; when the key count reaches MaxKeys idle
// keys are swept and, if still full, the least recently active key is
// dropped.
type Memory struct {
	mu     sync.Mutex
	config Config
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewMemory creates an in-memory limiter.
func NewMemory(cfg Config) *Memory {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	return &Memory{
		config: cfg,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one event for key if the window has room.
func (m *Memory) Allow(_ context.Context, key string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key = m.config.KeyPrefix + key

	hits, exists := m.hits[key]
	hits = m.prune(hits, now)

	if int64(len(hits)) >= m.config.RequestsPerWindow {
		m.hits[key] = hits
		var resetAt time.Time
		if len(hits) > 0 {
			resetAt = hits[0].Add(m.config.Window)
		}
		return &Result{Allowed: false, ResetAt: resetAt}, nil
	}

	if !exists && len(m.hits) >= m.config.MaxKeys {
		m.evict(now)
	}

	hits = append(hits, now)
	m.hits[key] = hits

	return &Result{
		Allowed:   true,
		Remaining: m.config.RequestsPerWindow - int64(len(hits)),
		ResetAt:   hits[0].Add(m.config.Window),
	}, nil
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// prune drops timestamps that have left the window.
func (m *Memory) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-m.config.Window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (m *Memory) evict(now time.Time) {
	for k, hits := range m.hits {
		if len(m.prune(hits, now)) == 0 {
			delete(m.hits, k)
		}
	}
	if len(m.hits) < m.config.MaxKeys {
		return
	}

	var oldestKey string
	var oldest time.Time
	for k, hits := range m.hits {
		last := hits[len(hits)-1]
		if oldestKey == "" || last.Before(oldest) {
			oldestKey, oldest = k, last
		}
	}
	delete(m.hits, oldestKey)
}
