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

// Package dedup remembers content keys that have already been seen so a
// duplicate body never triggers a second expensive extraction call.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a seen key is remembered.
	DefaultTTL = 24 * time.Hour

	// DefaultSize bounds the in-memory cache.
	DefaultSize = 4096

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "irh:seen:"
)

// Cache records which keys have already been processed.
type Cache interface {
	// IsNew returns true if key has NOT been seen before and marks it seen.
	IsNew(ctx context.Context, key string) (bool, error)
	// Forget removes key so that a later IsNew returns true again.
	Forget(ctx context.Context, key string) error
}

// Filter is a Cache backed by Redis keys with a TTL.
type Filter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb redis.Cmdable, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsNew marks the key atomically with SET NX.
func (f *Filter) IsNew(ctx context.Context, key string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget deletes the key.
func (f *Filter) Forget(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Memory is a bounded in-process Cache. The least recently used key is
// evicted when the cache is full and keys expire after the TTL.
type Memory struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, struct{}]
}

// NewMemory creates an in-memory cache holding at most size keys.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// IsNew checks and marks the key under a single lock.
func (m *Memory) IsNew(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lru.Get(key); ok {
		return false, nil
	}
	m.lru.Add(key, struct{}{})
	return true, nil
}

// Forget removes the key.
func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lru.Remove(key)
	return nil
}

// Len returns the number of keys currently held.
func (m *Memory) Len() int {
	return m.lru.Len()
}
