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

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims a sorted set of event timestamps to the window,
// then adds the new event only if the window still has room.
// Returns {allowed, remaining, oldest_ms}.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local first = now
  if oldest[2] then first = tonumber(oldest[2]) end
  return {0, 0, first}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, limit - count - 1, tonumber(oldest[2])}
`)

// Redis is a sliding window limiter shared by every process that uses the
// same Redis instance.
type Redis struct {
	rdb    redis.Scripter
	config Config
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(rdb redis.Scripter, cfg Config) *Redis {
	return &Redis{
		rdb:    rdb,
		config: cfg,
		now:    time.Now,
	}
}

// Allow runs the sliding window script atomically for key.
func (r *Redis) Allow(ctx context.Context, key string) (*Result, error) {
	now := r.now()
	window := r.config.Window.Milliseconds()

	vals, err := slidingWindow.Run(ctx, r.rdb,
		[]string{r.config.KeyPrefix + key},
		now.UnixMilli(), window, r.config.RequestsPerWindow, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply length %d", len(vals))
	}

	return &Result{
		Allowed:   vals[0] == 1,
		Remaining: vals[1],
		ResetAt:   time.UnixMilli(vals[2] + window),
	}, nil
}
