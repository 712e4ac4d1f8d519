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

package backfill

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MinInterval is the shortest period a Scheduler will run at.
const MinInterval = time.Second

// Scheduler runs a Runner periodically in the background.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	request  Request

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that runs req every interval.
func NewScheduler(runner *Runner, interval time.Duration, req Request) *Scheduler {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Scheduler{runner: runner, interval: interval, request: req}
}

// Start launches the loop and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	slog.Info("match backfill scheduler started",
		"interval", s.interval,
		"window", s.request.Since,
	)
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	slog.Info("match backfill scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runner.Run(ctx, s.request); err != nil && ctx.Err() == nil {
				slog.Error("scheduled match backfill failed", "error", err)
			}
		}
	}
}
