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

// Incident Reports Hub: Inbound Service
//
// Entry point for the inbound reconciliation service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the store (PostgreSQL or SQLite) and, when configured, Redis
//  3. Builds the extraction chain, matcher, mailer and dispatcher
//  4. Serves the inbound webhook and the request/auth/admin endpoints
//     and, when configured, re-matches early replies in the background
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/irhub/inbound/internal/admin"
	"github.com/irhub/inbound/internal/auth"
	"github.com/irhub/inbound/internal/backfill"
	"github.com/irhub/inbound/internal/config"
	"github.com/irhub/inbound/internal/database"
	"github.com/irhub/inbound/internal/dedup"
	"github.com/irhub/inbound/internal/dispatch"
	"github.com/irhub/inbound/internal/events"
	"github.com/irhub/inbound/internal/extract"
	"github.com/irhub/inbound/internal/llm"
	"github.com/irhub/inbound/internal/mailer"
	"github.com/irhub/inbound/internal/match"
	"github.com/irhub/inbound/internal/pipeline"
	"github.com/irhub/inbound/internal/ratelimit"
	"github.com/irhub/inbound/internal/recipient"
	"github.com/irhub/inbound/internal/requests"
	"github.com/irhub/inbound/internal/server"
	"github.com/irhub/inbound/internal/store"
	"github.com/irhub/inbound/internal/webhook"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting inbound service",
		"database", cfg.DatabaseDriver,
		"redis", cfg.RedisURL != "",
		"llm", cfg.LLM.Enabled,
		"mail_provider", cfg.Mail.Provider,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// --- Store ---
	st, err := database.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store ready", "driver", cfg.DatabaseDriver)

	health := map[string]server.Pinger{"store": st}

	// --- Redis (optional) ---
	// Without Redis the limiters and the dedup cache live in process.
	var senderLimiter ratelimit.Limiter = ratelimit.NewMemory(ratelimit.Config{
		RequestsPerWindow: cfg.InboundRateLimit,
		Window:            cfg.InboundRateWindow,
	})
	var llmBudget ratelimit.Limiter = ratelimit.NewMemory(ratelimit.Config{
		RequestsPerWindow: cfg.LLM.CallsPerMinute,
		Window:            time.Minute,
	})
	var seen dedup.Cache = dedup.NewMemory(dedup.DefaultSize, cfg.LLM.DedupTTL)
	var publisher pipeline.EventPublisher
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		pub := events.NewPublisher(rdb, cfg.EventsQueue)
		if err := pub.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis")

		senderLimiter = ratelimit.NewRedis(rdb, ratelimit.Config{
			RequestsPerWindow: cfg.InboundRateLimit,
			Window:            cfg.InboundRateWindow,
			KeyPrefix:         "irh:rl:",
		})
		llmBudget = ratelimit.NewRedis(rdb, ratelimit.Config{
			RequestsPerWindow: cfg.LLM.CallsPerMinute,
			Window:            time.Minute,
			KeyPrefix:         "irh:rl:",
		})
		seen = dedup.NewFilter(rdb, cfg.LLM.DedupTTL)
		if cfg.EventsQueue != "" {
			publisher = pub
		}
		health["redis"] = pub
	}

	// --- Extraction chain ---
	var llmStage extract.Strategy
	if cfg.LLM.Enabled {
		client := llm.NewClient(llm.Config{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
		})
		llmStage = extract.NewLLM(client, seen, llmBudget)
		slog.Info("LLM extraction enabled", "calls_per_minute", cfg.LLM.CallsPerMinute)
	}
	extractor := extract.NewDefault(llmStage)

	// --- Mail ---
	m, err := mailer.New(ctx, cfg.Mail.Mailer())
	if err != nil {
		slog.Error("failed to configure mailer", "error", err)
		os.Exit(1)
	}
	if cfg.Mail.Provider == "" {
		slog.Warn("no mail provider configured, outbound mail is logged only")
	}

	// --- Reconciler ---
	matcher := match.NewMatcher(match.Config{
		CandidateLimit: cfg.MatchCandidateLimit,
		Lookback:       cfg.MatchLookback,
	})
	reconciler := pipeline.NewReconciler(pipeline.Config{
		Store:      st,
		Extractor:  extractor,
		Matcher:    matcher,
		Resolver:   recipient.NewResolver(st),
		Dispatcher: dispatch.NewDispatcher(m),
		Events:     publisher,
	})

	// --- Match backfill ---
	if cfg.BackfillInterval > 0 {
		sched := backfill.NewScheduler(
			backfill.NewRunner(backfill.RunnerConfig{Store: st, Matcher: matcher}),
			cfg.BackfillInterval,
			backfill.Request{Since: cfg.BackfillWindow, Limit: store.MaxUnmatchedLimit},
		)
		sched.Start(ctx)
		defer sched.Stop()
	}

	// --- HTTP routes ---
	routes := server.Routes{
		Inbound:  webhook.NewHandler(reconciler, senderLimiter),
		Requests: requests.NewHandler(requests.NewService(st, m, requests.Contacts(cfg.Contacts))),
		Health:   health,
	}
	if cfg.AuthSecret != "" {
		authSvc, err := auth.NewService(st, auth.Config{Secret: cfg.AuthSecret, TokenExpiry: cfg.TokenExpiry})
		if err != nil {
			slog.Error("failed to configure auth", "error", err)
			os.Exit(1)
		}
		routes.Auth = auth.NewHandler(authSvc)
		routes.AuthSvc = authSvc
	} else {
		slog.Warn("AUTH_SECRET not set, /register and /token are disabled")
	}
	if cfg.AdminToken != "" {
		routes.Admin = admin.NewHandler(st, cfg.AdminToken)
	}

	done, err := server.Serve(ctx, server.Config{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, server.NewRouter(routes))
	if err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	if err := <-done; err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("inbound service stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
