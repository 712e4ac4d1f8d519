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

// Package server assembles the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/irhub/inbound/internal/admin"
	"github.com/irhub/inbound/internal/api"
	"github.com/irhub/inbound/internal/auth"
	"github.com/irhub/inbound/internal/requests"
	"github.com/irhub/inbound/internal/webhook"
)

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Routes holds the handlers mounted by NewRouter. Auth, Requests and
// Admin are optional.
type Routes struct {
	Inbound  *webhook.Handler
	Auth     *auth.Handler
	AuthSvc  *auth.Service
	Requests *requests.Handler
	Admin    *admin.Handler
	// Health maps a dependency name to its check.
	Health map[string]Pinger
}

// NewRouter builds the chi router.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health(rt.Health))
	r.Post("/inbound", rt.Inbound.ServeInbound)

	if rt.Auth != nil {
		r.Post("/register", rt.Auth.Register)
		r.Post("/token", rt.Auth.Token)
	}

	if rt.Requests != nil {
		r.Group(func(g chi.Router) {
			if rt.AuthSvc != nil {
				g.Use(rt.AuthSvc.Optional)
			}
			g.Post("/incident_request", rt.Requests.Create)
		})
		r.Get("/incident_request/recent", rt.Requests.Recent)
	}

	if rt.Admin != nil {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(rt.Admin.RequireToken)
			ar.Get("/incident_requests", rt.Admin.IncidentRequests)
			ar.Get("/inbound_emails", rt.Admin.InboundEmails)
		})
	}
	return r
}

func health(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"failed": name,
				})
				return
			}
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Config sets the listener address and timeouts.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Serve binds the port, then serves handler until ctx is cancelled. The
// returned channel receives the terminal error, nil after a clean shutdown.
func Serve(ctx context.Context, cfg Config, handler http.Handler) (<-chan error, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", cfg.Port, err)
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", cfg.Port)
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
		close(done)
	}()

	return done, nil
}
