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

// Package admin exposes read-only listings of requests and inbound emails
// behind a shared admin token.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/irhub/inbound/internal/api"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

// TokenHeader carries the admin token.
const TokenHeader = "X-Admin-Token"

// DefaultLimit is used when ?limit= is absent.
const DefaultLimit = 50

// Lister is the storage the admin endpoints read.
type Lister interface {
	RecentRequests(ctx context.Context, limit int) ([]models.IncidentRequest, error)
	RecentInbound(ctx context.Context, limit int) ([]models.InboundEmail, error)
}

// Handler serves /admin endpoints.
type Handler struct {
	lister Lister
	token  []byte
}

// NewHandler creates an admin handler. An empty token disables every
// admin endpoint.
func NewHandler(lister Lister, token string) *Handler {
	return &Handler{lister: lister, token: []byte(token)}
}

// RequireToken rejects requests whose X-Admin-Token does not match.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(TokenHeader))
		if len(h.token) == 0 || subtle.ConstantTimeCompare(got, h.token) != 1 {
			slog.Warn("admin access denied", "path", r.URL.Path, "remote", r.RemoteAddr)
			api.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IncidentRequests handles GET /admin/incident_requests.
func (h *Handler) IncidentRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.lister.RecentRequests(r.Context(), limit(r))
	if err != nil {
		slog.Error("admin list requests failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if reqs == nil {
		reqs = []models.IncidentRequest{}
	}
	api.WriteJSON(w, http.StatusOK, reqs)
}

// InboundEmails handles GET /admin/inbound_emails.
func (h *Handler) InboundEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.lister.RecentInbound(r.Context(), limit(r))
	if err != nil {
		slog.Error("admin list inbound failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "failed to list inbound emails")
		return
	}
	if emails == nil {
		emails = []models.InboundEmail{}
	}
	api.WriteJSON(w, http.StatusOK, emails)
}

func limit(r *http.Request) int {
	return store.ClampLimit(api.QueryInt(r, "limit", DefaultLimit), DefaultLimit, store.MaxListLimit)
}
