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

package requests

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/irhub/inbound/internal/api"
	"github.com/irhub/inbound/internal/auth"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

// DefaultRecentLimit is used when /incident_request/recent has no limit.
const DefaultRecentLimit = 20

// Handler serves the incident request endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates the request HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateResponse is returned by POST /incident_request.
type CreateResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Error   string `json:"error,omitempty"`
}

// Create handles POST /incident_request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := api.DecodeJSON(w, r, &in); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	requester, _ := auth.RequesterFrom(r.Context())
	req, err := h.svc.Create(r.Context(), in, requester)
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoContact):
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrSendFailed):
		api.WriteJSON(w, http.StatusBadGateway, CreateResponse{
			ID:      req.ID,
			Status:  "send_failed",
			ToEmail: req.JurisdictionEmail,
			Subject: Subject(req),
			Error:   ErrSendFailed.Error(),
		})
		return
	case err != nil:
		slog.Error("create incident request failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "failed to create incident request")
		return
	}

	api.WriteJSON(w, http.StatusCreated, CreateResponse{
		ID:      req.ID,
		Status:  "sent",
		ToEmail: req.JurisdictionEmail,
		Subject: Subject(req),
	})
}

// Recent handles GET /incident_request/recent?limit=N.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := store.ClampLimit(api.QueryInt(r, "limit", DefaultRecentLimit), DefaultRecentLimit, store.MaxListLimit)
	reqs, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("list recent requests failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if reqs == nil {
		reqs = []models.IncidentRequest{}
	}
	api.WriteJSON(w, http.StatusOK, reqs)
}
