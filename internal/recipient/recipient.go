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

// Package recipient decides who receives a forwarded incident report.
package recipient

import (
	"context"
	"log/slog"
	"strings"

	"github.com/irhub/inbound/internal/models"
)

// Directory looks up requesters by handle.
type Directory interface {
	RequesterByHandle(ctx context.Context, handle string) (*models.Requester, error)
}

// Resolver picks the forwarding address for a matched request.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver backed by dir.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the email snapshotted on the request, else the current
// email of the requester who created it, else "".
func (r *Resolver) Resolve(ctx context.Context, req *models.IncidentRequest) string {
	if req == nil {
		return ""
	}
	if email := strings.TrimSpace(req.RequesterEmail); email != "" {
		return email
	}
	handle := strings.TrimSpace(req.CreatedBy)
	if handle == "" || r.dir == nil {
		return ""
	}

	requester, err := r.dir.RequesterByHandle(ctx, handle)
	if err != nil {
		slog.Warn("requester lookup failed", "handle", handle, "request_id", req.ID, "error", err)
		return ""
	}
	if requester == nil {
		return ""
	}
	return strings.TrimSpace(requester.Email)
}
