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

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/irhub/inbound/internal/api"
	"github.com/irhub/inbound/internal/models"
)

type contextKey string

const requesterKey = contextKey("requester")

// WithRequester returns a context carrying r.
func WithRequester(ctx context.Context, r *models.Requester) context.Context {
	return context.WithValue(ctx, requesterKey, r)
}

// RequesterFrom returns the authenticated requester, if any.
func RequesterFrom(ctx context.Context) (*models.Requester, bool) {
	r, ok := ctx.Value(requesterKey).(*models.Requester)
	return r, ok && r != nil
}

// Optional authenticates a bearer token when one is sent. Requests without
// an Authorization header pass through anonymously; a present but invalid
// token is rejected with 401.
func (s *Service) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			api.WriteError(w, http.StatusUnauthorized, "invalid Authorization header")
			return
		}

		requester, err := s.Authenticate(r.Context(), strings.TrimSpace(token))
		if err != nil {
			if !errors.Is(err, ErrTokenInvalid) {
				slog.Error("token authentication failed", "error", err)
			}
			api.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), requester)))
	})
}
