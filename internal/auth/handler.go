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
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/irhub/inbound/internal/api"
)

// Handler serves /register and /token.
type Handler struct {
	svc *Service
}

// NewHandler creates the auth HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type registerRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type registerResponse struct {
	Msg    string `json:"msg"`
	Handle string `json:"handle"`
}

// TokenResponse is returned by /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	requester, err := h.svc.Register(r.Context(), req.Handle, req.Password, req.Email)
	switch {
	case errors.Is(err, ErrInvalidInput):
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrHandleTaken):
		api.WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("register failed", "handle", req.Handle, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	slog.Info("requester registered", "handle", requester.Handle)
	api.WriteJSON(w, http.StatusCreated, registerResponse{Msg: "registered", Handle: requester.Handle})
}

// Token handles POST /token. It accepts an OAuth2 password-grant style
// form (username, password) or a JSON body (handle, password).
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var handle, password string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		handle = r.PostFormValue("username")
		if handle == "" {
			handle = r.PostFormValue("handle")
		}
		password = r.PostFormValue("password")
	} else {
		var req registerRequest
		if err := api.DecodeJSON(w, r, &req); err != nil {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		handle, password = req.Handle, req.Password
	}

	token, err := h.svc.Login(r.Context(), handle, password)
	if errors.Is(err, ErrInvalidCredentials) {
		api.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		slog.Error("login failed", "handle", handle, "error", err)
		api.WriteError(w, http.StatusInternalServerError, "login failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}
