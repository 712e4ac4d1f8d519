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

// Package webhook receives inbound emails posted by a mail relay (SendGrid
// Inbound Parse style multipart forms) and hands them to the reconciliation
// pipeline. The relay retries on non-2xx responses, so the handler only
// rejects malformed requests and senders over their rate limit.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/irhub/inbound/internal/api"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/pipeline"
	"github.com/irhub/inbound/internal/ratelimit"
)

// MaxMemory is the multipart memory limit; larger parts spill to disk.
const MaxMemory = 32 << 20

// Processor reconciles one inbound email.
type Processor interface {
	Process(ctx context.Context, in pipeline.Inbound) pipeline.Outcome
}

// Handler serves POST /inbound.
type Handler struct {
	proc    Processor
	limiter ratelimit.Limiter
	now     func() time.Time
}

// NewHandler creates an inbound handler. A nil limiter disables admission
// control.
func NewHandler(proc Processor, limiter ratelimit.Limiter) *Handler {
	return &Handler{
		proc:    proc,
		limiter: limiter,
		now:     time.Now,
	}
}

// ParsedFields is the parsed block of a response.
type ParsedFields struct {
	Address  string `json:"address"`
	Datetime string `json:"datetime"`
	County   string `json:"county"`
}

// Response is the body returned for an accepted inbound email.
type Response struct {
	Status      string       `json:"status"`
	Sender      string       `json:"sender"`
	Parsed      ParsedFields `json:"parsed"`
	Strategy    string       `json:"strategy"`
	Match       *string      `json:"match"`
	Attachments []string     `json:"attachments"`
	Forwarded   bool         `json:"forwarded"`
	InboundID   *string      `json:"inbound_id"`
	Recipient   *string      `json:"recipient"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

var errMissingSender = errors.New("missing sender")

// ServeInbound handles one inbound email.
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		slog.Warn("malformed inbound form", "error", err)
		api.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Status: "invalid", Error: err.Error()})
		return
	}

	sender := strings.TrimSpace(firstValue(r, "from", "sender"))
	if sender == "" {
		api.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Status: "invalid", Error: errMissingSender.Error()})
		return
	}

	if !h.admit(w, r, senderKey(sender)) {
		return
	}

	atts, err := collectAttachments(r)
	if err != nil {
		slog.Warn("failed to read attachments", "sender", sender, "error", err)
	}

	slog.Info("inbound received",
		"sender", sender,
		"subject", r.FormValue("subject"),
		"attachments", len(atts),
	)

	out := h.proc.Process(r.Context(), pipeline.Inbound{
		Sender:      sender,
		Subject:     r.FormValue("subject"),
		Text:        r.FormValue("text"),
		HTML:        r.FormValue("html"),
		Attachments: atts,
	})

	api.WriteJSON(w, http.StatusOK, buildResponse(sender, atts, out))
}

// admit applies the per-sender limit. Limiter errors fail open.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.limiter == nil {
		return true
	}
	res, err := h.limiter.Allow(r.Context(), "inbound:"+key)
	if err != nil {
		slog.Warn("rate limiter unavailable, admitting", "sender", key, "error", err)
		return true
	}
	if res.Allowed {
		return true
	}

	retry := int(res.RetryAfter(h.now()).Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	slog.Warn("inbound rate limited", "sender", key, "retry_after", retry)
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	api.WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Status: "rate_limited",
		Error:  ratelimit.ErrRateLimited.Error(),
	})
	return false
}

func buildResponse(sender string, atts []models.Attachment, out pipeline.Outcome) Response {
	resp := Response{
		Status: "received",
		Sender: sender,
		Parsed: ParsedFields{
			Address:  out.Parsed.Location,
			Datetime: out.Parsed.Timestamp,
			County:   out.Parsed.Jurisdiction,
		},
		Strategy:    out.Strategy,
		Attachments: make([]string, 0, len(atts)),
		Forwarded:   out.Forward.Forwarded(),
	}
	for _, a := range atts {
		resp.Attachments = append(resp.Attachments, a.Name)
	}
	if out.Match != nil {
		id := out.Match.ID
		resp.Match = &id
	}
	if out.InboundID != "" {
		id := out.InboundID
		resp.InboundID = &id
	}
	if out.Recipient != "" {
		to := out.Recipient
		resp.Recipient = &to
	}
	return resp
}

func parseForm(r *http.Request) error {
	if r.Method != http.MethodPost {
		return fmt.Errorf("method %s not allowed", r.Method)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(MaxMemory); err != nil {
			return fmt.Errorf("parse multipart form: %w", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	return nil
}

func firstValue(r *http.Request, keys ...string) string {
	for _, k := range keys {
		if v := r.FormValue(k); strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// senderKey reduces a From header to its lowercased address.
func senderKey(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// collectAttachments reads attachment1..N when the relay sends an
// "attachments" count, and otherwise every file part in key order.
func collectAttachments(r *http.Request) ([]models.Attachment, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File) == 0 {
		return nil, nil
	}
	files := r.MultipartForm.File

	var headers []*multipart.FileHeader
	var keys []string
	if n, err := strconv.Atoi(strings.TrimSpace(r.FormValue("attachments"))); err == nil && n > 0 {
		for i := 1; i <= n; i++ {
			key := fmt.Sprintf("attachment%d", i)
			if fhs := files[key]; len(fhs) > 0 {
				headers = append(headers, fhs[0])
				keys = append(keys, key)
			}
		}
	} else {
		names := make([]string, 0, len(files))
		for k := range files {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			for _, fh := range files[k] {
				headers = append(headers, fh)
				keys = append(keys, k)
			}
		}
	}

	atts := make([]models.Attachment, 0, len(headers))
	var errs []error
	for i, fh := range headers {
		a, err := readAttachment(fh, keys[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		atts = append(atts, a)
	}
	return atts, errors.Join(errs...)
}

func readAttachment(fh *multipart.FileHeader, fallbackName string) (models.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("open %s: %w", fallbackName, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read %s: %w", fallbackName, err)
	}
	name := fh.Filename
	if name == "" {
		name = fallbackName
	}
	return models.Attachment{
		Name:        name,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        len(content),
		Content:     content,
	}, nil
}
