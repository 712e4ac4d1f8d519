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

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/pipeline"
	"github.com/irhub/inbound/internal/ratelimit"
)

type fakeProcessor struct {
	got   []pipeline.Inbound
	reply pipeline.Outcome
}

func (p *fakeProcessor) Process(_ context.Context, in pipeline.Inbound) pipeline.Outcome {
	p.got = append(p.got, in)
	return p.reply
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

type denyLimiter struct {
	resetAt time.Time
}

func (d denyLimiter) Allow(context.Context, string) (*ratelimit.Result, error) {
	return &ratelimit.Result{Allowed: false, ResetAt: d.resetAt}, nil
}

type part struct {
	field    string
	filename string
	content  string
}

func multipartRequest(t *testing.T, fields map[string]string, files []part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/inbound", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServeInbound_Received(t *testing.T) {
	proc := &fakeProcessor{reply: pipeline.Outcome{
		InboundID: "in-1",
		Parsed:    models.Fields{Location: "334 Wilshire Blvd", Timestamp: "2025-06-20 10:00", Jurisdiction: "Los Angeles"},
		Strategy:  "labels",
		Match:     &models.IncidentRequest{ID: "req-1"},
		Recipient: "alice@example.com",
		Forward:   models.ForwardOutcome{Status: models.ForwardSent},
	}}
	h := NewHandler(proc, nil)

	req := multipartRequest(t, map[string]string{
		"from":        "County Clerk <Clerk@County.gov>",
		"subject":     "RE: request",
		"text":        "Address: 334 Wilshire Blvd",
		"attachments": "2",
	}, []part{
		{field: "attachment1", filename: "report.pdf", content: "pdf"},
		{field: "attachment2", filename: "photo.jpg", content: "jpg"},
		{field: "stray", filename: "ignored.txt", content: "x"},
	})
	rec := httptest.NewRecorder()
	h.ServeInbound(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[Response](t, rec)
	assert.Equal(t, "received", resp.Status)
	assert.Equal(t, "County Clerk <Clerk@County.gov>", resp.Sender)
	assert.Equal(t, "334 Wilshire Blvd", resp.Parsed.Address)
	assert.Equal(t, "labels", resp.Strategy)
	require.NotNil(t, resp.Match)
	assert.Equal(t, "req-1", *resp.Match)
	assert.Equal(t, []string{"report.pdf", "photo.jpg"}, resp.Attachments)
	assert.True(t, resp.Forwarded)
	require.NotNil(t, resp.InboundID)
	assert.Equal(t, "in-1", *resp.InboundID)

	require.Len(t, proc.got, 1)
	in := proc.got[0]
	assert.Equal(t, "RE: request", in.Subject)
	require.Len(t, in.Attachments, 2)
	assert.Equal(t, []byte("pdf"), in.Attachments[0].Content)
	assert.Equal(t, 3, in.Attachments[1].Size)
}

func TestServeInbound_NoMatchRendersNulls(t *testing.T) {
	h := NewHandler(&fakeProcessor{reply: pipeline.Outcome{Strategy: "none"}}, nil)

	form := url.Values{"sender": {"x@y.z"}, "text": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeInbound(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Nil(t, raw["match"])
	assert.Nil(t, raw["inbound_id"])
	assert.Nil(t, raw["recipient"])
	assert.Equal(t, []any{}, raw["attachments"])
	assert.Equal(t, false, raw["forwarded"])
	assert.Equal(t, "x@y.z", raw["sender"])
}

func TestServeInbound_AnyFilePartFallback(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(proc, nil)

	req := multipartRequest(t, map[string]string{"from": "x@y.z"}, []part{
		{field: "b-file", filename: "second.pdf", content: "2"},
		{field: "a-file", filename: "first.pdf", content: "1"},
	})
	rec := httptest.NewRecorder()
	h.ServeInbound(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"first.pdf", "second.pdf"}, decode[Response](t, rec).Attachments)
}

func TestServeInbound_Invalid(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(proc, nil)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{
			name: "missing sender",
			req:  multipartRequest(t, map[string]string{"text": "hi"}, nil),
		},
		{
			name: "blank sender",
			req:  multipartRequest(t, map[string]string{"from": "   "}, nil),
		},
		{
			name: "broken multipart",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/inbound", strings.NewReader("garbage"))
				r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
				return r
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeInbound(rec, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid", decode[ErrorResponse](t, rec).Status)
		})
	}
	assert.Empty(t, proc.got)
}

func TestServeInbound_RateLimited(t *testing.T) {
	proc := &fakeProcessor{}
	limiter := ratelimit.NewMemory(ratelimit.Config{RequestsPerWindow: 5, Window: time.Hour})
	h := NewHandler(proc, limiter)

	send := func(from string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeInbound(rec, multipartRequest(t, map[string]string{"from": from}, nil))
		return rec
	}

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, send("Clerk <clerk@county.gov>").Code)
	}

	// Same address, different display name and case.
	rec := send("CLERK@county.gov")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, proc.got, 5)

	assert.Equal(t, http.StatusOK, send("other@county.gov").Code)
}

func TestServeInbound_RetryAfterHeader(t *testing.T) {
	now := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
	h := NewHandler(&fakeProcessor{}, denyLimiter{resetAt: now.Add(7 * time.Second)})
	h.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	h.ServeInbound(rec, multipartRequest(t, map[string]string{"from": "x@y.z"}, nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Retry-After"))
}

func TestServeInbound_LimiterErrorFailsOpen(t *testing.T) {
	proc := &fakeProcessor{}
	h := NewHandler(proc, errLimiter{})

	rec := httptest.NewRecorder()
	h.ServeInbound(rec, multipartRequest(t, map[string]string{"from": "x@y.z"}, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, proc.got, 1)
}

// TestSenderKey verifies display names and case are stripped.
func TestSenderKey(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"clerk@county.gov", "clerk@county.gov"},
		{"County Clerk <Clerk@County.GOV>", "clerk@county.gov"},
		{"\"Clerk, County\" <clerk@county.gov>", "clerk@county.gov"},
		{"  Not An Address  ", "not an address"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			if got := senderKey(tt.from); got != tt.want {
				t.Errorf("senderKey(%q) = %q, want %q", tt.from, got, tt.want)
			}
		})
	}
}
