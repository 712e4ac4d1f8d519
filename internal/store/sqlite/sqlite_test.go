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

package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func seedRequest(t *testing.T, s *Store, id, jurisdiction string, created time.Time) {
	t.Helper()
	require.NoError(t, s.CreateRequest(context.Background(), &models.IncidentRequest{
		ID:           id,
		Location:     "334 Wilshire Blvd",
		RequestedAt:  "2025-06-20 10:00",
		Jurisdiction: jurisdiction,
		CreatedAt:    created,
	}))
}

func TestRequestsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &models.IncidentRequest{
		Location:          "334 Wilshire Blvd",
		RequestedAt:       "2025-06-20 10:00",
		Jurisdiction:      "Los Angeles",
		JurisdictionEmail: "records@lacofd.example",
		CreatedBy:         "alice",
	}
	require.NoError(t, s.CreateRequest(ctx, req))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.Equal(t, "", got.RequesterEmail)
	assert.True(t, req.CreatedAt.Equal(got.CreatedAt))

	missing, err := s.GetRequest(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindCandidates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	seedRequest(t, s, "old", "Los Angeles", base)
	seedRequest(t, s, "new", "Los Angeles County", base.Add(48*time.Hour))
	seedRequest(t, s, "other", "Kern", base.Add(24*time.Hour))
	seedRequest(t, s, "wild", "50% Off", base)

	got, err := s.FindCandidates(ctx, store.CandidateQuery{Jurisdiction: "los angeles"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID, "newest first")
	assert.Equal(t, "old", got[1].ID)

	got, err = s.FindCandidates(ctx, store.CandidateQuery{Jurisdiction: "Los Angeles", Since: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)

	got, err = s.FindCandidates(ctx, store.CandidateQuery{Jurisdiction: "Los Angeles", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.FindCandidates(ctx, store.CandidateQuery{Jurisdiction: "%"})
	require.NoError(t, err)
	require.Len(t, got, 1, "wildcards in the input are literal")
	assert.Equal(t, "wild", got[0].ID)
}

func TestInboundLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedRequest(t, s, "r1", "Los Angeles", time.Now())

	e := &models.InboundEmail{
		Sender:          "fire@example.com",
		Subject:         "Report",
		Body:            strings.Repeat("x", store.MaxBodyChars+50),
		Parsed:          models.Fields{Location: "334 Wilshire Blvd", Timestamp: "2025-06-20 10:00", Jurisdiction: "Los Angeles"},
		Strategy:        "labels",
		AttachmentCount: 1,
	}
	err := s.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateInbound(ctx, e); err != nil {
			return err
		}
		return q.LinkMatch(ctx, e.ID, "r1")
	})
	require.NoError(t, err)

	at := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordForward(ctx, e.ID, models.ForwardOutcome{
		To:        "alice@example.com",
		Status:    models.ForwardSent,
		MessageID: "sg-123",
		At:        at,
	}))

	list, err := s.RecentInbound(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Len(t, got.Body, store.MaxBodyChars)
	assert.Equal(t, "r1", got.MatchedRequestID)
	assert.Equal(t, models.ForwardSent, got.ForwardStatus)
	assert.Equal(t, "sg-123", got.ForwardMessageID)
	require.NotNil(t, got.ForwardedAt)
	assert.True(t, at.Equal(*got.ForwardedAt))
	assert.True(t, got.HasAttachments())
}

func TestWithTx_Rollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateInbound(ctx, &models.InboundEmail{Sender: "x@example.com"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := s.RecentInbound(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRequesters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRequester(ctx, &models.Requester{Handle: "alice", PasswordHash: "h", Email: "alice@example.com"}))

	err := s.CreateRequester(ctx, &models.Requester{Handle: "alice", PasswordHash: "h2"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	r, err := s.RequesterByHandle(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "alice@example.com", r.Email)

	r, err = s.RequesterByHandle(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRecentRequestsClampsLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedRequest(t, s, string(rune('a'+i)), "Kern", base.Add(time.Duration(i)*time.Minute))
	}

	got, err := s.RecentRequests(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
}

func TestUnmatchedInbound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedRequest(t, s, "r1", "Los Angeles", time.Now())

	base := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	full := models.Fields{Location: "334 Wilshire Blvd", Timestamp: "2025-06-20 10:00", Jurisdiction: "Los Angeles"}
	for _, e := range []*models.InboundEmail{
		{ID: "old", Sender: "a@example.com", Parsed: full, CreatedAt: base.Add(-48 * time.Hour)},
		{ID: "second", Sender: "a@example.com", Parsed: full, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "first", Sender: "a@example.com", Parsed: full, CreatedAt: base.Add(time.Hour)},
		{ID: "partial", Sender: "a@example.com", Parsed: models.Fields{Location: "334 Wilshire Blvd"}, CreatedAt: base.Add(time.Hour)},
		{ID: "linked", Sender: "a@example.com", Parsed: full, CreatedAt: base.Add(time.Hour)},
	} {
		require.NoError(t, s.CreateInbound(ctx, e))
	}
	require.NoError(t, s.LinkMatch(ctx, "linked", "r1"))

	got, err := s.UnmatchedInbound(ctx, store.UnmatchedQuery{Since: base})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
	assert.Equal(t, full, got[0].Parsed)

	all, err := s.UnmatchedInbound(ctx, store.UnmatchedQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
