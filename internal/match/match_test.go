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

package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
	"github.com/irhub/inbound/internal/store/sqlite"
)

type fakeFinder struct {
	requests []models.IncidentRequest
	err      error
	calls    int
	last     store.CandidateQuery
}

func (f *fakeFinder) FindCandidates(_ context.Context, q store.CandidateQuery) ([]models.IncidentRequest, error) {
	f.calls++
	f.last = q
	return f.requests, f.err
}

var wilshire = models.Fields{
	Location:     "334 Wilshire Blvd",
	Timestamp:    "2025-06-20 10:00",
	Jurisdiction: "Los Angeles",
}

func TestMatch(t *testing.T) {
	finder := &fakeFinder{requests: []models.IncidentRequest{
		{ID: "newest-other", Location: "1 Other St", RequestedAt: "2025-06-20 10:00", Jurisdiction: "Los Angeles"},
		{ID: "match-new", Location: "334 WILSHIRE BLVD.", RequestedAt: "6/20/2025 10:00", Jurisdiction: "Los Angeles County"},
		{ID: "match-old", Location: "334 Wilshire Blvd", RequestedAt: "2025-06-20 10:00", Jurisdiction: "Los Angeles"},
	}}

	tests := []struct {
		name   string
		fields models.Fields
		wantID string
	}{
		{name: "exact", fields: wilshire, wantID: "match-new"},
		{
			name: "extra whitespace and casing",
			fields: models.Fields{
				Location:     "  334   wilshire   BLVD ",
				Timestamp:    " 2025-06-20  10:00 ",
				Jurisdiction: "LOS ANGELES",
			},
			wantID: "match-new",
		},
		{
			name:   "different timestamp",
			fields: models.Fields{Location: "334 Wilshire Blvd", Timestamp: "2025-06-21 10:00", Jurisdiction: "Los Angeles"},
		},
	}

	m := NewMatcher(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(context.Background(), finder, tt.fields)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestMatch_MissingFieldSkipsLookup(t *testing.T) {
	m := NewMatcher(Config{})
	for _, f := range []models.Fields{
		{Timestamp: wilshire.Timestamp, Jurisdiction: wilshire.Jurisdiction},
		{Location: wilshire.Location, Jurisdiction: wilshire.Jurisdiction},
		{Location: wilshire.Location, Timestamp: wilshire.Timestamp},
		{Location: "!!!", Timestamp: wilshire.Timestamp, Jurisdiction: wilshire.Jurisdiction},
	} {
		finder := &fakeFinder{requests: []models.IncidentRequest{
			{ID: "r1", Location: wilshire.Location, RequestedAt: wilshire.Timestamp, Jurisdiction: wilshire.Jurisdiction},
		}}
		assert.Nil(t, m.Match(context.Background(), finder, f))
		assert.Equal(t, 0, finder.calls)
	}
}

func TestMatch_LookupErrorIsNoMatch(t *testing.T) {
	finder := &fakeFinder{err: errors.New("db down")}
	assert.Nil(t, NewMatcher(Config{}).Match(context.Background(), finder, wilshire))
	assert.Equal(t, 1, finder.calls)
}

func TestMatch_Query(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	m := NewMatcher(Config{CandidateLimit: 25, Lookback: 30 * 24 * time.Hour})
	m.now = func() time.Time { return now }

	finder := &fakeFinder{}
	m.Match(context.Background(), finder, models.Fields{
		Location:     "1 A St",
		Timestamp:    "noon",
		Jurisdiction: " Kern County ",
	})

	assert.Equal(t, "Kern", finder.last.Jurisdiction)
	assert.Equal(t, 25, finder.last.Limit)
	assert.Equal(t, now.Add(-30*24*time.Hour), finder.last.Since)

	m = NewMatcher(Config{})
	m.Match(context.Background(), finder, wilshire)
	assert.True(t, finder.last.Since.IsZero())
	assert.Equal(t, store.DefaultCandidateLimit, finder.last.Limit)
}

func TestMatch_JurisdictionWhitespaceCollapsed(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()

	req := &models.IncidentRequest{
		Location:     wilshire.Location,
		RequestedAt:  wilshire.Timestamp,
		Jurisdiction: "Los Angeles County",
	}
	require.NoError(t, st.CreateRequest(ctx, req))

	got := NewMatcher(Config{}).Match(ctx, st, models.Fields{
		Location:     wilshire.Location,
		Timestamp:    wilshire.Timestamp,
		Jurisdiction: "Los  Angeles",
	})
	require.NotNil(t, got)
	assert.Equal(t, req.ID, got.ID)
}
