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

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

var requestRowColumns = []string{
	"id", "location", "requested_at", "jurisdiction", "jurisdiction_email",
	"created_by", "requester_email", "created_at",
}

func setupStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS requesters").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s, err := NewStore(context.Background(), mockPool)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore_SchemaError(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS requesters").
		WillReturnError(errors.New("permission denied"))

	_, err = NewStore(context.Background(), mockPool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")
}

func TestCreateRequest(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	req := &models.IncidentRequest{
		Location:          "334 Wilshire Blvd",
		RequestedAt:       "2025-06-20 10:00",
		Jurisdiction:      "Los Angeles",
		JurisdictionEmail: "records@lacofd.example",
		CreatedBy:         "alice",
	}

	mockPool.ExpectExec("INSERT INTO incident_requests").
		WithArgs(pgxmock.AnyArg(), "334 Wilshire Blvd", "2025-06-20 10:00", "Los Angeles",
			"records@lacofd.example", "alice", nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateRequest(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.False(t, req.CreatedAt.IsZero())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFindCandidates(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	newer := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)

	t.Run("Unbounded", func(t *testing.T) {
		rows := mockPool.NewRows(requestRowColumns).
			AddRow("r2", "334 Wilshire Blvd", "2025-06-20 10:00", "Los Angeles", "", "alice", "", newer).
			AddRow("r1", "334 Wilshire Blvd", "2025-06-20 10:00", "Los Angeles", "", "", "bob@example.com", older)

		mockPool.ExpectQuery(`FROM incident_requests\s+WHERE jurisdiction ILIKE \$1 ESCAPE`).
			WithArgs("%Los Angeles%", store.DefaultCandidateLimit).
			WillReturnRows(rows)

		got, err := s.FindCandidates(context.Background(), store.CandidateQuery{Jurisdiction: " Los Angeles "})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r2", got[0].ID)
		assert.Equal(t, "alice", got[0].CreatedBy)
		assert.Equal(t, "bob@example.com", got[1].RequesterEmail)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("LookbackAndEscaping", func(t *testing.T) {
		since := newer.Add(-30 * 24 * time.Hour)
		mockPool.ExpectQuery(`created_at >= \$2 ORDER BY created_at DESC, id DESC LIMIT \$3`).
			WithArgs(`%50\%\_off%`, since, 10).
			WillReturnRows(mockPool.NewRows(requestRowColumns))

		got, err := s.FindCandidates(context.Background(), store.CandidateQuery{
			Jurisdiction: "50%_off",
			Since:        since,
			Limit:        10,
		})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		mockPool.ExpectQuery("FROM incident_requests").
			WithArgs("%Kern%", store.DefaultCandidateLimit).
			WillReturnError(errors.New("connection reset"))

		_, err := s.FindCandidates(context.Background(), store.CandidateQuery{Jurisdiction: "Kern"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRequesterByHandle(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	t.Run("Found", func(t *testing.T) {
		rows := mockPool.NewRows([]string{"id", "handle", "password_hash", "email", "created_at"}).
			AddRow("u1", "alice", "hash", "alice@example.com", time.Now())
		mockPool.ExpectQuery("FROM requesters").WithArgs("alice").WillReturnRows(rows)

		r, err := s.RequesterByHandle(context.Background(), "alice")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, "alice@example.com", r.Email)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool.ExpectQuery("FROM requesters").WithArgs("bob").WillReturnError(pgx.ErrNoRows)

		r, err := s.RequesterByHandle(context.Background(), "bob")
		require.NoError(t, err)
		assert.Nil(t, r)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCreateRequester_Duplicate(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	mockPool.ExpectExec("INSERT INTO requesters").
		WithArgs(pgxmock.AnyArg(), "alice", "x", "", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.CreateRequester(context.Background(), &models.Requester{Handle: "alice", PasswordHash: "x"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestWithTx(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	t.Run("Commit", func(t *testing.T) {
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO inbound_emails").
			WithArgs(pgxmock.AnyArg(), "fire@example.com", "Report", "body",
				"334 Wilshire Blvd", nil, nil, "none", true, 2, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("UPDATE inbound_emails SET matched_request_id").
			WithArgs("r1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		e := &models.InboundEmail{
			Sender:          "fire@example.com",
			Subject:         "Report",
			Body:            "body",
			Parsed:          models.Fields{Location: "334 Wilshire Blvd"},
			Strategy:        "none",
			AttachmentCount: 2,
		}
		err := s.WithTx(context.Background(), func(q store.Queries) error {
			if err := q.CreateInbound(context.Background(), e); err != nil {
				return err
			}
			return q.LinkMatch(context.Background(), e.ID, "r1")
		})
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Rollback", func(t *testing.T) {
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO inbound_emails").
			WithArgs(pgxmock.AnyArg(), "x@example.com", "", "",
				nil, nil, nil, "", false, 0, pgxmock.AnyArg()).
			WillReturnError(errors.New("disk full"))
		mockPool.ExpectRollback()

		err := s.WithTx(context.Background(), func(q store.Queries) error {
			return q.CreateInbound(context.Background(), &models.InboundEmail{Sender: "x@example.com"})
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecordForward(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	mockPool.ExpectExec("UPDATE inbound_emails").
		WithArgs("alice@example.com", "sent", "msg-1", pgxmock.AnyArg(), "inb-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.RecordForward(context.Background(), "inb-1", models.ForwardOutcome{
		To:        "alice@example.com",
		Status:    models.ForwardSent,
		MessageID: "msg-1",
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentInbound(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	created := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	rows := mockPool.NewRows([]string{
		"id", "sender", "subject", "body",
		"parsed_location", "parsed_timestamp", "parsed_jurisdiction",
		"extraction_strategy", "attachment_count", "matched_request_id",
		"forwarded_to", "forward_status", "forward_message_id",
		"forwarded_at", "created_at",
	}).AddRow("inb-1", "fire@example.com", "Report", "body",
		"334 Wilshire Blvd", "2025-06-20 10:00", "Los Angeles",
		"labels", 1, "r1",
		"alice@example.com", "sent", "msg-1",
		nil, created)

	mockPool.ExpectQuery("FROM inbound_emails").WithArgs(store.MaxListLimit).WillReturnRows(rows)

	got, err := s.RecentInbound(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.ForwardSent, got[0].ForwardStatus)
	assert.Equal(t, "r1", got[0].MatchedRequestID)
	assert.Nil(t, got[0].ForwardedAt)
	assert.Equal(t, created, got[0].CreatedAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUnmatchedInbound(t *testing.T) {
	s, mockPool := setupStore(t)
	defer mockPool.Close()

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := mockPool.NewRows([]string{
		"id", "sender", "subject", "body",
		"parsed_location", "parsed_timestamp", "parsed_jurisdiction",
		"extraction_strategy", "attachment_count", "matched_request_id",
		"forwarded_to", "forward_status", "forward_message_id",
		"forwarded_at", "created_at",
	}).AddRow("inb-2", "fire@example.com", "Re: request", "body",
		"334 Wilshire Blvd", "2025-06-20 10:00", "Los Angeles",
		"labels", 0, "",
		"", "", "",
		nil, since.Add(time.Hour))

	mockPool.ExpectQuery(`WHERE matched_request_id IS NULL.*created_at >= \$1 ORDER BY created_at ASC, id ASC LIMIT \$2`).
		WithArgs(since, store.MaxUnmatchedLimit).
		WillReturnRows(rows)

	got, err := s.UnmatchedInbound(context.Background(), store.UnmatchedQuery{Since: since, Limit: 5000})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inb-2", got[0].ID)
	assert.Equal(t, "", got[0].MatchedRequestID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
