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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store/sqlite"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// isolate points configuration at an empty file and a private SQLite
// database so tests never see the caller's environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{
		"DATABASE_URL", "DATABASE_DRIVER", "REDIS_URL", "EVENTS_QUEUE",
		"MAIL_PROVIDER", "SENDGRID_API_KEY", "GRAPH_TENANT_ID", "GRAPH_CLIENT_ID",
		"GRAPH_CLIENT_SECRET", "GRAPH_SENDER", "OPENAI_API_KEY",
		"MATCH_CANDIDATE_LIMIT", "MATCH_LOOKBACK",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("PARSER_USE_LLM", "false")
	t.Setenv("USE_LLM_PARSER", "false")
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	dbPath := filepath.Join(dir, "inbound.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dbPath)
	return dbPath
}

func TestExtract_Stdin(t *testing.T) {
	body := "Thanks, see attached.\n\n> Address: 334 Wilshire Blvd\n> Date/Time: 2025-06-20 10:00\n> County: Los Angeles\n"

	out, err := execute(t, body, "extract")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Complete)
	assert.Equal(t, "334 Wilshire Blvd", got.Parsed.Location)
	assert.Equal(t, "2025-06-20 10:00", got.Parsed.Timestamp)
	assert.Equal(t, "Los Angeles", got.Parsed.Jurisdiction)
}

func TestExtract_Files(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "body.html")
	require.NoError(t, os.WriteFile(htmlPath, []byte(
		"<p>Address: 334 Wilshire Blvd</p><p>Date/Time: 2025-06-20 10:00</p><p>County: Los&nbsp;Angeles</p>",
	), 0o600))

	out, err := execute(t, "", "extract", "--html", htmlPath)
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Complete)
	assert.Equal(t, "Los Angeles", got.Parsed.Jurisdiction)
}

func TestExtract_Incomplete(t *testing.T) {
	out, err := execute(t, "just a thank you note", "extract")
	require.NoError(t, err)

	var got extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "none", got.Strategy)
	assert.False(t, got.Complete)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := execute(t, "", "extract", "--text", filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	out, err := execute(t, "", "normalize",
		"--address", "334 Wilshire Blvd.",
		"--datetime", "2025-06-20 10:00",
		"--county", "Los Angeles County",
	)
	require.NoError(t, err)

	var got normalizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "334 wilshire blvd", got.Address)
	assert.Equal(t, "2025-06-20 10:00", got.Datetime)
	assert.Equal(t, "los angeles", got.JurisdictionKey)
	assert.Equal(t, "Los Angeles", got.CountySearch)
}

func TestMarker(t *testing.T) {
	out, err := execute(t, "", "marker",
		"--address", "334 Wilshire Blvd",
		"--datetime", "2025-06-20 10:00",
		"--county", "Los Angeles",
	)
	require.NoError(t, err)
	assert.Equal(t, "IRH-META: Address=334 Wilshire Blvd | DateTime=2025-06-20 10:00 | County=Los Angeles\n", out)

	out, err = execute(t, "", "marker", "--as-html",
		"--address", "334 Wilshire Blvd",
		"--datetime", "2025-06-20 10:00",
		"--county", "Los Angeles",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "IRH-META")
}

func TestMatch(t *testing.T) {
	dbPath := isolate(t)

	ctx := context.Background()
	st, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	req := &models.IncidentRequest{
		Location:          "334 Wilshire Blvd",
		RequestedAt:       "2025-06-20 10:00",
		Jurisdiction:      "Los Angeles County",
		JurisdictionEmail: "records@lacounty.example",
	}
	require.NoError(t, st.CreateRequest(ctx, req))
	st.Close()

	out, err := execute(t, "", "match",
		"--address", "334 wilshire blvd",
		"--datetime", "6/20/2025 10:00",
		"--county", "Los Angeles",
	)
	require.NoError(t, err)

	var got models.IncidentRequest
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, req.ID, got.ID)

	out, err = execute(t, "", "match",
		"--address", "1 Main St",
		"--datetime", "2025-06-20 10:00",
		"--county", "Los Angeles",
	)
	require.NoError(t, err)
	assert.Equal(t, "no match\n", out)
}

func TestMatch_RequiresAllFields(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "match", "--address", "334 Wilshire Blvd")
	assert.Error(t, err)
}

func TestMailTest_LogTransport(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "mail-test", "--to", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sent via log\n", out)

	_, err = execute(t, "", "mail-test")
	assert.Error(t, err)
}

func TestBackfill(t *testing.T) {
	dbPath := isolate(t)

	ctx := context.Background()
	st, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	early := &models.InboundEmail{
		Sender: "records@lacounty.example",
		Parsed: models.Fields{
			Location:     "334 Wilshire Blvd",
			Timestamp:    "2025-06-20 10:00",
			Jurisdiction: "Los Angeles",
		},
		Strategy: "labels",
	}
	require.NoError(t, st.CreateInbound(ctx, early))
	req := &models.IncidentRequest{
		Location:     "334 Wilshire Blvd",
		RequestedAt:  "2025-06-20 10:00",
		Jurisdiction: "Los Angeles County",
	}
	require.NoError(t, st.CreateRequest(ctx, req))
	st.Close()

	out, err := execute(t, "", "backfill", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `"linked": 1`)

	out, err = execute(t, "", "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, early.ID)
	assert.Contains(t, out, req.ID)

	out, err = execute(t, "", "backfill")
	require.NoError(t, err)
	assert.Contains(t, out, `"scanned": 0`)
}
