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

// Package llm extracts incident fields from free-form text with an
// OpenAI-compatible chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/irhub/inbound/internal/models"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "gpt-4o-mini"
	DefaultTimeout    = 12 * time.Second
	DefaultMaxRetries = 2

	// maxBodyChars bounds the email text sent to the model.
	maxBodyChars = 12000
)

// ErrRateLimited is returned when the API answered 429 on every attempt.
var ErrRateLimited = errors.New("llm API rate limited")

const promptTemplate = "Extract Address, Date/Time, and County from the email reply. " +
	"Ignore quoted text and signatures. Respond ONLY as JSON with keys: address, datetime, county.\n\n" +
	"Email:\n%s"

// Config configures the client.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// Client calls the chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client, filling unset options with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type extracted struct {
	Address  string `json:"address"`
	DateTime string `json:"datetime"`
	County   string `json:"county"`
}

// ExtractFields asks the model for the three incident fields in body.
// The whole call, retries included, is bounded by the configured timeout.
// Only HTTP 429 responses are retried.
func (c *Client) ExtractFields(ctx context.Context, body string) (models.Fields, error) {
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}

	payload, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "user", Content: fmt.Sprintf(promptTemplate, body)}},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return models.Fields{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff

	content, err := backoff.Retry(ctx, func() (string, error) {
		return c.complete(ctx, payload)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("llm rate limited, backing off", "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return models.Fields{}, err
	}

	return parseFields(content)
}

func (c *Client) complete(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return "", backoff.RetryAfter(secs)
		}
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(fmt.Errorf("llm API returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", backoff.Permanent(fmt.Errorf("parse response: %w", err))
	}
	if cr.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("llm API error: %s", cr.Error.Message))
	}
	if len(cr.Choices) == 0 {
		return "", backoff.Permanent(errors.New("empty response from llm API"))
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// parseFields decodes the model's JSON answer, tolerating a surrounding
// markdown code fence.
func parseFields(content string) (models.Fields, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var e extracted
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &e); err != nil {
		return models.Fields{}, fmt.Errorf("decode llm answer: %w", err)
	}
	return models.Fields{
		Location:     strings.TrimSpace(e.Address),
		Timestamp:    strings.TrimSpace(e.DateTime),
		Jurisdiction: strings.TrimSpace(e.County),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
