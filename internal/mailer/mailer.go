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

// Package mailer sends outbound email through a pluggable transport:
// SendGrid, Microsoft Graph sendMail, or a log-only sink.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/irhub/inbound/internal/models"
)

// ErrNoRecipient is returned when a message has no To address.
var ErrNoRecipient = errors.New("message has no recipient")

// Message is one outbound email.
type Message struct {
	To       string
	From     string
	FromName string
	ReplyTo  string
	Subject  string
	Text     string
	HTML     string
	// Headers are extra RFC 5322 headers. Graph only accepts names
	// starting with "X-".
	Headers     map[string]string
	Attachments []models.Attachment
}

// Mailer delivers a message and returns the provider message id, which may
// be empty when the provider does not report one.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Provider names accepted by New.
const (
	ProviderSendGrid = "sendgrid"
	ProviderGraph    = "graph"
	ProviderLog      = "log"
)

// Config selects and configures the transport.
type Config struct {
	Provider string
	From     string
	FromName string
	ReplyTo  string

	SendGrid SendGridConfig
	Graph    GraphConfig
}

// New builds the configured transport wrapped with the sender defaults.
func New(ctx context.Context, cfg Config) (Mailer, error) {
	var m Mailer
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderSendGrid:
		if cfg.SendGrid.APIKey == "" {
			return nil, fmt.Errorf("sendgrid provider requires an API key")
		}
		m = NewSendGrid(cfg.SendGrid)
	case ProviderGraph:
		g, err := NewGraph(ctx, cfg.Graph)
		if err != nil {
			return nil, err
		}
		m = g
	case ProviderLog, "":
		m = Log{}
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
	return WithDefaults(m, cfg.From, cfg.FromName, cfg.ReplyTo), nil
}

// WithDefaults fills From, FromName and ReplyTo on messages that leave
// them empty before handing them to next.
func WithDefaults(next Mailer, from, fromName, replyTo string) Mailer {
	return &defaults{next: next, from: from, fromName: fromName, replyTo: replyTo}
}

type defaults struct {
	next     Mailer
	from     string
	fromName string
	replyTo  string
}

func (d *defaults) Send(ctx context.Context, msg *Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}
	out := *msg
	if out.From == "" {
		out.From = d.from
	}
	if out.FromName == "" {
		out.FromName = d.fromName
	}
	if out.ReplyTo == "" {
		out.ReplyTo = d.replyTo
	}
	return d.next.Send(ctx, &out)
}
