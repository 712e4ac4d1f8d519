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

// Package pipeline reconciles one inbound email: it extracts the key
// fields, records the email, matches it to an incident request and
// forwards the reply to the requester.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/irhub/inbound/internal/dispatch"
	"github.com/irhub/inbound/internal/extract"
	"github.com/irhub/inbound/internal/match"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/recipient"
	"github.com/irhub/inbound/internal/store"
)

// Inbound is one received email as delivered by the webhook.
type Inbound struct {
	Sender      string
	Subject     string
	Text        string
	HTML        string
	Attachments []models.Attachment
}

// Outcome summarizes a reconciliation run.
type Outcome struct {
	// InboundID is empty when the audit record could not be written.
	InboundID string
	Parsed    models.Fields
	Strategy  string
	Match     *models.IncidentRequest
	Recipient string
	Forward   models.ForwardOutcome
}

// EventPublisher receives one event per processed email.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.InboundEvent) error
}

// Config holds the collaborators of a Reconciler. Events is optional.
type Config struct {
	Store      store.Store
	Extractor  *extract.Extractor
	Matcher    *match.Matcher
	Resolver   *recipient.Resolver
	Dispatcher *dispatch.Dispatcher
	Events     EventPublisher
}

// Reconciler runs the inbound pipeline.
type Reconciler struct {
	store      store.Store
	extractor  *extract.Extractor
	matcher    *match.Matcher
	resolver   *recipient.Resolver
	dispatcher *dispatch.Dispatcher
	events     EventPublisher
}

// NewReconciler creates a reconciler from cfg.
func NewReconciler(cfg Config) *Reconciler {
	return &Reconciler{
		store:      cfg.Store,
		extractor:  cfg.Extractor,
		matcher:    cfg.Matcher,
		resolver:   cfg.Resolver,
		dispatcher: cfg.Dispatcher,
		events:     cfg.Events,
	}
}

// Process reconciles in. It never fails: storage, lookup and transport
// errors are logged and reflected in the returned Outcome.
func (r *Reconciler) Process(ctx context.Context, in Inbound) Outcome {
	res := r.extractor.Extract(ctx, extract.Input{Text: in.Text, HTML: in.HTML})
	out := Outcome{Parsed: res.Fields, Strategy: res.Strategy}

	slog.Info("inbound parsed",
		"sender", in.Sender,
		"strategy", res.Strategy,
		"complete", res.Fields.Complete(),
		"attachments", len(in.Attachments),
	)

	body := in.Text
	if body == "" {
		body = in.HTML
	}
	rec := &models.InboundEmail{
		Sender:          in.Sender,
		Subject:         in.Subject,
		Body:            body,
		Parsed:          res.Fields,
		Strategy:        res.Strategy,
		AttachmentCount: len(in.Attachments),
	}

	err := r.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateInbound(ctx, rec); err != nil {
			return err
		}
		if !res.Fields.Complete() {
			return nil
		}
		out.Match = r.matcher.Match(ctx, q, res.Fields)
		if out.Match == nil {
			return nil
		}
		if err := q.LinkMatch(ctx, rec.ID, out.Match.ID); err != nil {
			slog.Error("failed to link match",
				"inbound_id", rec.ID,
				"request_id", out.Match.ID,
				"error", err,
			)
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to persist inbound email", "sender", in.Sender, "error", err)
		out.Match = nil
		if res.Fields.Complete() {
			out.Match = r.matcher.Match(ctx, r.store, res.Fields)
		}
	} else {
		out.InboundID = rec.ID
	}

	if out.Match != nil {
		out.Recipient = r.resolver.Resolve(ctx, out.Match)
	}
	out.Forward = r.dispatcher.Forward(ctx, out.Match, out.Recipient, in.Attachments)

	if out.InboundID != "" {
		if err := r.store.RecordForward(ctx, out.InboundID, out.Forward); err != nil {
			slog.Error("failed to record forward outcome",
				"inbound_id", out.InboundID,
				"status", out.Forward.Status,
				"error", err,
			)
		}
	}

	r.publish(ctx, in, out)
	return out
}

func (r *Reconciler) publish(ctx context.Context, in Inbound, out Outcome) {
	if r.events == nil {
		return
	}
	ev := &models.InboundEvent{
		InboundID:     out.InboundID,
		Sender:        in.Sender,
		Forwarded:     out.Forward.Forwarded(),
		ForwardStatus: out.Forward.Status,
		Strategy:      out.Strategy,
		OccurredAt:    time.Now().UTC(),
	}
	if out.Match != nil {
		ev.Match = out.Match.ID
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish inbound event", "inbound_id", out.InboundID, "error", err)
	}
}
