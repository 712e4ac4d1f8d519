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

// Package dispatch forwards a matched reply to the requester.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/irhub/inbound/internal/mailer"
	"github.com/irhub/inbound/internal/models"
)

// NoAttachmentsNotice is the body sent when a matched reply had no files.
const NoAttachmentsNotice = "A reply was received but contained no attachments."

// Dispatcher sends at most one email per inbound reply.
type Dispatcher struct {
	mailer mailer.Mailer
	now    func() time.Time
}

// NewDispatcher creates a dispatcher that sends through m.
func NewDispatcher(m mailer.Mailer) *Dispatcher {
	return &Dispatcher{mailer: m, now: time.Now}
}

// Subject is the subject line of a forwarded report.
func Subject(req *models.IncidentRequest) string {
	return "Incident Report Received: " + req.RequestedAt
}

// Forward delivers the attachments of a reply to recipient, or a notice
// when there are none. A nil request yields ForwardNoMatch and an empty
// recipient yields ForwardSkippedNoRecipient; neither sends anything.
// Transport errors are logged and reported as ForwardFailed.
func (d *Dispatcher) Forward(ctx context.Context, req *models.IncidentRequest, recipient string, atts []models.Attachment) models.ForwardOutcome {
	if req == nil {
		return models.ForwardOutcome{Status: models.ForwardNoMatch}
	}
	if recipient == "" {
		slog.Warn("recipient not found for matched request", "request_id", req.ID)
		return models.ForwardOutcome{Status: models.ForwardSkippedNoRecipient}
	}

	msg := &mailer.Message{
		To:      recipient,
		Subject: Subject(req),
	}
	if len(atts) > 0 {
		msg.Text = fmt.Sprintf("Attached are the files received for the incident at %s, %s on %s.",
			req.Location, req.Jurisdiction, req.RequestedAt)
		msg.Attachments = atts
	} else {
		msg.Text = NoAttachmentsNotice
	}

	id, err := d.mailer.Send(ctx, msg)
	if err != nil {
		slog.Error("forward failed",
			"request_id", req.ID,
			"to", recipient,
			"error", err,
		)
		return models.ForwardOutcome{To: recipient, Status: models.ForwardFailed}
	}

	slog.Info("forward dispatched",
		"request_id", req.ID,
		"to", recipient,
		"with_files", len(atts) > 0,
	)
	return models.ForwardOutcome{
		To:        recipient,
		Status:    models.ForwardSent,
		MessageID: id,
		At:        d.now().UTC(),
	}
}
