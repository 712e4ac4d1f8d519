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

// Package models defines the data structures shared across the inbound service.
package models

import "time"

// Fields are the three values extracted from an email and used as the
// matching key for an IncidentRequest.
type Fields struct {
	Location     string `json:"address"`
	Timestamp    string `json:"datetime"`
	Jurisdiction string `json:"county"`
}

// Complete reports whether all three fields are non-empty.
func (f Fields) Complete() bool {
	return f.Location != "" && f.Timestamp != "" && f.Jurisdiction != ""
}

// Merge fills the empty fields of f from other and returns the result.
func (f Fields) Merge(other Fields) Fields {
	if f.Location == "" {
		f.Location = other.Location
	}
	if f.Timestamp == "" {
		f.Timestamp = other.Timestamp
	}
	if f.Jurisdiction == "" {
		f.Jurisdiction = other.Jurisdiction
	}
	return f
}

// Attachment represents a file received with an inbound email.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     []byte `json:"-"`
}

// ForwardStatus records what happened when dispatching an inbound email.
type ForwardStatus string

const (
	ForwardPending            ForwardStatus = ""
	ForwardSent               ForwardStatus = "sent"
	ForwardFailed             ForwardStatus = "failed"
	ForwardSkippedNoRecipient ForwardStatus = "skipped_no_recipient"
	ForwardNoMatch            ForwardStatus = "no_match"
)

// ForwardOutcome is the result of a single dispatch attempt.
type ForwardOutcome struct {
	To        string
	Status    ForwardStatus
	MessageID string
	At        time.Time
}

// Forwarded reports whether something was delivered to the requester.
func (o ForwardOutcome) Forwarded() bool {
	return o.Status == ForwardSent
}

// InboundEmail is the durable audit record of one received email.
//
// Records are written for every accepted webhook call, whether or not the
// fields could be parsed or a request matched.
type InboundEmail struct {
	ID               string        `json:"id"`
	Sender           string        `json:"sender"`
	Subject          string        `json:"subject"`
	Body             string        `json:"body"`
	Parsed           Fields        `json:"parsed"`
	Strategy         string        `json:"strategy"`
	AttachmentCount  int           `json:"attachment_count"`
	MatchedRequestID string        `json:"matched_request_id,omitempty"`
	ForwardedTo      string        `json:"forwarded_to,omitempty"`
	ForwardStatus    ForwardStatus `json:"forward_status,omitempty"`
	ForwardMessageID string        `json:"forward_message_id,omitempty"`
	ForwardedAt      *time.Time    `json:"forwarded_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// HasAttachments reports whether the email carried any files.
func (e *InboundEmail) HasAttachments() bool {
	return e.AttachmentCount > 0
}

// InboundEvent is published to the events queue after an inbound email
// has been reconciled.
type InboundEvent struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	InboundID     string        `json:"inbound_id"`
	Sender        string        `json:"sender"`
	Match         string        `json:"match,omitempty"`
	Forwarded     bool          `json:"forwarded"`
	ForwardStatus ForwardStatus `json:"forward_status"`
	Strategy      string        `json:"strategy"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
