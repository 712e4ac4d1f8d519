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

// Package requests creates incident requests and sends the outbound email
// that asks a jurisdiction for the report. The email carries the marker
// line so that replies can be matched back to the request.
package requests

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/irhub/inbound/internal/mailer"
	"github.com/irhub/inbound/internal/marker"
	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/normalize"
	"github.com/irhub/inbound/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid incident request")
	ErrNoContact    = errors.New("no contact email for jurisdiction")
	// ErrSendFailed is returned alongside a persisted request when the
	// outbound email could not be sent.
	ErrSendFailed = errors.New("failed to send request email")
)

// Header names carrying the request fields on the outbound email.
const (
	HeaderAddress  = "X-IRH-Address"
	HeaderDateTime = "X-IRH-DateTime"
	HeaderCounty   = "X-IRH-County"
)

// Contacts maps jurisdiction names to the address requests are sent to.
// Lookups ignore case, punctuation and a trailing "County".
type Contacts map[string]string

// Lookup returns the contact for jurisdiction or "".
func (c Contacts) Lookup(jurisdiction string) string {
	want := normalize.Jurisdiction(jurisdiction)
	if want == "" {
		return ""
	}
	for name, email := range c {
		if normalize.Jurisdiction(name) == want {
			return email
		}
	}
	return ""
}

// Input is a request to create an incident request.
type Input struct {
	Address        string `json:"address"`
	Datetime       string `json:"datetime"`
	County         string `json:"county"`
	ToEmail        string `json:"to_email,omitempty"`
	RequesterEmail string `json:"requester_email,omitempty"`
}

// Service creates and lists incident requests.
type Service struct {
	store    store.Queries
	mailer   mailer.Mailer
	contacts Contacts
}

// NewService creates a request service.
func NewService(q store.Queries, m mailer.Mailer, contacts Contacts) *Service {
	return &Service{store: q, mailer: m, contacts: contacts}
}

// Create validates in, persists the request and sends the outbound email.
// When sending fails the persisted request is returned together with an
// error wrapping ErrSendFailed. requester may be nil for anonymous callers.
func (s *Service) Create(ctx context.Context, in Input, requester *models.Requester) (*models.IncidentRequest, error) {
	req := &models.IncidentRequest{
		Location:       strings.TrimSpace(in.Address),
		RequestedAt:    strings.TrimSpace(in.Datetime),
		Jurisdiction:   strings.TrimSpace(in.County),
		RequesterEmail: strings.TrimSpace(in.RequesterEmail),
	}
	if err := validate(req, in.ToEmail); err != nil {
		return nil, err
	}

	if requester != nil {
		req.CreatedBy = requester.Handle
		if req.RequesterEmail == "" {
			req.RequesterEmail = requester.Email
		}
	}

	req.JurisdictionEmail = strings.TrimSpace(in.ToEmail)
	if req.JurisdictionEmail == "" {
		req.JurisdictionEmail = s.contacts.Lookup(req.Jurisdiction)
	}
	if req.JurisdictionEmail == "" {
		return nil, fmt.Errorf("%w %q", ErrNoContact, req.Jurisdiction)
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	slog.Info("incident request created",
		"request_id", req.ID,
		"jurisdiction", req.Jurisdiction,
		"created_by", req.CreatedBy,
	)

	msg := Compose(req)
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("request email failed",
			"request_id", req.ID,
			"to", req.JurisdictionEmail,
			"error", err,
		)
		return req, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	slog.Info("request email sent", "request_id", req.ID, "to", req.JurisdictionEmail)
	return req, nil
}

// Recent returns the newest requests.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.IncidentRequest, error) {
	return s.store.RecentRequests(ctx, limit)
}

func validate(req *models.IncidentRequest, toEmail string) error {
	switch {
	case len(req.Location) < 3:
		return fmt.Errorf("%w: address must be at least 3 characters", ErrInvalidInput)
	case req.RequestedAt == "":
		return fmt.Errorf("%w: datetime is required", ErrInvalidInput)
	case len(req.Jurisdiction) < 2:
		return fmt.Errorf("%w: county must be at least 2 characters", ErrInvalidInput)
	}
	for _, addr := range []string{toEmail, req.RequesterEmail} {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: bad email %q", ErrInvalidInput, addr)
		}
	}
	return nil
}

// Subject is the subject line of an outbound request.
func Subject(req *models.IncidentRequest) string {
	return "Incident Report Request: " + req.RequestedAt
}

// Compose builds the outbound request email. Both bodies end with the
// marker line; in HTML it sits in a hidden element.
func Compose(req *models.IncidentRequest) *mailer.Message {
	f := req.Fields()

	var text strings.Builder
	text.WriteString("Please provide the incident report for the following details:\n\n")
	fmt.Fprintf(&text, "Address: %s\n", req.Location)
	fmt.Fprintf(&text, "Date/Time: %s\n", req.RequestedAt)
	fmt.Fprintf(&text, "County: %s\n\n", req.Jurisdiction)
	text.WriteString("Please reply to this email with the report attached.\n\n")
	text.WriteString(marker.Format(f))
	text.WriteString("\n")

	var body strings.Builder
	body.WriteString("<p>Please provide the incident report for the following details:</p>\n<ul>\n")
	fmt.Fprintf(&body, "<li>Address: %s</li>\n", html.EscapeString(req.Location))
	fmt.Fprintf(&body, "<li>Date/Time: %s</li>\n", html.EscapeString(req.RequestedAt))
	fmt.Fprintf(&body, "<li>County: %s</li>\n", html.EscapeString(req.Jurisdiction))
	body.WriteString("</ul>\n<p>Please reply to this email with the report attached.</p>\n")
	body.WriteString(marker.HTML(f))

	return &mailer.Message{
		To:      req.JurisdictionEmail,
		Subject: Subject(req),
		Text:    text.String(),
		HTML:    body.String(),
		Headers: map[string]string{
			HeaderAddress:  headerValue(req.Location),
			HeaderDateTime: headerValue(req.RequestedAt),
			HeaderCounty:   headerValue(req.Jurisdiction),
		},
	}
}

func headerValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
