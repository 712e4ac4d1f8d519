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

package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// SendGridConfig configures the SendGrid v3 transport.
type SendGridConfig struct {
	APIKey string
	// Host overrides the API host, mainly for tests.
	Host string
}

// SendGrid sends mail through the SendGrid v3 mail/send API.
type SendGrid struct {
	apiKey string
	host   string
}

// NewSendGrid creates a SendGrid transport.
func NewSendGrid(cfg SendGridConfig) *SendGrid {
	host := cfg.Host
	if host == "" {
		host = sendGridHost
	}
	return &SendGrid{apiKey: cfg.APIKey, host: host}
}

// Send posts the message and returns the X-Message-Id response header.
func (s *SendGrid) Send(ctx context.Context, msg *Message) (string, error) {
	req := sendgrid.GetRequest(s.apiKey, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = mail.GetRequestBody(buildV3Mail(msg))

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sendgrid returned HTTP %d: %s", resp.StatusCode, truncate(resp.Body, 300))
	}

	for k, v := range resp.Headers {
		if http.CanonicalHeaderKey(k) == "X-Message-Id" && len(v) > 0 {
			return v[0], nil
		}
	}
	return "", nil
}

func buildV3Mail(msg *Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(msg.FromName, msg.From))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	m.AddPersonalizations(p)

	// SendGrid requires text/plain before text/html and at least one part.
	text := msg.Text
	if text == "" {
		text = " "
	}
	m.AddContent(mail.NewContent("text/plain", text))
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	for _, att := range msg.Attachments {
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(contentType(att.ContentType))
		a.SetFilename(att.Name)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}
	return m
}

func contentType(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
