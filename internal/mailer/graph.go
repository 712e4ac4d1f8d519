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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphConfig configures the Microsoft Graph sendMail transport.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox (UPN or id) the app sends as.
	Sender  string
	BaseURL string
}

// Graph sends mail as a mailbox through the Graph sendMail action.
type Graph struct {
	httpClient *http.Client
	baseURL    string
	sender     string
}

// NewGraph creates a Graph transport authenticated with the client
// credentials flow.
func NewGraph(ctx context.Context, cfg GraphConfig) (*Graph, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("graph provider requires tenant_id, client_id and client_secret")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("graph provider requires a sender mailbox")
	}
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return NewGraphWithClient(creds.Client(ctx), cfg.BaseURL, cfg.Sender), nil
}

// NewGraphWithClient creates a Graph transport over an already
// authenticated HTTP client.
func NewGraphWithClient(httpClient *http.Client, baseURL, sender string) *Graph {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &Graph{httpClient: httpClient, baseURL: baseURL, sender: sender}
}

type graphAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ToRecipients           []graphAddress    `json:"toRecipients"`
	ReplyTo                []graphAddress    `json:"replyTo,omitempty"`
	InternetMessageHeaders []graphHeader     `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

type sendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

func address(addr, name string) graphAddress {
	var a graphAddress
	a.EmailAddress.Address = addr
	a.EmailAddress.Name = name
	return a
}

// Send posts to /users/{sender}/sendMail. Graph does not return a message
// id, so the returned id is always empty.
func (g *Graph) Send(ctx context.Context, msg *Message) (string, error) {
	body, err := json.Marshal(sendMailRequest{Message: buildGraphMessage(msg)})
	if err != nil {
		return "", fmt.Errorf("marshal sendMail: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(g.sender))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph sendMail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return "", fmt.Errorf("graph API returned HTTP %d: %s", resp.StatusCode, b)
	}
	return "", nil
}

func buildGraphMessage(msg *Message) graphMessage {
	var m graphMessage
	m.Subject = msg.Subject
	if msg.HTML != "" {
		m.Body.ContentType = "HTML"
		m.Body.Content = msg.HTML
	} else {
		m.Body.ContentType = "Text"
		m.Body.Content = msg.Text
	}
	m.ToRecipients = []graphAddress{address(msg.To, "")}
	if msg.ReplyTo != "" {
		m.ReplyTo = []graphAddress{address(msg.ReplyTo, "")}
	}
	for k, v := range msg.Headers {
		m.InternetMessageHeaders = append(m.InternetMessageHeaders, graphHeader{Name: k, Value: v})
	}
	for _, att := range msg.Attachments {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  contentType(att.ContentType),
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}
	return m
}
