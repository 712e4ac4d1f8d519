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
	"log/slog"
)

// Log is a transport that records messages in the log instead of sending
// them. It is used when no provider is configured.
type Log struct{}

// Send logs the envelope and returns an empty message id.
func (Log) Send(_ context.Context, msg *Message) (string, error) {
	slog.Info("mail not sent: log transport",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return "", nil
}
