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

package models

import "time"

// Requester is a registered user who creates incident requests.
type Requester struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
}

// IncidentRequest is an outbound request for an incident report.
//
// Location, RequestedAt and Jurisdiction form the matching key and are
// never modified after creation.
type IncidentRequest struct {
	ID                string    `json:"id"`
	Location          string    `json:"address"`
	RequestedAt       string    `json:"datetime"`
	Jurisdiction      string    `json:"county"`
	JurisdictionEmail string    `json:"to_email"`
	CreatedBy         string    `json:"created_by,omitempty"`
	RequesterEmail    string    `json:"requester_email,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Fields returns the request's matching key.
func (r *IncidentRequest) Fields() Fields {
	return Fields{
		Location:     r.Location,
		Timestamp:    r.RequestedAt,
		Jurisdiction: r.Jurisdiction,
	}
}
