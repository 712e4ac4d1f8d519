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

package normalize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"334 Wilshire Blvd", "334 wilshire blvd"},
		{"  334   WILSHIRE\tBlvd. ", "334 wilshire blvd"},
		{"12-B Main St., Apt #4", "12 b main st apt 4"},
		{"Peñasco Road", "penasco road"},
		{"Los Angeles", "los angeles"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-06-20 10:00", "2025-06-20 10:00"},
		{" 2025-06-20 10:00 ", "2025-06-20 10:00"},
		{"May 8, 2009 5:57:51 PM", "2009-05-08 17:57"},
		{"06/20/2025 10:00", "2025-06-20 10:00"},
		{"2025-06-20T10:00:00", "2025-06-20 10:00"},
		{"sometime last week", "sometime last week"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Timestamp(tt.in); got != tt.want {
				t.Errorf("Timestamp(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJurisdiction(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Los Angeles", "los angeles"},
		{"Los Angeles County", "los angeles"},
		{"LOS ANGELES COUNTY.", "los angeles"},
		{"County", "county"},
		{"Orange County Fire Authority", "orange county fire authority"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Jurisdiction(tt.in); got != tt.want {
				t.Errorf("Jurisdiction(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrimCounty(t *testing.T) {
	if got := TrimCounty(" Los Angeles County "); got != "Los Angeles" {
		t.Errorf("TrimCounty = %q, want %q", got, "Los Angeles")
	}
	if got := TrimCounty("County"); got != "County" {
		t.Errorf("TrimCounty = %q, want %q", got, "County")
	}
	if got := TrimCounty("Los  Angeles\tCounty"); got != "Los Angeles" {
		t.Errorf("TrimCounty = %q, want %q", got, "Los Angeles")
	}
}

// TestIdempotent checks f(f(x)) == f(x) for every normalizer.
func TestIdempotent(t *testing.T) {
	inputs := []string{
		"334 Wilshire Blvd",
		"  Peñasco   Rd. #4 ",
		"May 8, 2009 5:57:51 PM",
		"2025-06-20 10:00",
		"sometime last week",
		"Los Angeles County",
		"county county",
		"",
	}
	funcs := map[string]func(string) string{
		"Text":         Text,
		"Timestamp":    Timestamp,
		"Jurisdiction": Jurisdiction,
	}
	for name, f := range funcs {
		for _, in := range inputs {
			once := f(in)
			if twice := f(once); twice != once {
				t.Errorf("%s not idempotent for %q: %q then %q", name, in, once, twice)
			}
		}
	}
}
