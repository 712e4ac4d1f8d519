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

// Package normalize produces the canonical forms used to compare extracted
// fields against stored incident requests. Every function is total,
// deterministic and idempotent.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TimestampLayout is the canonical rendering of a parsed timestamp.
const TimestampLayout = "2006-01-02 15:04"

var (
	nonAlnum      = regexp.MustCompile(`[^0-9a-zA-Z ]+`)
	countySuffix  = regexp.MustCompile(`(?i)\s+county\s*$`)
	countySuffixN = regexp.MustCompile(`( county)+$`)
)

// Text folds accents, replaces every run of characters outside
// [0-9a-zA-Z ] with a space, collapses whitespace and lowercases.
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = nonAlnum.ReplaceAllString(fold(s), " ")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Timestamp parses s permissively and renders it as TimestampLayout.
// Values that cannot be parsed fall back to Text.
func Timestamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return Text(s)
	}
	return t.Format(TimestampLayout)
}

// Jurisdiction is Text with any trailing "county" word removed, so that
// "Los Angeles County" and "Los Angeles" compare equal.
func Jurisdiction(s string) string {
	t := Text(s)
	if t == "county" {
		return t
	}
	return countySuffixN.ReplaceAllString(t, "")
}

// TrimCounty removes a trailing "County" word from a raw jurisdiction
// value and collapses runs of whitespace, leaving case and punctuation
// untouched.
func TrimCounty(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	trimmed := countySuffix.ReplaceAllString(s, "")
	if trimmed == "" {
		return s
	}
	return trimmed
}

// fold strips combining marks so that "Peñasco" becomes "Penasco".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
