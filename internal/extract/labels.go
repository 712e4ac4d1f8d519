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

package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/irhub/inbound/internal/marker"
	"github.com/irhub/inbound/internal/models"
)

var (
	labelLine = regexp.MustCompile(`(?i)^\s*(incident\s*address|address|location|date\s*/\s*time|date\s*time|incident\s*date|incident\s*time|when|county|jurisdiction|agency)\s*[:\-]\s*(.*)$`)

	quoteIntro  = regexp.MustCompile(`(?i)^\s*(On .* wrote:|From:\s.*|-----Original Message-----)\s*$`)
	quotePrefix = regexp.MustCompile(`^\s*(?:>\s?)+`)
	bullet      = regexp.MustCompile(`^[-*•]\s*`)
	spaceRun    = regexp.MustCompile(`[ \t]+`)
)

type field int

const (
	fieldLocation field = iota
	fieldTimestamp
	fieldJurisdiction
)

// Marker scans the text body, the rendered HTML body and the raw HTML for
// an embedded marker line.
type Marker struct{}

func (Marker) Name() string { return StrategyMarker }

func (Marker) Extract(_ context.Context, doc *Document) Outcome {
	for _, s := range []string{doc.Text, doc.HTMLText, doc.HTML} {
		if f, ok := marker.Parse(s); ok {
			return Outcome{Fields: f, Found: true}
		}
	}
	return Outcome{}
}

// Labels reads "Label: value" lines from the raw body.
type Labels struct{}

func (Labels) Name() string { return StrategyLabels }

func (Labels) Extract(_ context.Context, doc *Document) Outcome {
	f := LabelFields(doc.Text)
	return Outcome{Fields: f, Found: f.Complete()}
}

// Dequoted removes reply quote markers and reads labels again, recovering
// the original request text quoted back by the replying client.
type Dequoted struct{}

func (Dequoted) Name() string { return StrategyDequoted }

func (Dequoted) Extract(_ context.Context, doc *Document) Outcome {
	f := LabelFields(Dequote(doc.Text))
	return Outcome{Fields: f, Found: f.Complete()}
}

// LabelFields extracts the first value of each recognised label. A value
// continues over following lines until a blank line, another label, a
// quoted line or the end of the text, so wrapped values survive.
func LabelFields(text string) models.Fields {
	var f models.Fields
	lines := strings.Split(normalizeNewlines(text), "\n")

	for i := 0; i < len(lines); i++ {
		m := labelLine.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		parts := []string{strings.TrimSpace(m[2])}
		j := i + 1
		for ; j < len(lines) && continuesValue(lines[j]); j++ {
			parts = append(parts, strings.TrimSpace(lines[j]))
		}
		i = j - 1

		value := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
		if value == "" {
			continue
		}

		switch classify(m[1]) {
		case fieldLocation:
			if f.Location == "" {
				f.Location = value
			}
		case fieldTimestamp:
			if f.Timestamp == "" {
				f.Timestamp = value
			}
		case fieldJurisdiction:
			if f.Jurisdiction == "" {
				f.Jurisdiction = value
			}
		}
	}
	return f
}

func continuesValue(line string) bool {
	s := strings.TrimSpace(line)
	switch {
	case s == "", s == "--", s == "__":
		return false
	case strings.HasPrefix(s, ">"):
		return false
	case strings.HasPrefix(strings.ToUpper(s), marker.Prefix):
		return false
	case labelLine.MatchString(line), quoteIntro.MatchString(line):
		return false
	}
	return true
}

func classify(label string) field {
	l := strings.ToLower(strings.Join(strings.Fields(label), ""))
	switch {
	case strings.Contains(l, "address"), l == "location":
		return fieldLocation
	case strings.Contains(l, "date"), strings.Contains(l, "time"), l == "when":
		return fieldTimestamp
	default:
		return fieldJurisdiction
	}
}

// Dequote strips leading quote markers from every line.
func Dequote(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")
	for i, line := range lines {
		lines[i] = quotePrefix.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}

// CleanReply keeps only the newly written part of a reply: it cuts at the
// first quote introduction, drops quoted and blank lines, stops at a
// signature delimiter and removes list bullets.
func CleanReply(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")

	var kept []string
	for _, line := range lines {
		if quoteIntro.MatchString(line) {
			break
		}
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, ">") {
			continue
		}
		if s == "--" || s == "__" {
			break
		}
		s = bullet.ReplaceAllString(s, "")
		kept = append(kept, spaceRun.ReplaceAllString(s, " "))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
