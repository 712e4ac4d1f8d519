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

// Package marker formats and scans the machine-readable footer line that
// outbound requests carry so replies can be reconciled without relying on
// free-form labels.
//
// The footer has the form:
//
//	IRH-META: Address=<value> | DateTime=<value> | County=<value>
package marker

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/irhub/inbound/internal/models"
)

// Prefix opens every marker line.
const Prefix = "IRH-META"

// maxWrapped bounds how many wrapped lines are joined back onto a marker.
const maxWrapped = 4

var (
	markerRe    = regexp.MustCompile(`(?i)IRH-META:\s*Address=([^|\r\n<]*?)\s*\|\s*DateTime=([^|\r\n<]*?)\s*\|\s*County=([^|\r\n<]*)`)
	unsafeRun   = regexp.MustCompile(`[|<>\r\n]+`)
	quotePrefix = regexp.MustCompile(`^\s*(?:>\s?)+`)
)

// Format renders the plain-text marker line for f.
func Format(f models.Fields) string {
	return fmt.Sprintf("%s: Address=%s | DateTime=%s | County=%s",
		Prefix, clean(f.Location), clean(f.Timestamp), clean(f.Jurisdiction))
}

// HTML renders the marker inside an element hidden from the reader.
func HTML(f models.Fields) string {
	return `<div style="display:none;max-height:0;overflow:hidden;font-size:1px;color:transparent">` +
		html.EscapeString(Format(f)) + `</div>`
}

// Parse returns the fields of the first well-formed marker found in s.
// A marker is well-formed when all three values are non-empty. Markers
// that a mail client wrapped over several lines, quoted or not, are
// joined back together first.
func Parse(s string) (models.Fields, bool) {
	if s == "" || !strings.Contains(strings.ToUpper(s), Prefix) {
		return models.Fields{}, false
	}
	if f, ok := scan(unwrap(s)); ok {
		return f, true
	}
	return scan(s)
}

func scan(s string) (models.Fields, bool) {
	for _, m := range markerRe.FindAllStringSubmatch(s, -1) {
		f := models.Fields{
			Location:     value(m[1]),
			Timestamp:    value(m[2]),
			Jurisdiction: value(m[3]),
		}
		if f.Complete() {
			return f, true
		}
	}
	return models.Fields{}, false
}

// unwrap returns one line per marker found in s, with quote markers
// removed and the following non-blank lines at the same quote depth
// appended. Wrapping only breaks at spaces, so lines are joined by one.
func unwrap(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	var out []string
	for i := 0; i < len(lines); i++ {
		depth, line := dequote(lines[i])
		if !hasPrefix(line) {
			continue
		}
		joined := line
		for j := i + 1; j < len(lines) && j <= i+maxWrapped; j++ {
			d, next := dequote(lines[j])
			if d != depth || next == "" || hasPrefix(next) {
				break
			}
			joined += " " + next
		}
		out = append(out, joined)
	}
	return strings.Join(out, "\n")
}

func dequote(line string) (int, string) {
	q := quotePrefix.FindString(line)
	return strings.Count(q, ">"), strings.TrimSpace(line[len(q):])
}

func hasPrefix(line string) bool {
	return strings.Contains(strings.ToUpper(line), Prefix)
}

// clean makes a value safe to embed between the marker's delimiters.
func clean(v string) string {
	return strings.Join(strings.Fields(unsafeRun.ReplaceAllString(v, " ")), " ")
}

func value(raw string) string {
	return strings.TrimSpace(html.UnescapeString(raw))
}
