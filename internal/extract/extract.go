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

// Package extract pulls the location, timestamp and jurisdiction out of an
// arbitrary inbound email body.
//
// Extraction runs an ordered list of strategies. The first strategy to
// produce all three fields wins; partial results from earlier strategies
// are kept and filled in by later ones. The embedded marker is absolute:
// when present it is returned as-is.
package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/irhub/inbound/internal/models"
)

// Strategy names recorded on the inbound record.
const (
	StrategyMarker   = "marker"
	StrategyLabels   = "labels"
	StrategyDequoted = "dequoted"
	StrategyLLM      = "llm"
	StrategyNone     = "none"
)

// Input is the raw email content handed to the extractor.
type Input struct {
	Text string
	HTML string
}

// Document is the prepared form of an Input shared by all strategies.
type Document struct {
	// Text is the plain-text body, or the HTML body rendered to text when
	// the email has no plain-text part.
	Text string
	// HTML is the raw HTML body.
	HTML string
	// HTMLText is the HTML body rendered to text.
	HTMLText string
	// Cleaned is Text with quoted history and signatures removed.
	Cleaned string
}

// NewDocument prepares in for extraction.
func NewDocument(in Input) *Document {
	doc := &Document{HTML: in.HTML}
	if in.HTML != "" {
		doc.HTMLText = HTMLToText(in.HTML)
	}
	doc.Text = normalizeNewlines(in.Text)
	if strings.TrimSpace(doc.Text) == "" {
		doc.Text = doc.HTMLText
	}
	doc.Cleaned = CleanReply(doc.Text)
	return doc
}

// Outcome is the tagged result of one strategy.
type Outcome struct {
	Fields models.Fields
	Found  bool
}

// Strategy is one stage of the extraction chain.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, doc *Document) Outcome
}

// GapFiller is implemented by strategies whose values must never override
// a field an earlier strategy already found.
type GapFiller interface {
	FillsGaps() bool
}

func fillsGaps(s Strategy) bool {
	g, ok := s.(GapFiller)
	return ok && g.FillsGaps()
}

// Result is the output of the whole chain.
type Result struct {
	Fields   models.Fields
	Strategy string
}

// Extractor runs strategies in order.
type Extractor struct {
	strategies []Strategy
}

// New builds an extractor from an explicit ordered list of strategies.
func New(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// NewDefault returns the standard chain: marker, labels on the raw body,
// labels on the de-quoted body and, when llm is non-nil, the LLM fallback.
func NewDefault(llm Strategy) *Extractor {
	strategies := []Strategy{Marker{}, Labels{}, Dequoted{}}
	if llm != nil {
		strategies = append(strategies, llm)
	}
	return New(strategies...)
}

// Extract never fails. The first strategy that finds all three fields
// wins with its own values. Partial values, and everything a gap filler
// returns, only fill fields still empty; the result is tagged
// StrategyNone unless that merge completes all three.
func (e *Extractor) Extract(ctx context.Context, in Input) Result {
	doc := NewDocument(in)

	var acc models.Fields
	for _, s := range e.strategies {
		out := s.Extract(ctx, doc)
		if out.Found && !fillsGaps(s) {
			slog.Info("extracted fields", "strategy", s.Name())
			return Result{Fields: out.Fields, Strategy: s.Name()}
		}

		acc = acc.Merge(out.Fields)
		if acc.Complete() {
			slog.Info("extracted fields", "strategy", s.Name())
			return Result{Fields: acc, Strategy: s.Name()}
		}
		slog.Debug("extraction strategy incomplete",
			"strategy", s.Name(),
			"found", out.Found,
		)
	}

	slog.Info("extraction incomplete",
		"has_location", acc.Location != "",
		"has_timestamp", acc.Timestamp != "",
		"has_jurisdiction", acc.Jurisdiction != "",
	)
	return Result{Fields: acc, Strategy: StrategyNone}
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
