// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package trim performs pre-flight token estimation and source excerpting so
// prompts stay inside a backend's context window. Estimation prefers a real
// tokenizer and degrades to a word-count approximation when the tokenizer is
// unavailable for the requested encoding.
package trim

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

// ElisionMarker separates the head and tail of an excerpted source.
const ElisionMarker = "\n/* ... trimmed ... */\n"

// Estimator estimates token counts for prompt budgeting.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator returns an estimator backed by the cl100k_base encoding. When
// the encoding cannot be loaded the estimator still works via approximation.
func NewEstimator() *Estimator {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warnf("trim: tokenizer unavailable, using word-count approximation: %v", err)
		return &Estimator{}
	}
	return &Estimator{codec: codec}
}

// EstimateTokens returns the token count of content.
func (e *Estimator) EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	if e.codec != nil {
		ids, _, err := e.codec.Encode(content)
		if err == nil {
			return len(ids)
		}
		log.Debugf("trim: encode failed, approximating: %v", err)
	}
	return approximateTokens(content)
}

// approximateTokens multiplies the word count by 1.3, the average subword
// expansion most tokenizers exhibit on prose and code.
func approximateTokens(content string) int {
	return int(float64(len(strings.Fields(content))) * 1.3)
}

// Excerpt shortens source to roughly maxTokens by keeping the head and tail
// and eliding the middle. Line boundaries are preserved so patch anchors that
// survive the excerpt remain byte-exact. Sources already within budget come
// back unchanged.
func (e *Estimator) Excerpt(source string, maxTokens int) string {
	if maxTokens <= 0 || e.EstimateTokens(source) <= maxTokens {
		return source
	}
	lines := strings.Split(source, "\n")
	if len(lines) < 3 {
		return source
	}

	// Budget: 60% of the window for the head, 40% for the tail. The split
	// favors the head because module-level declarations dominate there.
	headBudget := maxTokens * 6 / 10
	tailBudget := maxTokens - headBudget

	head := takeLines(lines, headBudget, e, false)
	tail := takeLines(lines, tailBudget, e, true)
	if head+tail >= len(lines) {
		return source
	}
	return strings.Join(lines[:head], "\n") + ElisionMarker + strings.Join(lines[len(lines)-tail:], "\n")
}

// sectionContextLines bounds how far past a section marker an extract runs.
const sectionContextLines = 40

// SectionExcerpt extracts the regions of source around each named section
// (a line containing the name starts a region of up to sectionContextLines
// lines). Regions are emitted in source order, joined by the elision marker,
// and the whole extract is still subject to maxTokens via Excerpt. When no
// name resolves, it falls back to the plain head/tail excerpt.
func (e *Estimator) SectionExcerpt(source string, names []string, maxTokens int) string {
	lines := strings.Split(source, "\n")
	include := make([]bool, len(lines))
	matched := false
	for i, line := range lines {
		for _, name := range names {
			if name == "" || !strings.Contains(line, name) {
				continue
			}
			matched = true
			for j := i; j < len(lines) && j < i+sectionContextLines; j++ {
				include[j] = true
			}
			break
		}
	}
	if !matched {
		return e.Excerpt(source, maxTokens)
	}

	var parts []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, strings.Join(current, "\n"))
			current = nil
		}
	}
	for i, line := range lines {
		if include[i] {
			current = append(current, line)
		} else {
			flush()
		}
	}
	flush()
	return e.Excerpt(strings.Join(parts, ElisionMarker), maxTokens)
}

// takeLines counts how many lines fit in budget tokens, walking from the
// front or the back.
func takeLines(lines []string, budget int, e *Estimator, fromEnd bool) int {
	taken := 0
	spent := 0
	for i := range lines {
		idx := i
		if fromEnd {
			idx = len(lines) - 1 - i
		}
		cost := e.EstimateTokens(lines[idx]) + 1
		if spent+cost > budget {
			break
		}
		spent += cost
		taken++
	}
	return taken
}
