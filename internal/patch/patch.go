// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package patch implements the fixed-delimiter patch protocol that travels
// between the edit orchestrator and generation backends. The protocol is a
// narrow wire contract, not a general diff format: a patch is a sequence of
// replace and insert-after blocks identified by literal marker lines.
package patch

import (
	"errors"
	"regexp"
	"strings"
)

// Protocol delimiters. Generation backends must produce these exactly,
// including balanced markers.
const (
	ReplaceStart     = "REPLACE-START"
	WithMark         = "WITH-MARK"
	InsertAfterStart = "INSERT-AFTER-START"
	ContentMark      = "CONTENT-MARK"
	BlockEnd         = "BLOCK-END"
)

// ErrInvalidPatchFormat is returned when a patch contains no recognized block.
var ErrInvalidPatchFormat = errors.New("patch: no recognized block delimiters")

// OpKind discriminates patch operations.
type OpKind int

const (
	// OpReplace substitutes the anchor text with a replacement.
	OpReplace OpKind = iota
	// OpInsertAfter inserts content immediately after the anchor text.
	OpInsertAfter
)

// Operation is one parsed patch block. Operations are transient: parsed from
// patch text, applied, never persisted.
type Operation struct {
	Kind OpKind
	// Anchor is the literal text the operation searches for in the source.
	Anchor string
	// Content is the replacement (OpReplace) or the inserted text (OpInsertAfter).
	Content string
}

// Report describes what an Apply call actually did.
type Report struct {
	// Applied counts operations that modified the source.
	Applied int
	// SkippedAnchors lists anchors that matched neither exactly nor fuzzily.
	// The operation was a no-op; callers decide whether that is fatal.
	SkippedAnchors []string
	// FuzzyMatches counts replaces that needed the normalized-window pass.
	FuzzyMatches int
}

// HasDelimiter reports whether text contains at least one opening marker.
// The orchestrator uses this as a fast shape check on generation replies.
func HasDelimiter(text string) bool {
	return strings.Contains(text, ReplaceStart) || strings.Contains(text, InsertAfterStart)
}

var (
	replaceBlockRe = regexp.MustCompile(`(?s)` + ReplaceStart + `\n(.*?)\n` + WithMark + `\n(.*?)\n` + BlockEnd)
	insertBlockRe  = regexp.MustCompile(`(?s)` + InsertAfterStart + `\n(.*?)\n` + ContentMark + `\n(.*?)\n` + BlockEnd)
)

// Parse extracts ordered operations from patch text. Blocks of both kinds are
// returned in the order they appear. A block with an empty anchor is dropped:
// the empty string matches at offset 0 and would silently prepend instead of
// anchoring. A patch with zero usable blocks is rejected with
// ErrInvalidPatchFormat.
func Parse(text string) ([]Operation, error) {
	type located struct {
		offset int
		op     Operation
	}
	var found []located

	for _, match := range replaceBlockRe.FindAllStringSubmatchIndex(text, -1) {
		anchor := text[match[2]:match[3]]
		if anchor == "" {
			continue
		}
		found = append(found, located{
			offset: match[0],
			op: Operation{
				Kind:    OpReplace,
				Anchor:  anchor,
				Content: text[match[4]:match[5]],
			},
		})
	}
	for _, match := range insertBlockRe.FindAllStringSubmatchIndex(text, -1) {
		anchor := text[match[2]:match[3]]
		if anchor == "" {
			continue
		}
		found = append(found, located{
			offset: match[0],
			op: Operation{
				Kind:    OpInsertAfter,
				Anchor:  anchor,
				Content: text[match[4]:match[5]],
			},
		})
	}
	if len(found) == 0 {
		return nil, ErrInvalidPatchFormat
	}

	// Restore document order across the two block kinds.
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].offset < found[j-1].offset; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	ops := make([]Operation, len(found))
	for i, f := range found {
		ops[i] = f.op
	}
	return ops, nil
}

// Apply runs every operation against source in order and returns the result
// with a report. Operations whose anchor cannot be located are skipped, not
// failed; the report records them so callers can surface warnings.
func Apply(source string, ops []Operation) (string, Report) {
	var report Report
	result := source
	for _, op := range ops {
		switch op.Kind {
		case OpReplace:
			next, fuzzy, ok := applyReplace(result, op.Anchor, op.Content)
			if !ok {
				report.SkippedAnchors = append(report.SkippedAnchors, op.Anchor)
				continue
			}
			result = next
			report.Applied++
			if fuzzy {
				report.FuzzyMatches++
			}
		case OpInsertAfter:
			index := strings.Index(result, op.Anchor)
			if index < 0 {
				report.SkippedAnchors = append(report.SkippedAnchors, op.Anchor)
				continue
			}
			insertAt := index + len(op.Anchor)
			result = result[:insertAt] + op.Content + result[insertAt:]
			report.Applied++
		}
	}
	return result, report
}

// applyReplace substitutes the first occurrence of anchor, trying the exact
// pass first and the normalized sliding-window pass second. The fuzzy return
// reports which pass matched.
func applyReplace(source, anchor, replacement string) (result string, fuzzy, ok bool) {
	if index := strings.Index(source, anchor); index >= 0 {
		return source[:index] + replacement + source[index+len(anchor):], false, true
	}
	result, ok = fuzzyReplace(source, anchor, replacement)
	return result, ok, ok
}

var whitespaceRunRe = regexp.MustCompile(`\s+`)

// normalizeLine collapses whitespace runs to single spaces and trims the ends,
// so anchors survive indentation and spacing drift in the live source.
func normalizeLine(line string) string {
	return strings.TrimSpace(whitespaceRunRe.ReplaceAllString(line, " "))
}

// fuzzyReplace slides a window of len(anchor lines) over the source lines and
// replaces the first window whose normalized form equals the normalized
// anchor. The scan is strictly first-match and deterministic.
func fuzzyReplace(source, anchor, replacement string) (string, bool) {
	anchorLines := strings.Split(anchor, "\n")
	normalized := make([]string, len(anchorLines))
	for i, line := range anchorLines {
		normalized[i] = normalizeLine(line)
	}

	sourceLines := strings.Split(source, "\n")
	window := len(anchorLines)
	for start := 0; start+window <= len(sourceLines); start++ {
		match := true
		for i := 0; i < window; i++ {
			if normalizeLine(sourceLines[start+i]) != normalized[i] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		var out []string
		out = append(out, sourceLines[:start]...)
		out = append(out, strings.Split(replacement, "\n")...)
		out = append(out, sourceLines[start+window:]...)
		return strings.Join(out, "\n"), true
	}
	return source, false
}
