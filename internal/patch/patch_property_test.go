// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package patch

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ExactReplaceRoundTrip validates that for any prefix/suffix
// around a unique anchor, a replace operation substitutes exactly that anchor
// and nothing else.
func TestProperty_ExactReplaceRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	identifier := gen.RegexMatch(`[a-z]{3,12}`)

	properties.Property("replace substitutes a unique anchor exactly once", prop.ForAll(
		func(prefix, suffix string) bool {
			const anchor = "ANCHOR_TOKEN"
			const replacement = "REPLACED_TOKEN"
			// Keep the anchor unique by construction.
			if strings.Contains(prefix, anchor) || strings.Contains(suffix, anchor) {
				return true
			}
			source := prefix + anchor + suffix
			result, report := Apply(source, []Operation{{Kind: OpReplace, Anchor: anchor, Content: replacement}})
			return result == prefix+replacement+suffix &&
				report.Applied == 1 &&
				len(report.SkippedAnchors) == 0
		},
		identifier, identifier,
	))

	properties.Property("parse/apply round trip through the wire format", prop.ForAll(
		func(body, replacement string) bool {
			if body == replacement {
				return true
			}
			text := strings.Join([]string{ReplaceStart, body, WithMark, replacement, BlockEnd}, "\n")
			ops, err := Parse(text)
			if err != nil || len(ops) != 1 {
				return false
			}
			source := "before\n" + body + "\nafter"
			result, report := Apply(source, ops)
			return report.Applied == 1 && strings.Contains(result, replacement)
		},
		identifier, identifier,
	))

	properties.TestingRun(t)
}
