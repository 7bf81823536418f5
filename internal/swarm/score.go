// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package swarm

import "strings"

// HeuristicScorer rates completions with a cheap, deterministic heuristic.
// The four signals are weighted to sum to 1, so scores land in [0,1] without
// normalization. Identical texts always score identically.
type HeuristicScorer struct{}

const (
	weightCodeFence = 0.35
	weightLength    = 0.25
	weightStructure = 0.20
	weightLineCount = 0.20

	minSubstantialChars = 200
	minSubstantialLines = 10
)

var structureTokens = []string{"return ", "func ", "def ", "function ", "class "}

func (HeuristicScorer) Score(text string) float64 {
	var score float64
	if strings.Contains(text, "```") {
		score += weightCodeFence
	}
	if len(text) >= minSubstantialChars {
		score += weightLength
	}
	for _, token := range structureTokens {
		if strings.Contains(text, token) {
			score += weightStructure
			break
		}
	}
	if strings.Count(text, "\n")+1 >= minSubstantialLines {
		score += weightLineCount
	}
	return score
}
