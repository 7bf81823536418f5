// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package safety scans generated or patched source for disallowed
// constructs, missing entry-point markers, and credential-shaped strings.
// Everything here is a pattern-based heuristic layer, deliberately favoring
// availability over strictness: only the dangerous blocklist and the byte
// ceiling are hard errors. This is not a sandbox and must never be treated
// as a security boundary.
package safety

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Result is the structured outcome of a validation pass. Any error forbids
// commit; warnings are surfaced to the caller but do not block.
type Result struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether the candidate may be committed.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Config tunes the validator. Zero values fall back to defaults.
type Config struct {
	// MaxBytes is the hard ceiling on candidate size. Default 1MB.
	MaxBytes int `yaml:"max-bytes"`
	// RequiredMarkers lists entry-point names that must appear as substrings;
	// missing ones are warnings, not failures.
	RequiredMarkers []string `yaml:"required-markers"`
}

const defaultMaxBytes = 1 << 20

// dangerousPatterns are hard errors: constructs a self-edit must never
// introduce into its own source.
var dangerousPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\beval\s*\(`), "dynamic code evaluation (eval)"},
	{regexp.MustCompile(`\bnew\s+Function\s*\(`), "dynamic code evaluation (Function constructor)"},
	{regexp.MustCompile(`\bprocess\.exit\s*\(`), "process termination call"},
	{regexp.MustCompile(`\bprocess\.kill\s*\(`), "process termination call"},
	{regexp.MustCompile(`rm\s+-rf\s+/`), "destructive filesystem command"},
	{regexp.MustCompile(`\b(?:unlinkSync|rmdirSync|rmSync)\s*\(`), "destructive filesystem call"},
	{regexp.MustCompile(`while\s*\(\s*(?:true|1)\s*\)\s*\{\s*\}`), "unbounded empty loop"},
}

// suspiciousPatterns are warnings: worth a human look, not worth blocking.
var suspiciousPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\bchild_process\b`), "child process usage"},
	{regexp.MustCompile(`\bexecSync\s*\(`), "synchronous shell execution"},
	{regexp.MustCompile(`\bsetInterval\s*\(`), "recurring timer"},
	{regexp.MustCompile(`\bdelete\s+globalThis\b`), "global mutation"},
}

// secretPatterns match common API-key and token shapes. Matches are always
// warnings; generated code quoting a key shape in a comment is common enough
// that blocking would hurt availability.
var secretPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`), "OpenAI-style secret key"},
	{regexp.MustCompile(`\bgsk_[A-Za-z0-9]{20,}\b`), "Groq-style secret key"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "AWS access key id"},
	{regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`), "GitHub personal access token"},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), "Google API key"},
}

// Validator runs the three scan passes plus the size bound.
type Validator struct {
	cfg   Config
	mu    sync.RWMutex
	rules []Rule
}

// New creates a validator. Rules (optional) come from the policy file.
func New(cfg Config, rules []Rule) *Validator {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Validator{cfg: cfg, rules: rules}
}

// SetRules swaps the policy rule set. Used by the policy file watcher;
// in-flight validations keep the set they started with.
func (v *Validator) SetRules(rules []Rule) {
	v.mu.Lock()
	v.rules = rules
	v.mu.Unlock()
}

// Validate scans candidate source against the previous source and returns a
// structured result. The previous source participates only in policy rules
// (size delta) and marker comparisons; the scans look at the candidate alone.
func (v *Validator) Validate(candidate, previous string) *Result {
	result := &Result{}

	if len(candidate) > v.cfg.MaxBytes {
		result.Errors = append(result.Errors,
			fmt.Sprintf("candidate source is %d bytes, exceeds ceiling of %d", len(candidate), v.cfg.MaxBytes))
	}

	for _, p := range dangerousPatterns {
		if loc := p.re.FindStringIndex(candidate); loc != nil {
			result.Errors = append(result.Errors, "dangerous construct: "+p.reason)
		}
	}
	for _, p := range suspiciousPatterns {
		if p.re.MatchString(candidate) {
			result.Warnings = append(result.Warnings, "suspicious construct: "+p.reason)
		}
	}
	for _, marker := range v.cfg.RequiredMarkers {
		if !strings.Contains(candidate, marker) {
			result.Warnings = append(result.Warnings, "required marker missing: "+marker)
		}
	}
	for _, p := range secretPatterns {
		if p.re.MatchString(candidate) {
			result.Warnings = append(result.Warnings, "possible secret: "+p.reason)
		}
	}

	v.applyRules(candidate, previous, result)
	return result
}
