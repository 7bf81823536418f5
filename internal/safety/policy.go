// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package safety

import (
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

// Rule is one compiled policy rule from the policy file. The When expression
// is evaluated against a RuleEnv; a truthy result triggers the Action.
type Rule struct {
	Name    string
	Action  string // "block" or "warn"
	Message string
	program *vm.Program
}

// RuleEnv is the evaluation environment visible to policy expressions.
type RuleEnv struct {
	CandidateBytes int      `expr:"candidate_bytes"`
	PreviousBytes  int      `expr:"previous_bytes"`
	SizeDelta      int      `expr:"size_delta"`
	Errors         int      `expr:"errors"`
	Warnings       int      `expr:"warnings"`
	Candidate      string   `expr:"candidate"`
	MarkersMissing []string `expr:"markers_missing"`
}

// rawRule is the YAML shape of a rule before compilation.
type rawRule struct {
	Name    string `yaml:"name"`
	When    string `yaml:"when"`
	Action  string `yaml:"action"`
	Message string `yaml:"message"`
}

type policyFile struct {
	Rules []rawRule `yaml:"rules"`
}

// LoadRules reads and compiles the policy rule file. A missing path yields
// no rules; a rule that fails to compile is skipped with a warning so one
// bad rule cannot disable self-edits entirely.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("safety: read policy file %s: %w", path, err)
	}
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("safety: parse policy file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, r := range file.Rules {
		if r.When == "" || r.Name == "" {
			log.Warnf("safety: policy rule %q missing name or when clause, skipped", r.Name)
			continue
		}
		action := r.Action
		if action != "block" && action != "warn" {
			action = "warn"
		}
		program, err := expr.Compile(r.When, expr.Env(RuleEnv{}), expr.AsBool())
		if err != nil {
			log.Warnf("safety: policy rule %q does not compile, skipped: %v", r.Name, err)
			continue
		}
		rules = append(rules, Rule{Name: r.Name, Action: action, Message: r.Message, program: program})
	}
	return rules, nil
}

// applyRules evaluates every compiled rule against the scan outcome so far.
// Rule evaluation errors are logged and ignored: policy is advisory
// infrastructure, not a second validator.
func (v *Validator) applyRules(candidate, previous string, result *Result) {
	v.mu.RLock()
	rules := v.rules
	v.mu.RUnlock()
	if len(rules) == 0 {
		return
	}
	var missing []string
	for _, w := range result.Warnings {
		if after, ok := strings.CutPrefix(w, "required marker missing: "); ok {
			missing = append(missing, after)
		}
	}
	env := RuleEnv{
		CandidateBytes: len(candidate),
		PreviousBytes:  len(previous),
		SizeDelta:      len(candidate) - len(previous),
		Errors:         len(result.Errors),
		Warnings:       len(result.Warnings),
		Candidate:      candidate,
		MarkersMissing: missing,
	}
	for _, rule := range rules {
		verdict, err := expr.Run(rule.program, env)
		if err != nil {
			log.Warnf("safety: policy rule %q failed to evaluate: %v", rule.Name, err)
			continue
		}
		triggered, _ := verdict.(bool)
		if !triggered {
			continue
		}
		message := rule.Message
		if message == "" {
			message = "policy rule triggered: " + rule.Name
		}
		if rule.Action == "block" {
			result.Errors = append(result.Errors, message)
		} else {
			result.Warnings = append(result.Warnings, message)
		}
	}
}
