// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package safety

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCleanSource(t *testing.T) {
	v := New(Config{RequiredMarkers: []string{"handleRequest"}}, nil)
	result := v.Validate("function handleRequest(req) { return respond(req); }", "")
	assert.True(t, result.OK())
	assert.Empty(t, result.Warnings)
}

func TestValidateDangerousConstructs(t *testing.T) {
	v := New(Config{}, nil)

	result := v.Validate("const out = eval(userInput);", "")
	assert.False(t, result.OK())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "eval")

	result = v.Validate("process.exit(1);", "")
	assert.False(t, result.OK())

	result = v.Validate(`exec("rm -rf /tmp/x");`, "")
	// "rm -rf /" with a path under root still matches the destructive pattern.
	assert.False(t, result.OK())
}

func TestValidateSuspiciousIsWarningOnly(t *testing.T) {
	v := New(Config{}, nil)
	result := v.Validate(`const cp = require("child_process");`, "")
	assert.True(t, result.OK(), "suspicious constructs must not block")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "child process")
}

func TestValidateMissingMarkerIsWarning(t *testing.T) {
	v := New(Config{RequiredMarkers: []string{"handleRequest", "handleChallenge"}}, nil)
	result := v.Validate("function handleRequest() {}", "")
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "handleChallenge")
}

func TestValidateSecretShapesWarnOnly(t *testing.T) {
	v := New(Config{}, nil)
	result := v.Validate(`const key = "sk-abcdefghijklmnopqrstuvwx";`, "")
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "secret")
}

func TestValidateSizeCeilingIsHardError(t *testing.T) {
	v := New(Config{MaxBytes: 64}, nil)
	result := v.Validate(strings.Repeat("x", 65), "")
	assert.False(t, result.OK())
	assert.Contains(t, result.Errors[0], "ceiling")
}

func TestLoadRulesAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: no-large-growth
    when: size_delta > 1000
    action: block
    message: candidate grew by more than 1000 bytes
  - name: flag-todo
    when: candidate contains "TODO"
    action: warn
  - name: broken-rule
    when: this is not an expression ((
    action: block
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	// The broken rule is skipped at compile time.
	require.Len(t, rules, 2)

	v := New(Config{}, rules)

	result := v.Validate(strings.Repeat("a", 2000), "tiny")
	assert.False(t, result.OK())
	assert.Contains(t, result.Errors[0], "grew")

	result = v.Validate("ok // TODO later", "ok")
	assert.True(t, result.OK())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "flag-todo")
}

func TestLoadRulesMissingFile(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}
