// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
edit:
  target-path: agent.js
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8318, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "local", cfg.VCS.Mode)
	assert.Equal(t, 2, cfg.Swarm.MinSize)
	assert.Equal(t, 7, cfg.Swarm.MaxSize)
	assert.Equal(t, 30, cfg.Edit.LockTimeoutSeconds)
	assert.Equal(t, 60, cfg.Edit.PendingTTLMinutes)
}

func TestLoadConfigFull(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
host: 127.0.0.1
port: 9000
debug: true
providers:
  - name: groq
    daily-quota: 30
    family: openai
    base-url: https://api.groq.com/openai/v1
    api-key-env: GROQ_API_KEY
    model: llama-3.3-70b-versatile
  - name: gemini
    daily-quota: 15
    family: gemini
    fallback-eligible: true
    api-key-env: GEMINI_API_KEY
    model: gemini-2.0-flash
  - name: "  "
edit:
  target-path: agent.js
  base-branch: main
store:
  backend: postgres
  postgres-dsn: postgres://localhost/omni
vcs:
  mode: github
  owner: traylinx
  repo: omni-agent
`))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2, "nameless descriptors are dropped")
	assert.Equal(t, "groq", cfg.Providers[0].Name)
	assert.Equal(t, 30, cfg.Providers[0].DailyQuota)
	assert.True(t, cfg.Providers[1].FallbackEligible)
	assert.Equal(t, "github", cfg.VCS.Mode)
}

func TestLoadConfigHashesPlaintextKeys(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
api-keys:
  - plaintext-key
  - $2a$10$alreadyhashedalreadyhashedalreadyhashedalreadyhashe
`))
	require.NoError(t, err)

	require.Len(t, cfg.APIKeys, 2)
	assert.True(t, strings.HasPrefix(cfg.APIKeys[0], "$2"), "plaintext keys are hashed at load")
	assert.Equal(t, "$2a$10$alreadyhashedalreadyhashedalreadyhashedalreadyhashe", cfg.APIKeys[1])

	assert.True(t, cfg.VerifyAPIKey("plaintext-key"))
	assert.False(t, cfg.VerifyAPIKey("wrong-key"))
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalConfig+`
store:
  backend: redis
`))
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLoadConfigRequiresTargetPath(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `debug: true`))
	assert.ErrorContains(t, err, "target-path")
}

func TestLoadConfigGitHubRequiresRepo(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalConfig+`
vcs:
  mode: github
`))
	assert.ErrorContains(t, err, "owner and repo")
}
