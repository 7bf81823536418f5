// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the omniAgentLocal
// server. It handles loading and parsing the YAML configuration file and
// provides structured access to server, provider, edit-pipeline, store, and
// gateway settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/omniAgentLocal/internal/provider"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces. Use "127.0.0.1" for
	// local-only access.
	Host string `yaml:"host"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether application logs are written to rotating
	// files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the
	// logs directory. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb"`

	// APIKeys lists inbound API keys. Plaintext entries are bcrypt-hashed at
	// load time; entries that already look like bcrypt hashes are kept as-is.
	APIKeys []string `yaml:"api-keys"`

	// Providers is the ordered backend descriptor table consumed by the
	// selector. Order is authoritative for rotation.
	Providers []provider.Descriptor `yaml:"providers"`

	// Swarm configures the parallel sampling coordinator.
	Swarm SwarmConfig `yaml:"swarm"`

	// Edit configures the self-edit pipeline.
	Edit EditConfig `yaml:"edit"`

	// Validator configures the code safety validator.
	Validator ValidatorConfig `yaml:"validator"`

	// Store selects and configures the shared key-value store backend.
	Store StoreConfig `yaml:"store"`

	// VCS selects and configures the version control gateway.
	VCS VCSConfig `yaml:"vcs"`

	// Archive configures usage ledger archival to object storage.
	Archive ArchiveConfig `yaml:"archive"`
}

// SwarmConfig holds swarm coordinator settings.
type SwarmConfig struct {
	// Enabled toggles swarm-mode generation.
	Enabled bool `yaml:"enabled"`
	// Size is the requested number of parallel samples, clamped to
	// [MinSize, MaxSize] at run time.
	Size int `yaml:"size"`
	// MinSize and MaxSize bound the effective swarm size. Defaults 2 and 7.
	MinSize int `yaml:"min-size"`
	MaxSize int `yaml:"max-size"`
	// TimeoutSeconds is the shared deadline for one swarm run. Default 120.
	TimeoutSeconds int `yaml:"timeout-seconds"`
	// ScoreScript optionally points at a Lua file defining score(text).
	ScoreScript string `yaml:"score-script"`
}

// EditConfig holds edit pipeline settings.
type EditConfig struct {
	// TargetPath is the source file self-edits operate on.
	TargetPath string `yaml:"target-path"`
	// BaseBranch is the branch edits fork from. Empty lets the gateway decide.
	BaseBranch string `yaml:"base-branch"`
	// LockTimeoutSeconds bounds how long a crashed apply can hold the
	// exclusion lock. Default 30.
	LockTimeoutSeconds int `yaml:"lock-timeout-seconds"`
	// PendingTTLMinutes bounds how long an unapproved edit stays actionable.
	// Default 60.
	PendingTTLMinutes int `yaml:"pending-ttl-minutes"`
	// TokenBudget bounds the source excerpt handed to generation. Default 6000.
	TokenBudget int `yaml:"token-budget"`
}

// ValidatorConfig holds code safety validator settings.
type ValidatorConfig struct {
	// MaxBytes is the hard size ceiling for a candidate source. Default 1 MiB.
	MaxBytes int `yaml:"max-bytes"`
	// RequiredMarkers lists entry point names that must survive every edit.
	RequiredMarkers []string `yaml:"required-markers"`
	// PolicyFile points at a YAML file of policy rules, hot-reloaded on change.
	PolicyFile string `yaml:"policy-file"`
}

// StoreConfig selects the shared store backend.
type StoreConfig struct {
	// Backend is "sqlite", "postgres", or "memory". Default "sqlite".
	Backend string `yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite-path"`
	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres-dsn"`
}

// VCSConfig selects the version control gateway.
type VCSConfig struct {
	// Mode is "github" or "local". Default "local".
	Mode string `yaml:"mode"`
	// Owner and Repo identify the GitHub repository in github mode.
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	// TokenEnv names the environment variable holding the GitHub token.
	// Default GITHUB_TOKEN.
	TokenEnv string `yaml:"token-env"`
	// LocalPath is the repository root in local mode. Default ".".
	LocalPath string `yaml:"local-path"`
}

// ArchiveConfig holds usage archival settings.
type ArchiveConfig struct {
	// Enabled toggles the background archival sweeper.
	Enabled bool `yaml:"enabled"`
	// Endpoint is the S3-compatible endpoint; empty keeps sweeps local
	// (compress and prune without upload).
	Endpoint string `yaml:"endpoint"`
	// AccessKeyEnv and SecretKeyEnv name the credential environment variables.
	AccessKeyEnv string `yaml:"access-key-env"`
	SecretKeyEnv string `yaml:"secret-key-env"`
	// Bucket receives the day archives.
	Bucket string `yaml:"bucket"`
	UseSSL bool   `yaml:"use-ssl"`
	// IntervalMinutes is the sweep period. Default 60.
	IntervalMinutes int `yaml:"interval-minutes"`
}

// LockTimeout returns the exclusion lock TTL as a duration.
func (c *EditConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// PendingTTL returns the pending edit lifetime as a duration.
func (c *EditConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMinutes) * time.Minute
}

// Timeout returns the swarm deadline as a duration.
func (c *SwarmConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Interval returns the archive sweep period as a duration.
func (c *ArchiveConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, applies defaults and sanitation, and returns it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set defaults before unmarshal so that absent keys keep defaults.
	var cfg Config
	cfg.Port = 8318
	cfg.Swarm.MinSize = 2
	cfg.Swarm.MaxSize = 7
	cfg.Swarm.Size = 3
	cfg.Swarm.TimeoutSeconds = 120
	cfg.Edit.LockTimeoutSeconds = 30
	cfg.Edit.PendingTTLMinutes = 60
	cfg.Edit.TokenBudget = 6000
	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLitePath = "omni-agent.db"
	cfg.VCS.Mode = "local"
	cfg.VCS.LocalPath = "."
	cfg.VCS.TokenEnv = "GITHUB_TOKEN"
	cfg.Archive.IntervalMinutes = 60

	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.sanitizeProviders()
	if err := cfg.hashAPIKeys(); err != nil {
		return nil, err
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	switch cfg.Store.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	cfg.VCS.Mode = strings.ToLower(strings.TrimSpace(cfg.VCS.Mode))
	switch cfg.VCS.Mode {
	case "github", "local":
	default:
		return nil, fmt.Errorf("unknown vcs mode %q", cfg.VCS.Mode)
	}
	if cfg.VCS.Mode == "github" && (strings.TrimSpace(cfg.VCS.Owner) == "" || strings.TrimSpace(cfg.VCS.Repo) == "") {
		return nil, fmt.Errorf("vcs mode github requires owner and repo")
	}

	if strings.TrimSpace(cfg.Edit.TargetPath) == "" {
		return nil, fmt.Errorf("edit.target-path is required")
	}
	return &cfg, nil
}

// sanitizeProviders trims names and drops entries without one, preserving the
// relative order of remaining descriptors.
func (c *Config) sanitizeProviders() {
	out := c.Providers[:0]
	for i := range c.Providers {
		d := c.Providers[i]
		d.Name = strings.TrimSpace(d.Name)
		d.Family = strings.ToLower(strings.TrimSpace(d.Family))
		d.BaseURL = strings.TrimSpace(d.BaseURL)
		if d.Name == "" {
			continue
		}
		out = append(out, d)
	}
	c.Providers = out
}

// hashAPIKeys bcrypt-hashes plaintext inbound keys. A value is considered
// already hashed if it carries a bcrypt prefix ($2a$, $2b$, or $2y$).
func (c *Config) hashAPIKeys() error {
	for i, key := range c.APIKeys {
		key = strings.TrimSpace(key)
		if key == "" || looksLikeBcrypt(key) {
			c.APIKeys[i] = key
			continue
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash api key: %w", err)
		}
		c.APIKeys[i] = string(hashed)
	}
	return nil
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// VerifyAPIKey reports whether candidate matches any configured inbound key.
func (c *Config) VerifyAPIKey(candidate string) bool {
	for _, hashed := range c.APIKeys {
		if hashed == "" {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(candidate)) == nil {
			return true
		}
	}
	return false
}
