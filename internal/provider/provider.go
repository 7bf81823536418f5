// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider implements quota-aware backend selection and the adapters
// that normalize each AI backend's wire format into a single completion
// shape. Selection is deterministic: descriptors are tried in list order and
// the first one under its daily quota wins.
package provider

import (
	"context"
	"fmt"
)

// Descriptor describes one configured backend. Descriptors are static
// configuration and are never mutated at runtime.
type Descriptor struct {
	// Name identifies the backend and keys its usage counters.
	Name string `yaml:"name"`
	// DailyQuota is the maximum permitted calls per calendar day.
	DailyQuota int `yaml:"daily-quota"`
	// Priority ranks the descriptor; configuration order is authoritative,
	// the rank only documents intent.
	Priority int `yaml:"priority"`
	// FallbackEligible marks whether rotation may fall through to this
	// backend when an earlier one fails mid-call.
	FallbackEligible bool `yaml:"fallback-eligible"`

	// Family selects the adapter implementation: "openai", "gemini", "claude".
	Family string `yaml:"family"`
	// BaseURL overrides the adapter's default endpoint (OpenAI-compatible
	// backends and local qwen deployments need this).
	BaseURL string `yaml:"base-url"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api-key-env"`
	// Model is the upstream model identifier sent on every call.
	Model string `yaml:"model"`
}

// UsageReader is the ledger view the selector needs.
type UsageReader interface {
	GetUsage(ctx context.Context, backend string) (int, error)
}

// Selector picks the first backend in list order whose usage is under quota.
type Selector struct {
	usage UsageReader
}

// NewSelector creates a selector over the given usage reader.
func NewSelector(usage UsageReader) *Selector {
	return &Selector{usage: usage}
}

// Select returns the first descriptor with usage < quota, preserving list
// order as the tie-break. A quota of zero or below means unlimited.
// When every backend is exhausted it returns ErrNoProviderAvailable.
func (s *Selector) Select(ctx context.Context, descriptors []Descriptor) (*Descriptor, error) {
	for i := range descriptors {
		d := &descriptors[i]
		if d.DailyQuota > 0 {
			used, err := s.usage.GetUsage(ctx, d.Name)
			if err != nil {
				return nil, fmt.Errorf("selector: usage for %s: %w", d.Name, err)
			}
			if used >= d.DailyQuota {
				continue
			}
		}
		return d, nil
	}
	return nil, ErrNoProviderAvailable
}
