// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Turn is one prior exchange in a conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the normalized input every adapter accepts.
type CompletionRequest struct {
	Message string
	History []Turn
	// Session labels the conversation for backends that key server-side
	// state by session id; adapters that have no such concept ignore it.
	Session string
	// System is an optional system prompt.
	System string
}

// NormalizedCompletion is the single reply shape all adapters produce.
// Callers never branch on backend identity except to label output.
type NormalizedCompletion struct {
	Text       string `json:"text"`
	TokenUsage int    `json:"token_usage,omitempty"`
	Provider   string `json:"provider"`
}

// Adapter turns a normalized request into one backend's wire format and the
// backend's reply into a NormalizedCompletion.
type Adapter interface {
	// Identifier returns the backend name this adapter serves.
	Identifier() string
	// Complete performs a single non-streaming completion call.
	Complete(ctx context.Context, req CompletionRequest) (*NormalizedCompletion, error)
}

// Registry maps backend names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its identifier.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Identifier()] = a
}

// Lookup returns the adapter for a backend name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// BuildRegistry constructs adapters for every descriptor based on its family.
func BuildRegistry(descriptors []Descriptor, client *Client) (*Registry, error) {
	registry := NewRegistry()
	for i := range descriptors {
		d := descriptors[i]
		switch strings.ToLower(d.Family) {
		case "openai", "openai-compat", "":
			registry.Register(NewOpenAICompatAdapter(d, client))
		case "gemini":
			registry.Register(NewGeminiAdapter(d, client))
		case "claude":
			registry.Register(NewClaudeAdapter(d, client))
		default:
			return nil, fmt.Errorf("provider: unknown adapter family %q for %s", d.Family, d.Name)
		}
	}
	return registry, nil
}

// credentialFromEnv reads the API key named by the descriptor. An empty env
// name means the backend needs no credential (local deployments).
func credentialFromEnv(d Descriptor) (string, error) {
	if d.APIKeyEnv == "" {
		return "", nil
	}
	key := strings.TrimSpace(os.Getenv(d.APIKeyEnv))
	if key == "" {
		return "", &UnavailableError{Provider: d.Name, Reason: fmt.Sprintf("credential %s not set", d.APIKeyEnv)}
	}
	return key, nil
}
