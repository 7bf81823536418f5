// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	defaultClaudeBaseURL   = "https://api.anthropic.com"
	claudeAPIVersion       = "2023-06-01"
	claudeDefaultMaxTokens = 8192
)

// ClaudeAdapter speaks the Anthropic messages API.
type ClaudeAdapter struct {
	descriptor Descriptor
	client     *Client
}

// NewClaudeAdapter binds an adapter to one descriptor.
func NewClaudeAdapter(d Descriptor, client *Client) *ClaudeAdapter {
	return &ClaudeAdapter{descriptor: d, client: client}
}

// Identifier implements Adapter.
func (a *ClaudeAdapter) Identifier() string { return a.descriptor.Name }

// Complete implements Adapter.
func (a *ClaudeAdapter) Complete(ctx context.Context, req CompletionRequest) (*NormalizedCompletion, error) {
	apiKey, err := credentialFromEnv(a.descriptor)
	if err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, &UnavailableError{Provider: a.descriptor.Name, Reason: "api key required"}
	}

	payload, err := a.buildPayload(req)
	if err != nil {
		return nil, &BackendError{Provider: a.descriptor.Name, Message: "build payload: " + err.Error()}
	}

	baseURL := a.descriptor.BaseURL
	if baseURL == "" {
		baseURL = defaultClaudeBaseURL
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": claudeAPIVersion,
	}
	url := strings.TrimSuffix(baseURL, "/") + "/v1/messages"
	body, err := a.client.PostJSON(ctx, a.descriptor.Name, url, headers, payload)
	if err != nil {
		return nil, err
	}

	text := gjson.GetBytes(body, "content.0.text").String()
	if text == "" {
		return nil, &BackendError{Provider: a.descriptor.Name, Message: "empty completion in reply"}
	}
	usage := gjson.GetBytes(body, "usage.input_tokens").Int() + gjson.GetBytes(body, "usage.output_tokens").Int()
	return &NormalizedCompletion{
		Text:       text,
		TokenUsage: int(usage),
		Provider:   a.descriptor.Name,
	}, nil
}

func (a *ClaudeAdapter) buildPayload(req CompletionRequest) ([]byte, error) {
	payload := []byte(`{}`)
	payload, err := sjson.SetBytes(payload, "model", a.descriptor.Model)
	if err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "max_tokens", claudeDefaultMaxTokens); err != nil {
		return nil, err
	}
	if req.System != "" {
		if payload, err = sjson.SetBytes(payload, "system", req.System); err != nil {
			return nil, err
		}
	}
	index := 0
	for _, turn := range req.History {
		if payload, err = setClaudeMessage(payload, index, turn.Role, turn.Content); err != nil {
			return nil, err
		}
		index++
	}
	if payload, err = setClaudeMessage(payload, index, "user", req.Message); err != nil {
		return nil, err
	}
	return payload, nil
}

func setClaudeMessage(payload []byte, index int, role, content string) ([]byte, error) {
	prefix := "messages." + strconv.Itoa(index)
	payload, err := sjson.SetBytes(payload, prefix+".role", role)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(payload, prefix+".content", content)
}
