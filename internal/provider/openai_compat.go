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

// OpenAICompatAdapter serves any backend speaking the OpenAI chat-completions
// dialect: groq, cerebras, and local qwen deployments behind an
// OpenAI-compatible proxy.
type OpenAICompatAdapter struct {
	descriptor Descriptor
	client     *Client
}

// NewOpenAICompatAdapter binds an adapter to one descriptor.
func NewOpenAICompatAdapter(d Descriptor, client *Client) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{descriptor: d, client: client}
}

// Identifier implements Adapter.
func (a *OpenAICompatAdapter) Identifier() string { return a.descriptor.Name }

// Complete implements Adapter.
func (a *OpenAICompatAdapter) Complete(ctx context.Context, req CompletionRequest) (*NormalizedCompletion, error) {
	apiKey, err := credentialFromEnv(a.descriptor)
	if err != nil {
		return nil, err
	}
	if a.descriptor.BaseURL == "" {
		return nil, &UnavailableError{Provider: a.descriptor.Name, Reason: "base URL not configured"}
	}

	payload, err := a.buildPayload(req)
	if err != nil {
		return nil, &BackendError{Provider: a.descriptor.Name, Message: "build payload: " + err.Error()}
	}

	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	url := strings.TrimSuffix(a.descriptor.BaseURL, "/") + "/chat/completions"
	body, err := a.client.PostJSON(ctx, a.descriptor.Name, url, headers, payload)
	if err != nil {
		return nil, err
	}

	text := gjson.GetBytes(body, "choices.0.message.content").String()
	if text == "" {
		return nil, &BackendError{Provider: a.descriptor.Name, Message: "empty completion in reply"}
	}
	return &NormalizedCompletion{
		Text:       text,
		TokenUsage: int(gjson.GetBytes(body, "usage.total_tokens").Int()),
		Provider:   a.descriptor.Name,
	}, nil
}

func (a *OpenAICompatAdapter) buildPayload(req CompletionRequest) ([]byte, error) {
	payload := []byte(`{}`)
	payload, err := sjson.SetBytes(payload, "model", a.descriptor.Model)
	if err != nil {
		return nil, err
	}
	index := 0
	if req.System != "" {
		if payload, err = sjson.SetBytes(payload, "messages.0.role", "system"); err != nil {
			return nil, err
		}
		if payload, err = sjson.SetBytes(payload, "messages.0.content", req.System); err != nil {
			return nil, err
		}
		index = 1
	}
	for _, turn := range req.History {
		if payload, err = setMessage(payload, index, turn.Role, turn.Content); err != nil {
			return nil, err
		}
		index++
	}
	if payload, err = setMessage(payload, index, "user", req.Message); err != nil {
		return nil, err
	}
	return payload, nil
}

func setMessage(payload []byte, index int, role, content string) ([]byte, error) {
	prefix := "messages." + strconv.Itoa(index)
	payload, err := sjson.SetBytes(payload, prefix+".role", role)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(payload, prefix+".content", content)
}
