// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter speaks the Gemini generateContent API. Gemini uses the role
// "model" where OpenAI uses "assistant"; the adapter translates on the way in
// so callers only ever see the normalized roles.
type GeminiAdapter struct {
	descriptor Descriptor
	client     *Client
}

// NewGeminiAdapter binds an adapter to one descriptor.
func NewGeminiAdapter(d Descriptor, client *Client) *GeminiAdapter {
	return &GeminiAdapter{descriptor: d, client: client}
}

// Identifier implements Adapter.
func (a *GeminiAdapter) Identifier() string { return a.descriptor.Name }

// Complete implements Adapter.
func (a *GeminiAdapter) Complete(ctx context.Context, req CompletionRequest) (*NormalizedCompletion, error) {
	apiKey, err := credentialFromEnv(a.descriptor)
	if err != nil {
		return nil, err
	}

	payload, err := a.buildPayload(req)
	if err != nil {
		return nil, &BackendError{Provider: a.descriptor.Name, Message: "build payload: " + err.Error()}
	}

	baseURL := a.descriptor.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimSuffix(baseURL, "/"), a.descriptor.Model)
	// The key travels in a header, not the URL, so it can never leak into
	// request logs.
	headers := map[string]string{"x-goog-api-key": apiKey}
	body, err := a.client.PostJSON(ctx, a.descriptor.Name, url, headers, payload)
	if err != nil {
		return nil, err
	}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()
	if text == "" {
		reason := gjson.GetBytes(body, "candidates.0.finishReason").String()
		return nil, &BackendError{Provider: a.descriptor.Name, Message: "empty completion in reply (finishReason=" + reason + ")"}
	}
	return &NormalizedCompletion{
		Text:       text,
		TokenUsage: int(gjson.GetBytes(body, "usageMetadata.totalTokenCount").Int()),
		Provider:   a.descriptor.Name,
	}, nil
}

func (a *GeminiAdapter) buildPayload(req CompletionRequest) ([]byte, error) {
	payload := []byte(`{}`)
	var err error
	if req.System != "" {
		if payload, err = sjson.SetBytes(payload, "systemInstruction.parts.0.text", req.System); err != nil {
			return nil, err
		}
	}
	index := 0
	for _, turn := range req.History {
		role := turn.Role
		if role == "assistant" {
			role = "model"
		}
		if payload, err = setContent(payload, index, role, turn.Content); err != nil {
			return nil, err
		}
		index++
	}
	if payload, err = setContent(payload, index, "user", req.Message); err != nil {
		return nil, err
	}
	return payload, nil
}

func setContent(payload []byte, index int, role, text string) ([]byte, error) {
	prefix := "contents." + strconv.Itoa(index)
	payload, err := sjson.SetBytes(payload, prefix+".role", role)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(payload, prefix+".parts.0.text", text)
}
