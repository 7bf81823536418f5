// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// maxResponseBytes caps how much of an upstream reply is read. Completions
// are text; anything beyond this is a misbehaving backend.
const maxResponseBytes = 16 << 20 // 16MB

// Client is the shared HTTP client for all backend adapters. Every call
// carries a fixed timeout; once dispatched, a request either completes or
// times out — there is no mid-flight cancellation beyond the context.
type Client struct {
	http *http.Client
}

// NewClient builds a client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// We decode gzip/brotli ourselves so the encoding header is explicit.
		DisableCompression: true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Warnf("provider client: http2 configure failed, falling back to h1: %v", err)
	}
	return &Client{http: &http.Client{Timeout: timeout, Transport: transport}}
}

// PostJSON sends payload to url with the given headers and returns the
// decoded response body. Non-2xx replies become a BackendError attributed to
// providerName; header values never appear in errors.
func (c *Client) PostJSON(ctx context.Context, providerName, url string, headers map[string]string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &BackendError{Provider: providerName, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", "omni-agent-local")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: providerName, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("provider client: close response body error: %v", errClose)
		}
	}()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, &BackendError{Provider: providerName, StatusCode: resp.StatusCode, Message: fmt.Sprintf("read body: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debugf("provider %s: error status %d, body: %s", providerName, resp.StatusCode, summarize(body))
		return nil, &BackendError{Provider: providerName, StatusCode: resp.StatusCode, Message: summarize(body)}
	}
	return body, nil
}

// decodeBody unwraps gzip or brotli encoded responses.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(io.LimitReader(reader, maxResponseBytes))
}

// summarize trims an error body to something loggable.
func summarize(body []byte) string {
	const limit = 512
	text := string(bytes.TrimSpace(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
