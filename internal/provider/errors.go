// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviderAvailable is returned by Select when every descriptor in the
// list is at or over its daily quota.
var ErrNoProviderAvailable = errors.New("provider: no backend under quota")

// UnavailableError reports a backend that cannot be called at all, typically
// because its credential is absent. It is never retried against the same
// backend; rotation moves on immediately.
type UnavailableError struct {
	Provider string
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}

// BackendError reports a failed call to a reachable backend: a transport
// failure or a non-2xx reply. StatusCode carries the HTTP-equivalent status
// (0 for pure transport errors). Message never contains credentials.
type BackendError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// RotationAttempt records one failed try during provider rotation.
type RotationAttempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// RotationExhaustedError is surfaced when every eligible backend was either
// over quota or failed; it carries the full attempt trail for the caller.
type RotationExhaustedError struct {
	Attempts []RotationAttempt
}

func (e *RotationExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "provider rotation exhausted: no backends attempted"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Provider, a.Reason))
	}
	return "provider rotation exhausted: " + strings.Join(parts, ", ")
}
