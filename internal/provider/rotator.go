// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// UsageLedger is the ledger view the rotator needs: read before selection,
// increment only after a successful dispatch.
type UsageLedger interface {
	UsageReader
	Increment(ctx context.Context, backend string) error
}

// Rotator walks the descriptor list in priority order, skipping backends over
// quota, and falls through to the next fallback-eligible backend when a call
// fails. It is the single entry point the orchestrator uses for every
// planning, generation, and review call.
type Rotator struct {
	registry *Registry
	ledger   UsageLedger
}

// NewRotator creates a rotator over a registry and ledger.
func NewRotator(registry *Registry, ledger UsageLedger) *Rotator {
	return &Rotator{registry: registry, ledger: ledger}
}

// Complete tries descriptors in order until one call succeeds. Over-quota and
// failing backends are recorded as attempts; when nothing succeeds the full
// attempt trail is returned inside a RotationExhaustedError.
func (r *Rotator) Complete(ctx context.Context, descriptors []Descriptor, req CompletionRequest) (*NormalizedCompletion, error) {
	var attempts []RotationAttempt
	tried := 0
	for i := range descriptors {
		d := &descriptors[i]
		// Only the first candidate gets a call unconditionally; later ones
		// must be marked fallback-eligible.
		if tried > 0 && !d.FallbackEligible {
			continue
		}
		if d.DailyQuota > 0 {
			used, err := r.ledger.GetUsage(ctx, d.Name)
			if err != nil {
				return nil, fmt.Errorf("rotator: usage for %s: %w", d.Name, err)
			}
			if used >= d.DailyQuota {
				attempts = append(attempts, RotationAttempt{Provider: d.Name, Reason: fmt.Sprintf("quota exhausted (%d/%d)", used, d.DailyQuota)})
				continue
			}
		}
		adapter, ok := r.registry.Lookup(d.Name)
		if !ok {
			attempts = append(attempts, RotationAttempt{Provider: d.Name, Reason: "no adapter registered"})
			continue
		}
		tried++
		completion, err := adapter.Complete(ctx, req)
		if err != nil {
			attempts = append(attempts, RotationAttempt{Provider: d.Name, Reason: rotationReason(err)})
			log.Warnf("rotator: %s failed, trying next: %v", d.Name, rotationReason(err))
			continue
		}
		if err := r.ledger.Increment(ctx, d.Name); err != nil {
			// The call already succeeded; an undercounted ledger is better
			// than a failed completion.
			log.Warnf("rotator: increment %s failed: %v", d.Name, err)
		}
		return completion, nil
	}
	return nil, &RotationExhaustedError{Attempts: attempts}
}

// rotationReason keeps attempt trails short and free of response bodies.
func rotationReason(err error) string {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return "unavailable: " + unavailable.Reason
	}
	var backend *BackendError
	if errors.As(err, &backend) {
		if backend.StatusCode != 0 {
			return fmt.Sprintf("call failed: status %d", backend.StatusCode)
		}
		return "call failed: transport error"
	}
	return err.Error()
}
