// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator drives the self-edit pipeline: plan, generate, review,
// await approval, then apply, validate, and commit under the exclusion lock.
// Each inbound instruction is one stateless invocation; everything that must
// survive between Propose and Approve lives in the shared store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/omniAgentLocal/internal/events"
	"github.com/traylinx/omniAgentLocal/internal/lock"
	"github.com/traylinx/omniAgentLocal/internal/patch"
	"github.com/traylinx/omniAgentLocal/internal/provider"
	"github.com/traylinx/omniAgentLocal/internal/safety"
	"github.com/traylinx/omniAgentLocal/internal/store"
	"github.com/traylinx/omniAgentLocal/internal/swarm"
	"github.com/traylinx/omniAgentLocal/internal/trim"
	"github.com/traylinx/omniAgentLocal/internal/vcs"
)

// Pipeline stages, published on the event bus as each one is entered.
const (
	StagePlanning         = "planning"
	StageGenerating       = "generating"
	StageReviewing        = "reviewing"
	StageAwaitingApproval = "awaiting_approval"
	StageApplying         = "applying"
	StageValidating       = "validating"
	StageCommitting       = "committing"
	StageDone             = "done"
	StageFailed           = "failed"
)

var (
	// ErrIdentityRequired rejects calls without a verified caller identity.
	// Authentication itself happens at the API boundary.
	ErrIdentityRequired = errors.New("orchestrator: caller identity required")
	// ErrNoChangesProduced aborts an apply whose output equals the source.
	ErrNoChangesProduced = errors.New("orchestrator: patch produced no changes")
	// ErrLockBusy reports another edit already inside apply/commit.
	ErrLockBusy = errors.New("orchestrator: another edit is in flight")
	// ErrEditNotFound reports an unknown edit id.
	ErrEditNotFound = errors.New("orchestrator: edit not found")
	// ErrEditExpired reports a pending edit past its time-to-live.
	ErrEditExpired = errors.New("orchestrator: edit expired")
)

// ValidationError carries the safety scan that forbade a commit.
type ValidationError struct {
	Result *safety.Result
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("orchestrator: validation failed: %s", strings.Join(e.Result.Errors, "; "))
}

// Config is the orchestrator's static configuration.
type Config struct {
	// TargetPath is the source file self-edits operate on.
	TargetPath string
	// BaseBranch is the branch edits fork from ("" lets the gateway decide).
	BaseBranch string
	// LockKey serializes apply/commit; one global key, no per-file locking.
	LockKey string
	// PendingTTL bounds how long an unapproved edit stays actionable.
	PendingTTL time.Duration
	// SwarmSize > 1 routes generation through the swarm coordinator.
	SwarmSize int
	// TokenBudget bounds the source excerpt handed to generation.
	TokenBudget int
}

func (c Config) withDefaults() Config {
	if c.LockKey == "" {
		c.LockKey = "self-edit"
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = time.Hour
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 6000
	}
	return c
}

// PendingEdit is the persisted record of a generated-but-unapplied change.
type PendingEdit struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	Instruction string    `json:"instruction"`
	Plan        Plan      `json:"plan"`
	Patch       string    `json:"patch"`
	Review      string    `json:"review"`
	BaseSHA     string    `json:"base_sha"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Proposal is what Propose hands back to the caller.
type Proposal struct {
	ID     string `json:"id"`
	Plan   Plan   `json:"plan"`
	Patch  string `json:"patch"`
	Review string `json:"review"`
	Stage  string `json:"stage"`
}

// Approval is the outcome of a committed edit.
type Approval struct {
	PullRequest *vcs.PullRequest `json:"pull_request"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Config    Config
	Store     store.Store
	Providers []provider.Descriptor
	Rotator   *provider.Rotator
	Selector  *provider.Selector
	Registry  *provider.Registry
	Ledger    provider.UsageLedger
	Swarm     *swarm.Coordinator
	Validator *safety.Validator
	Lock      *lock.Lock
	Gateway   vcs.Gateway
	Bus       *events.Bus
	Estimator *trim.Estimator
}

// Orchestrator is safe for concurrent use; it keeps no per-edit state.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	providers []provider.Descriptor
	rotator   *provider.Rotator
	selector  *provider.Selector
	registry  *provider.Registry
	ledger    provider.UsageLedger
	swarm     *swarm.Coordinator
	validator *safety.Validator
	lock      *lock.Lock
	gateway   vcs.Gateway
	bus       *events.Bus
	estimator *trim.Estimator
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:       opts.Config.withDefaults(),
		store:     opts.Store,
		providers: opts.Providers,
		rotator:   opts.Rotator,
		selector:  opts.Selector,
		registry:  opts.Registry,
		ledger:    opts.Ledger,
		swarm:     opts.Swarm,
		validator: opts.Validator,
		lock:      opts.Lock,
		gateway:   opts.Gateway,
		bus:       opts.Bus,
		estimator: opts.Estimator,
	}
}

func pendingKey(editID string) string { return "pending_edit_" + editID }

func (o *Orchestrator) publish(editID, stage, detail string) {
	if o.bus != nil {
		o.bus.Publish(events.Event{EditID: editID, Stage: stage, Detail: detail})
	}
}

// Propose runs the planning, generation, and review stages and persists the
// result as a pending edit awaiting explicit approval. Nothing is committed
// and the exclusion lock is not taken: multiple callers may propose
// concurrently; only apply/commit is serialized.
func (o *Orchestrator) Propose(ctx context.Context, identity, instruction string) (*Proposal, error) {
	if identity == "" {
		return nil, ErrIdentityRequired
	}
	editID := uuid.NewString()
	log.Infof("orchestrator: edit %s proposed by %s", editID, identity)

	o.publish(editID, StagePlanning, "")
	file, err := o.gateway.GetFile(ctx, o.cfg.TargetPath, o.cfg.BaseBranch)
	if err != nil {
		o.publish(editID, StageFailed, "fetch source: "+err.Error())
		return nil, err
	}
	source := string(file.Content)

	plan := o.plan(ctx, instruction, source)

	o.publish(editID, StageGenerating, plan.Summary)
	patchText, err := o.generate(ctx, instruction, plan, source)
	if err != nil {
		o.publish(editID, StageFailed, err.Error())
		return nil, err
	}

	o.publish(editID, StageReviewing, "")
	review := o.review(ctx, plan, patchText)

	now := time.Now()
	pending := PendingEdit{
		ID:          editID,
		Identity:    identity,
		Instruction: instruction,
		Plan:        plan,
		Patch:       patchText,
		Review:      review,
		BaseSHA:     file.SHA,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.cfg.PendingTTL),
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal pending edit: %w", err)
	}
	// The store TTL runs past the logical expiry so an expired-but-present
	// record can be reported as expired rather than unknown.
	if err := o.store.Set(ctx, pendingKey(editID), raw, 2*o.cfg.PendingTTL); err != nil {
		return nil, fmt.Errorf("orchestrator: persist pending edit: %w", err)
	}
	o.publish(editID, StageAwaitingApproval, "")
	return &Proposal{ID: editID, Plan: plan, Patch: patchText, Review: review, Stage: StageAwaitingApproval}, nil
}

// Get loads a pending edit for status inspection.
func (o *Orchestrator) Get(ctx context.Context, editID string) (*PendingEdit, error) {
	return o.loadPending(ctx, editID)
}

func (o *Orchestrator) loadPending(ctx context.Context, editID string) (*PendingEdit, error) {
	raw, ok, err := o.store.Get(ctx, pendingKey(editID))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load pending edit: %w", err)
	}
	if !ok {
		return nil, ErrEditNotFound
	}
	var pending PendingEdit
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, fmt.Errorf("orchestrator: corrupt pending edit %s: %w", editID, err)
	}
	if time.Now().After(pending.ExpiresAt) {
		if err := o.store.Delete(ctx, pendingKey(editID)); err != nil {
			log.Warnf("orchestrator: delete expired edit %s: %v", editID, err)
		}
		return nil, ErrEditExpired
	}
	return &pending, nil
}

// Approve applies, validates, and commits a pending edit under the exclusion
// lock. The pending edit is deleted only on a successful commit; any failure
// past this point leaves it in place so the caller can retry approval without
// repeating generation.
func (o *Orchestrator) Approve(ctx context.Context, identity, editID string) (*Approval, error) {
	if identity == "" {
		return nil, ErrIdentityRequired
	}
	pending, err := o.loadPending(ctx, editID)
	if err != nil {
		return nil, err
	}

	// The lock owner names this invocation, not just the caller: after a TTL
	// overrun, a stale release must never match a newer holder's record.
	owner := identity + "/" + uuid.NewString()
	var approval *Approval
	acquired, err := o.lock.WithLock(ctx, o.cfg.LockKey, owner, func(ctx context.Context) error {
		var commitErr error
		approval, commitErr = o.applyAndCommit(ctx, pending)
		return commitErr
	})
	if err != nil {
		o.publish(editID, StageFailed, err.Error())
		return nil, err
	}
	if !acquired {
		o.publish(editID, StageFailed, "lock busy")
		return nil, ErrLockBusy
	}
	o.publish(editID, StageDone, approval.PullRequest.URL)
	return approval, nil
}

func (o *Orchestrator) applyAndCommit(ctx context.Context, pending *PendingEdit) (*Approval, error) {
	o.publish(pending.ID, StageApplying, "")
	// Re-fetch: the source may have moved since planning. The fuzzy pass in
	// the patch engine absorbs small drift.
	file, err := o.gateway.GetFile(ctx, o.cfg.TargetPath, o.cfg.BaseBranch)
	if err != nil {
		return nil, err
	}
	source := string(file.Content)
	if file.SHA != pending.BaseSHA {
		log.Warnf("orchestrator: edit %s source drifted since planning (%s -> %s)", pending.ID, pending.BaseSHA, file.SHA)
	}

	ops, err := patch.Parse(pending.Patch)
	if err != nil {
		return nil, err
	}
	result, report := patch.Apply(source, ops)
	if result == source {
		return nil, ErrNoChangesProduced
	}
	var warnings []string
	for _, anchor := range report.SkippedAnchors {
		warnings = append(warnings, "anchor not found, operation skipped: "+firstLine(anchor))
	}

	o.publish(pending.ID, StageValidating, "")
	scan := o.validator.Validate(result, source)
	if !scan.OK() {
		return nil, &ValidationError{Result: scan}
	}
	warnings = append(warnings, scan.Warnings...)

	o.publish(pending.ID, StageCommitting, "")
	pr, err := o.gateway.ProposeChange(ctx, vcs.Change{
		Path:    o.cfg.TargetPath,
		Content: []byte(result),
		Branch:  "edit/" + pending.ID,
		Base:    o.cfg.BaseBranch,
		Title:   "self-edit: " + pending.Plan.Summary,
		Body:    commitBody(pending, warnings),
		Message: "self-edit " + pending.ID + ": " + pending.Plan.Summary,
	})
	if err != nil {
		return nil, err
	}
	if err := o.store.Delete(ctx, pendingKey(pending.ID)); err != nil {
		log.Warnf("orchestrator: clear pending edit %s: %v", pending.ID, err)
	}
	return &Approval{PullRequest: pr, Warnings: warnings}, nil
}

func commitBody(pending *PendingEdit, warnings []string) string {
	var b strings.Builder
	b.WriteString("Instruction: " + pending.Instruction + "\n\n")
	b.WriteString("Plan: " + pending.Plan.Summary + " (risk: " + pending.Plan.Risk + ")\n")
	if pending.Review != "" {
		b.WriteString("\nReview:\n" + pending.Review + "\n")
	}
	if len(warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range warnings {
			b.WriteString("- " + w + "\n")
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
