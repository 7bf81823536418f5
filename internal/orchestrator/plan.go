// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/omniAgentLocal/internal/patch"
	"github.com/traylinx/omniAgentLocal/internal/provider"
)

// Plan is the structured output of the planning stage.
type Plan struct {
	Summary  string   `json:"summary"`
	Sections []string `json:"sections"`
	Risk     string   `json:"risk"`
	// Focus is the sub-prompt handed to the generation stage.
	Focus string `json:"focus"`
	// Degraded marks a plan synthesized from the raw instruction because the
	// planning reply could not be parsed.
	Degraded bool `json:"degraded,omitempty"`
}

const planSystemPrompt = `You are the planning stage of a code self-modification pipeline.
Reply with a single JSON object: {"summary": string, "sections": [string], "risk": "low"|"medium"|"high", "focus": string}.
"sections" names the functions or regions the change touches. "focus" is a precise instruction for the code generator. No prose outside the JSON.`

const generateSystemPrompt = `You are the code generation stage of a self-modification pipeline.
Produce the change as one or more patch blocks and nothing else. Replace blocks:
` + patch.ReplaceStart + `
<exact text to find>
` + patch.WithMark + `
<replacement text>
` + patch.BlockEnd + `
Insertion blocks:
` + patch.InsertAfterStart + `
<exact text to find>
` + patch.ContentMark + `
<text to insert after it>
` + patch.BlockEnd + `
Anchors must be copied verbatim from the provided source.`

const reviewSystemPrompt = `You are the review stage of a code self-modification pipeline.
Critique the proposed patch briefly: correctness, risks, anything the approver should look at. Plain text.`

// plan runs the planning call and parses a structured plan; a reply that
// cannot be parsed degrades to a plan synthesized from the instruction
// instead of aborting the edit.
func (o *Orchestrator) plan(ctx context.Context, instruction, source string) Plan {
	excerpt := o.estimator.Excerpt(source, o.cfg.TokenBudget)
	completion, err := o.rotator.Complete(ctx, o.providers, provider.CompletionRequest{
		System:  planSystemPrompt,
		Message: "Instruction: " + instruction + "\n\nCurrent source:\n" + excerpt,
	})
	if err != nil {
		log.Warnf("orchestrator: planning call failed, degrading: %v", err)
		return degradedPlan(instruction)
	}
	plan, ok := parsePlan(completion.Text)
	if !ok {
		log.Warnf("orchestrator: unparseable plan from %s, degrading", completion.Provider)
		return degradedPlan(instruction)
	}
	return plan
}

func degradedPlan(instruction string) Plan {
	return Plan{Summary: instruction, Risk: "unknown", Focus: instruction, Degraded: true}
}

// parsePlan pulls the JSON object out of a planning reply, tolerating prose
// or code fences around it.
func parsePlan(text string) (Plan, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Plan{}, false
	}
	body := text[start : end+1]
	if !gjson.Valid(body) {
		return Plan{}, false
	}
	parsed := gjson.Parse(body)
	summary := parsed.Get("summary").String()
	focus := parsed.Get("focus").String()
	if summary == "" || focus == "" {
		return Plan{}, false
	}
	plan := Plan{Summary: summary, Focus: focus, Risk: parsed.Get("risk").String()}
	if plan.Risk == "" {
		plan.Risk = "unknown"
	}
	for _, s := range parsed.Get("sections").Array() {
		if name := s.String(); name != "" {
			plan.Sections = append(plan.Sections, name)
		}
	}
	return plan, true
}

// generate produces patch text, optionally through the swarm, and enforces
// the protocol shape before anything is persisted.
func (o *Orchestrator) generate(ctx context.Context, instruction string, plan Plan, source string) (string, error) {
	view := o.estimator.SectionExcerpt(source, plan.Sections, o.cfg.TokenBudget)
	req := provider.CompletionRequest{
		System:  generateSystemPrompt,
		Message: plan.Focus + "\n\nSource:\n" + view,
	}

	var text string
	if completion, ok := o.generateViaSwarm(ctx, req); ok {
		text = completion
	} else {
		completion, err := o.rotator.Complete(ctx, o.providers, req)
		if err != nil {
			return "", err
		}
		text = completion.Text
	}

	// Shape check now, so a malformed reply fails the generation stage with
	// nothing persisted.
	if _, err := patch.Parse(text); err != nil {
		return "", err
	}
	return text, nil
}

// generateViaSwarm runs the swarm path when configured. Any failure — no
// provider under quota, no adapter, or a fully exhausted swarm — reports not-ok
// so the caller falls back to a single rotated call.
func (o *Orchestrator) generateViaSwarm(ctx context.Context, req provider.CompletionRequest) (string, bool) {
	if o.swarm == nil || o.cfg.SwarmSize < 2 {
		return "", false
	}
	descriptor, err := o.selector.Select(ctx, o.providers)
	if err != nil {
		log.Warnf("orchestrator: swarm provider selection failed: %v", err)
		return "", false
	}
	adapter, ok := o.registry.Lookup(descriptor.Name)
	if !ok {
		log.Warnf("orchestrator: no adapter for swarm provider %s", descriptor.Name)
		return "", false
	}
	consensus, err := o.swarm.Run(ctx, req, adapter, o.cfg.SwarmSize)
	if err != nil {
		log.Warnf("orchestrator: swarm failed, falling back to single call: %v", err)
		return "", false
	}
	// The swarm bypasses the rotator, so its successful samples are counted
	// against the quota here.
	if o.ledger != nil {
		for range consensus.Samples {
			if err := o.ledger.Increment(ctx, descriptor.Name); err != nil {
				log.Warnf("orchestrator: increment %s after swarm: %v", descriptor.Name, err)
				break
			}
		}
	}
	log.Infof("orchestrator: swarm consensus from %s, confidence %.2f (%d samples, %d failed)",
		consensus.Provider, consensus.Confidence, len(consensus.Samples), consensus.Failed)
	return consensus.Response, true
}

// review asks a backend to critique the patch. The reply is advisory: any
// failure logs and returns an empty review, never blocking the edit.
func (o *Orchestrator) review(ctx context.Context, plan Plan, patchText string) string {
	completion, err := o.rotator.Complete(ctx, o.providers, provider.CompletionRequest{
		System:  reviewSystemPrompt,
		Message: "Plan: " + plan.Summary + "\n\nPatch:\n" + patchText,
	})
	if err != nil {
		log.Warnf("orchestrator: review call failed, continuing without review: %v", err)
		return ""
	}
	return completion.Text
}
