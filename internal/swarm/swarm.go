// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package swarm fans one completion request out to N parallel calls against
// a single backend and reduces the samples to a consensus answer with a
// confidence score. Partial failures are tolerated; only an all-fail run is
// an error, which the orchestrator answers with a single non-swarm call.
package swarm

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/omniAgentLocal/internal/provider"
)

// ErrSwarmExhausted is returned when every parallel sample failed.
var ErrSwarmExhausted = errors.New("swarm: all parallel samples failed")

// Config bounds swarm behavior. Zero values fall back to defaults.
type Config struct {
	// MinSize and MaxSize clamp the requested swarm size. Defaults 2 and 7.
	MinSize int `yaml:"min-size"`
	MaxSize int `yaml:"max-size"`
	// Timeout is shared by all samples of one run. Default 120s.
	Timeout time.Duration `yaml:"timeout"`
	// ScoreScript optionally points at a Lua file defining score(text).
	ScoreScript string `yaml:"score-script"`
}

func (c Config) withDefaults() Config {
	if c.MinSize <= 0 {
		c.MinSize = 2
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = 7
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// Sample is one parallel completion, scored. Failed samples never appear in
// a ConsensusResult; they are excluded from scoring, not retried.
type Sample struct {
	Instance int           `json:"instance"`
	Text     string        `json:"-"`
	Score    float64       `json:"score"`
	Latency  time.Duration `json:"latency"`
}

// ConsensusResult is the only artifact retained after a swarm run.
type ConsensusResult struct {
	Response   string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Samples    []Sample `json:"samples"`
	Provider   string   `json:"provider"`
	// Failed counts samples excluded for errors.
	Failed int `json:"failed"`
}

// Scorer rates a completion text in [0,1].
type Scorer interface {
	Score(text string) float64
}

// Coordinator runs swarms with a fixed config and scorer.
type Coordinator struct {
	cfg    Config
	scorer Scorer
}

// New creates a coordinator. When cfg.ScoreScript is set and loads, the Lua
// scorer wraps the built-in heuristic; otherwise the heuristic is used alone.
func New(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	var scorer Scorer = HeuristicScorer{}
	if cfg.ScoreScript != "" {
		lua, err := NewLuaScorer(cfg.ScoreScript, scorer)
		if err != nil {
			log.Warnf("swarm: score script %s unusable, using heuristic: %v", cfg.ScoreScript, err)
		} else {
			scorer = lua
		}
	}
	return &Coordinator{cfg: cfg, scorer: scorer}
}

// ClampSize applies the configured [min,max] bounds to a requested size.
func (c *Coordinator) ClampSize(requested int) int {
	if requested < c.cfg.MinSize {
		return c.cfg.MinSize
	}
	if requested > c.cfg.MaxSize {
		return c.cfg.MaxSize
	}
	return requested
}

// Run issues size parallel completions against adapter and reduces them.
func (c *Coordinator) Run(ctx context.Context, req provider.CompletionRequest, adapter provider.Adapter, size int) (*ConsensusResult, error) {
	size = c.ClampSize(size)
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	type outcome struct {
		instance int
		text     string
		latency  time.Duration
		err      error
	}
	results := make(chan outcome, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func(instance int) {
			defer wg.Done()
			start := time.Now()
			completion, err := adapter.Complete(runCtx, req)
			o := outcome{instance: instance, latency: time.Since(start), err: err}
			if err == nil {
				o.text = completion.Text
			}
			results <- o
		}(i)
	}
	wg.Wait()
	close(results)

	var samples []Sample
	failed := 0
	for o := range results {
		if o.err != nil {
			failed++
			log.Debugf("swarm: sample %d failed: %v", o.instance, o.err)
			continue
		}
		samples = append(samples, Sample{
			Instance: o.instance,
			Text:     o.text,
			Score:    c.scorer.Score(o.text),
			Latency:  o.latency,
		})
	}
	if len(samples) == 0 {
		return nil, ErrSwarmExhausted
	}

	best := 0
	var sum float64
	for i, s := range samples {
		sum += s.Score
		if s.Score > samples[best].Score {
			best = i
		}
	}
	confidence := samples[best].Score
	if len(samples) > 1 {
		meanRest := (sum - samples[best].Score) / float64(len(samples)-1)
		confidence = samples[best].Score - meanRest
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &ConsensusResult{
		Response:   samples[best].Text,
		Confidence: confidence,
		Samples:    samples,
		Provider:   adapter.Identifier(),
		Failed:     failed,
	}, nil
}
