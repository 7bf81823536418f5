// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package swarm

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// LuaScorer runs a user-supplied score(text) Lua function in place of the
// built-in heuristic. The script is loaded once; each Score call invokes the
// function under a mutex because a lua.LState is not safe for concurrent use.
// Any runtime failure or out-of-range result falls back to the wrapped scorer,
// so a buggy script degrades quality ranking instead of breaking swarms.
type LuaScorer struct {
	mu       sync.Mutex
	state    *lua.LState
	fallback Scorer
}

// NewLuaScorer loads path and verifies it defines a global score function.
func NewLuaScorer(path string, fallback Scorer) (*LuaScorer, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("swarm: read score script: %w", err)
	}
	state := lua.NewState()
	if err := state.DoString(string(src)); err != nil {
		state.Close()
		return nil, fmt.Errorf("swarm: load score script: %w", err)
	}
	if _, ok := state.GetGlobal("score").(*lua.LFunction); !ok {
		state.Close()
		return nil, fmt.Errorf("swarm: score script %s defines no score function", path)
	}
	return &LuaScorer{state: state, fallback: fallback}, nil
}

func (s *LuaScorer) Score(text string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.state.CallByParam(lua.P{
		Fn:      s.state.GetGlobal("score"),
		NRet:    1,
		Protect: true,
	}, lua.LString(text))
	if err != nil {
		log.Warnf("swarm: score script call failed, using heuristic: %v", err)
		return s.fallback.Score(text)
	}
	ret := s.state.Get(-1)
	s.state.Pop(1)
	value, ok := ret.(lua.LNumber)
	if !ok || float64(value) < 0 || float64(value) > 1 {
		log.Warnf("swarm: score script returned %v, expected a number in [0,1]", ret)
		return s.fallback.Score(text)
	}
	return float64(value)
}

// Close releases the Lua state.
func (s *LuaScorer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Close()
}
