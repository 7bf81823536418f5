// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events carries edit lifecycle notifications from the orchestrator
// to interested listeners (the websocket stream, tests). Delivery is
// best-effort: a slow subscriber drops events instead of stalling an edit.
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event is one lifecycle notification for an edit.
type Event struct {
	EditID  string    `json:"edit_id"`
	Stage   string    `json:"stage"`
	Detail  string    `json:"detail,omitempty"`
	Emitted time.Time `json:"emitted"`
}

const subscriberBuffer = 32

// Bus is a fan-out of edit events keyed by edit id. Subscribing to the empty
// id receives every event.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for editID ("" for all edits). The returned
// cancel func must be called exactly once; afterwards the channel is closed.
func (b *Bus) Subscribe(editID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[editID] == nil {
		b.subs[editID] = make(map[chan Event]struct{})
	}
	b.subs[editID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[editID]; ok {
			if _, present := set[ch]; present {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, editID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to the edit's subscribers and the wildcard set. A full
// subscriber channel drops the event.
func (b *Bus) Publish(ev Event) {
	if ev.Emitted.IsZero() {
		ev.Emitted = time.Now()
	}
	keys := []string{ev.EditID, ""}
	if ev.EditID == "" {
		// Without an edit id only the wildcard set exists; don't hit it twice.
		keys = keys[:1]
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		for ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
				log.Debugf("events: dropped %s event for slow subscriber of %q", ev.Stage, key)
			}
		}
	}
}
