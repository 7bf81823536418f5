// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ledger tracks per-backend, per-day call counts against daily
// quotas. Counters live in the shared store under usage_{backend}_{day} keys;
// a day rollover simply starts writing a new key, prior days become inert
// until the archiver sweeps them up.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// casAttempts bounds the optimistic retry loop on contended increments.
const casAttempts = 16

// Store is the subset of the shared store the ledger needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Ledger reads and increments usage counters. Increments are serialized
// through compare-and-swap against the store, so concurrent writers across
// processes never lose an update; the in-process mutex only keeps local
// goroutines from burning CAS retries against each other.
type Ledger struct {
	store Store
	mu    sync.Mutex
	now   func() time.Time
}

// New creates a ledger over the given store.
func New(s Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// UsageKey returns the store key for a backend on a given day.
func UsageKey(backend, day string) string {
	return fmt.Sprintf("usage_%s_%s", backend, day)
}

// Day formats t as the calendar-day component of a usage key.
func Day(t time.Time) string {
	return t.Format("2006-01-02")
}

// GetUsage returns the call count for backend today, 0 when absent.
func (l *Ledger) GetUsage(ctx context.Context, backend string) (int, error) {
	key := UsageKey(backend, Day(l.now()))
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ledger: read %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	count, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("ledger: corrupt counter %s=%q: %w", key, raw, err)
	}
	return count, nil
}

// Increment bumps the counter for backend today by one. The first increment
// of a (backend, day) pair creates the record implicitly. Counters are never
// decremented.
func (l *Ledger) Increment(ctx context.Context, backend string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := UsageKey(backend, Day(l.now()))
	for attempt := 0; attempt < casAttempts; attempt++ {
		raw, ok, err := l.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("ledger: read %s: %w", key, err)
		}
		if !ok {
			written, err := l.store.SetIfAbsent(ctx, key, []byte("1"), 0)
			if err != nil {
				return fmt.Errorf("ledger: create %s: %w", key, err)
			}
			if written {
				return nil
			}
			continue // another writer created it first
		}
		count, err := strconv.Atoi(string(raw))
		if err != nil {
			return fmt.Errorf("ledger: corrupt counter %s=%q: %w", key, raw, err)
		}
		next := []byte(strconv.Itoa(count + 1))
		swapped, err := l.store.CompareAndSwap(ctx, key, raw, next, 0)
		if err != nil {
			return fmt.Errorf("ledger: cas %s: %w", key, err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("ledger: increment %s: too much contention", key)
}

// Snapshot returns today's counts for every backend that has a record.
func (l *Ledger) Snapshot(ctx context.Context) (map[string]int, error) {
	day := Day(l.now())
	keys, err := l.store.Keys(ctx, "usage_")
	if err != nil {
		return nil, fmt.Errorf("ledger: list keys: %w", err)
	}
	counts := make(map[string]int)
	suffix := "_" + day
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		backend := strings.TrimSuffix(strings.TrimPrefix(key, "usage_"), suffix)
		raw, ok, err := l.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		if count, err := strconv.Atoi(string(raw)); err == nil {
			counts[backend] = count
		}
	}
	return counts, nil
}
