// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lock provides an advisory, TTL-bounded mutual exclusion lock over
// the shared store. It serializes self-edits across concurrent callers and
// process instances. The primitive has no retry or backoff; callers decide
// what a failed acquire means (the orchestrator surfaces "busy" immediately).
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds how long a crashed owner can hold a lock.
const DefaultTimeout = 30 * time.Second

// Store is the subset of the shared store the lock needs. SetIfAbsent must
// treat expired records as absent, which makes expiry self-healing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Record is the persisted lock state.
type Record struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Lock is a factory bound to one store and timeout.
type Lock struct {
	store   Store
	timeout time.Duration
}

// New creates a lock manager; a non-positive timeout uses DefaultTimeout.
func New(s Store, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lock{store: s, timeout: timeout}
}

func storageKey(key string) string { return "lock_" + key }

// Acquire attempts to take the lock for owner. It returns false without
// mutation when a live record exists; an expired record is claimed as if
// absent.
func (l *Lock) Acquire(ctx context.Context, key, owner string) (bool, error) {
	now := time.Now()
	record := Record{Key: key, Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(l.timeout)}
	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("lock: marshal record: %w", err)
	}
	written, err := l.store.SetIfAbsent(ctx, storageKey(key), raw, l.timeout)
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	return written, nil
}

// Release deletes the record only when owner holds it. Releasing a lock held
// by someone else (or nobody) is a no-op returning false.
func (l *Lock) Release(ctx context.Context, key, owner string) (bool, error) {
	raw, ok, err := l.store.Get(ctx, storageKey(key))
	if err != nil {
		return false, fmt.Errorf("lock: read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return false, fmt.Errorf("lock: corrupt record for %s: %w", key, err)
	}
	if record.Owner != owner {
		return false, nil
	}
	if err := l.store.Delete(ctx, storageKey(key)); err != nil {
		return false, fmt.Errorf("lock: release %s: %w", key, err)
	}
	return true, nil
}

// Holder returns the current owner of key, or empty when unheld.
func (l *Lock) Holder(ctx context.Context, key string) (string, error) {
	raw, ok, err := l.store.Get(ctx, storageKey(key))
	if err != nil || !ok {
		return "", err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return "", fmt.Errorf("lock: corrupt record for %s: %w", key, err)
	}
	return record.Owner, nil
}

// WithLock runs fn while holding the lock and always releases afterwards,
// regardless of fn's outcome. A failed acquire returns (false, nil) without
// running fn.
func (l *Lock) WithLock(ctx context.Context, key, owner string, fn func(context.Context) error) (bool, error) {
	acquired, err := l.Acquire(ctx, key, owner)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		if _, errRelease := l.Release(ctx, key, owner); errRelease != nil {
			log.Warnf("lock: release %s for %s failed: %v", key, owner, errRelease)
		}
	}()
	return true, fn(ctx)
}
