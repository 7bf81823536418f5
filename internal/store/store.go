// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store provides the shared key-value store abstraction used for all
// cross-invocation coordination: usage counters, lock records, and pending
// edits. Implementations are expected to enforce TTL on read and to offer a
// compare-and-swap primitive so callers can serialize writes to a key without
// process-local state.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store: closed")

// Store is the minimal contract shared by all backends. A zero TTL means the
// entry never expires. Expired entries behave as absent for every operation.
type Store interface {
	// Get returns the value for key. The second return is false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent writes value only when no live entry exists for key.
	// It reports whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the entry only when the current live value is
	// byte-equal to old. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// expired reports whether an absolute expiry deadline has passed.
// A zero deadline means no expiry.
func expired(deadline time.Time, now time.Time) bool {
	return !deadline.IsZero() && now.After(deadline)
}

// deadlineFor converts a TTL into an absolute deadline, zero for "never".
func deadlineFor(ttl time.Duration, now time.Time) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
