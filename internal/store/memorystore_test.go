// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	value, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), value)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	_, ok, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, err = s.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after its TTL")

	// An expired entry must not block SetIfAbsent.
	written, err := s.SetIfAbsent(ctx, "short", []byte("v2"), 0)
	require.NoError(t, err)
	assert.True(t, written)
}

func TestMemoryStoreSetIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	written, err := s.SetIfAbsent(ctx, "k", []byte("first"), 0)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.SetIfAbsent(ctx, "k", []byte("second"), 0)
	require.NoError(t, err)
	assert.False(t, written)

	value, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func TestMemoryStoreCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "counter", []byte("1"), 0))

	swapped, err := s.CompareAndSwap(ctx, "counter", []byte("2"), []byte("3"), 0)
	require.NoError(t, err)
	assert.False(t, swapped, "cas with stale old value must fail")

	swapped, err = s.CompareAndSwap(ctx, "counter", []byte("1"), []byte("2"), 0)
	require.NoError(t, err)
	assert.True(t, swapped)

	value, _, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), value)

	// CAS on an absent key fails.
	swapped, err = s.CompareAndSwap(ctx, "nope", []byte("x"), []byte("y"), 0)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "usage_groq_2026-08-24", []byte("3"), 0))
	require.NoError(t, s.Set(ctx, "usage_gemini_2026-08-24", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "pending_edit_abc", []byte("{}"), 0))

	keys, err := s.Keys(ctx, "usage_")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = s.Keys(ctx, "pending_edit_")
	require.NoError(t, err)
	assert.Equal(t, []string{"pending_edit_abc"}, keys)
}
