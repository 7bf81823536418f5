// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/omniAgentLocal/internal/store"
)

func TestAcquireRelease(t *testing.T) {
	l := New(store.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "self-edit-lock", "owner-a")
	require.NoError(t, err)
	assert.True(t, acquired)

	holder, err := l.Holder(ctx, "self-edit-lock")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", holder)

	released, err := l.Release(ctx, "self-edit-lock", "owner-a")
	require.NoError(t, err)
	assert.True(t, released)

	holder, err = l.Holder(ctx, "self-edit-lock")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestSecondAcquireFails(t *testing.T) {
	l := New(store.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "self-edit-lock", "owner-a")
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = l.Acquire(ctx, "self-edit-lock", "owner-b")
	require.NoError(t, err)
	assert.False(t, acquired, "unexpired lock must block a second acquire")
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	l := New(store.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	const contenders = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			acquired, err := l.Acquire(ctx, "self-edit-lock", "owner")
			assert.NoError(t, err)
			if acquired {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins, "exactly one concurrent acquire may succeed")
}

func TestReleaseByNonOwnerIsNoOp(t *testing.T) {
	l := New(store.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "self-edit-lock", "owner-a")
	require.NoError(t, err)

	released, err := l.Release(ctx, "self-edit-lock", "owner-b")
	require.NoError(t, err)
	assert.False(t, released)

	// Owner A still holds it.
	holder, err := l.Holder(ctx, "self-edit-lock")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", holder)
}

func TestExpiredLockBecomesAcquirable(t *testing.T) {
	l := New(store.NewMemoryStore(), 20*time.Millisecond)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "self-edit-lock", "crashed-owner")
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(40 * time.Millisecond)

	acquired, err = l.Acquire(ctx, "self-edit-lock", "owner-b")
	require.NoError(t, err)
	assert.True(t, acquired, "a lock past its TTL is acquirable again")
}

func TestWithLockReleasesOnError(t *testing.T) {
	l := New(store.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	boom := errors.New("boom")
	ran, err := l.WithLock(ctx, "self-edit-lock", "owner-a", func(context.Context) error {
		return boom
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	// The lock must be free again despite the error.
	acquired, err := l.Acquire(ctx, "self-edit-lock", "owner-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestWithLockBusy(t *testing.T) {
	l := New(store.NewMemoryStore(), time.Minute)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "self-edit-lock", "owner-a")
	require.NoError(t, err)

	called := false
	ran, err := l.WithLock(ctx, "self-edit-lock", "owner-b", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, called, "fn must not run when the lock is busy")
}

func TestStaleReleaseCannotFreeNewHolder(t *testing.T) {
	l := New(store.NewMemoryStore(), 50*time.Millisecond)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "self-edit-lock", "holder-1")
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(100 * time.Millisecond)

	acquired, err = l.Acquire(ctx, "self-edit-lock", "holder-2")
	require.NoError(t, err)
	require.True(t, acquired)

	// The first holder's release runs after its TTL overran; it must not
	// touch the record now owned by holder-2.
	released, err := l.Release(ctx, "self-edit-lock", "holder-1")
	require.NoError(t, err)
	assert.False(t, released)

	acquired, err = l.Acquire(ctx, "self-edit-lock", "holder-3")
	require.NoError(t, err)
	assert.False(t, acquired, "the lock must still be held by holder-2")

	holder, err := l.Holder(ctx, "self-edit-lock")
	require.NoError(t, err)
	assert.Equal(t, "holder-2", holder)
}
