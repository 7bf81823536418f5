// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ledger

import (
	"compress/gzip"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traylinx/omniAgentLocal/internal/store"
)

func TestGetUsageDefaultsToZero(t *testing.T) {
	l := New(store.NewMemoryStore())
	count, err := l.GetUsage(context.Background(), "groq")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIncrementCreatesAndBumps(t *testing.T) {
	l := New(store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, l.Increment(ctx, "groq"))
	require.NoError(t, l.Increment(ctx, "groq"))
	require.NoError(t, l.Increment(ctx, "gemini"))

	count, err := l.GetUsage(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = l.GetUsage(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIncrementConcurrentLosesNoUpdates(t *testing.T) {
	l := New(store.NewMemoryStore())
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Increment(ctx, "groq"))
		}()
	}
	wg.Wait()

	count, err := l.GetUsage(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, writers, count)
}

func TestDayRolloverStartsFreshCounter(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day1 }
	require.NoError(t, l.Increment(ctx, "groq"))
	require.NoError(t, l.Increment(ctx, "groq"))

	l.now = func() time.Time { return day1.Add(24 * time.Hour) }
	count, err := l.GetUsage(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "new day reads a fresh counter")

	// Old key is still present and inert.
	raw, ok, err := s.Get(ctx, UsageKey("groq", "2026-08-23"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(raw))
}

func TestArchiverSweepsOnlyPastDays(t *testing.T) {
	s := store.NewMemoryStore()
	l := New(s)
	ctx := context.Background()

	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, UsageKey("groq", "2026-08-22"), []byte("12"), 0))
	require.NoError(t, s.Set(ctx, UsageKey("gemini", "2026-08-23"), []byte("4"), 0))
	require.NoError(t, s.Set(ctx, UsageKey("groq", "2026-08-24"), []byte("2"), 0))

	a, err := NewArchiver(l, ArchiveConfig{})
	require.NoError(t, err)
	require.NoError(t, a.SweepOnce(ctx))

	_, ok, _ := s.Get(ctx, UsageKey("groq", "2026-08-22"))
	assert.False(t, ok, "past day should be pruned")
	_, ok, _ = s.Get(ctx, UsageKey("gemini", "2026-08-23"))
	assert.False(t, ok, "past day should be pruned")
	_, ok, _ = s.Get(ctx, UsageKey("groq", "2026-08-24"))
	assert.True(t, ok, "today's counter must survive the sweep")
}

func TestEncodeDayRoundTrip(t *testing.T) {
	records := []archiveRecord{
		{Backend: "groq", Day: "2026-08-22", Count: 12},
		{Backend: "gemini", Day: "2026-08-22", Count: 3},
	}
	compressed, err := encodeDay(records)
	require.NoError(t, err)

	zr, err := gzip.NewReader(strings.NewReader(string(compressed)))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"backend":"groq"`)
}

func TestSplitUsageKey(t *testing.T) {
	backend, day, ok := splitUsageKey("usage_groq_2026-08-24")
	require.True(t, ok)
	assert.Equal(t, "groq", backend)
	assert.Equal(t, "2026-08-24", day)

	backend, day, ok = splitUsageKey("usage_qwen_local_2026-08-24")
	require.True(t, ok)
	assert.Equal(t, "qwen_local", backend)
	assert.Equal(t, "2026-08-24", day)

	_, _, ok = splitUsageKey("pending_edit_abc")
	assert.False(t, ok)
	_, _, ok = splitUsageKey("usage_notadate")
	assert.False(t, ok)
}
