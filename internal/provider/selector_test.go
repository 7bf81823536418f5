// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubUsage is a fixed usage table for selector tests.
type stubUsage map[string]int

func (s stubUsage) GetUsage(_ context.Context, backend string) (int, error) {
	return s[backend], nil
}

func TestSelectFirstUnderQuota(t *testing.T) {
	selector := NewSelector(stubUsage{"groq": 3})
	descriptors := []Descriptor{
		{Name: "groq", DailyQuota: 30},
		{Name: "gemini", DailyQuota: 15},
	}
	d, err := selector.Select(context.Background(), descriptors)
	require.NoError(t, err)
	assert.Equal(t, "groq", d.Name)
}

func TestSelectSkipsExhaustedBackend(t *testing.T) {
	// First backend at quota, second untouched.
	selector := NewSelector(stubUsage{"groq": 30, "gemini": 0})
	descriptors := []Descriptor{
		{Name: "groq", DailyQuota: 30},
		{Name: "gemini", DailyQuota: 15},
	}
	d, err := selector.Select(context.Background(), descriptors)
	require.NoError(t, err)
	assert.Equal(t, "gemini", d.Name)
}

func TestSelectAllExhausted(t *testing.T) {
	selector := NewSelector(stubUsage{"groq": 30, "gemini": 15})
	descriptors := []Descriptor{
		{Name: "groq", DailyQuota: 30},
		{Name: "gemini", DailyQuota: 15},
	}
	_, err := selector.Select(context.Background(), descriptors)
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestSelectZeroQuotaMeansUnlimited(t *testing.T) {
	selector := NewSelector(stubUsage{"qwen": 100000})
	descriptors := []Descriptor{{Name: "qwen", DailyQuota: 0}}
	d, err := selector.Select(context.Background(), descriptors)
	require.NoError(t, err)
	assert.Equal(t, "qwen", d.Name)
}

func TestSelectEmptyList(t *testing.T) {
	selector := NewSelector(stubUsage{})
	_, err := selector.Select(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}
