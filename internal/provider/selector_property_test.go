// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_SelectorReturnsFirstUnderQuota validates that for any quota
// and usage configuration, Select returns exactly the first list entry with
// usage < quota, or ErrNoProviderAvailable when none qualifies.
func TestProperty_SelectorReturnsFirstUnderQuota(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("first under-quota entry wins in list order", prop.ForAll(
		func(quotas []int, usages []int) bool {
			n := len(quotas)
			if len(usages) < n {
				n = len(usages)
			}
			descriptors := make([]Descriptor, 0, n)
			usage := stubUsage{}
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("backend-%d", i)
				descriptors = append(descriptors, Descriptor{Name: name, DailyQuota: quotas[i]})
				usage[name] = usages[i]
			}

			selector := NewSelector(usage)
			selected, err := selector.Select(context.Background(), descriptors)

			// Compute the expected winner by direct scan.
			expected := ""
			for i := 0; i < n; i++ {
				if quotas[i] <= 0 || usages[i] < quotas[i] {
					expected = descriptors[i].Name
					break
				}
			}

			if expected == "" {
				return err == ErrNoProviderAvailable
			}
			return err == nil && selected.Name == expected
		},
		gen.SliceOf(gen.IntRange(0, 40)),
		gen.SliceOf(gen.IntRange(0, 50)),
	))

	properties.TestingRun(t)
}
