// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroup(members ...*FileRecord) *DuplicateGroup {
	for i, m := range members {
		m.Seq = i
	}
	return &DuplicateGroup{ID: 1, Size: members[0].Size, Members: members}
}

func targets(p Plan) []string {
	var out []string
	for _, a := range p.Actions {
		out = append(out, a.Target.Path)
	}
	return out
}

func TestPlanGroupCanonicalPolicies(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)

	build := func() *DuplicateGroup {
		a := record("/r/a", 1, 10, 5)
		b := record("/r/b", 1, 11, 5)
		c := record("/r/c", 1, 12, 5)
		c2 := record("/r/c2", 1, 12, 5)
		a.ModTime = base.Add(2 * time.Hour)
		b.ModTime = base
		c.ModTime = base.Add(5 * time.Hour)
		c2.ModTime = c.ModTime
		c.Nlink, c2.Nlink = 2, 2
		return newGroup(a, b, c, c2)
	}

	tests := []struct {
		policy    CanonicalPolicy
		canonical string
		targets   []string
	}{
		{CanonicalFirstSeen, "/r/a", []string{"/r/b", "/r/c", "/r/c2"}},
		{CanonicalOldest, "/r/b", []string{"/r/a", "/r/c", "/r/c2"}},
		{CanonicalNewest, "/r/c", []string{"/r/a", "/r/b"}},
		{CanonicalMostLinked, "/r/c", []string{"/r/a", "/r/b"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Canonical = tt.policy

			plan := planGroup(build(), &cfg)

			require.Len(t, plan.Canonicals, 1)
			assert.Equal(t, tt.canonical, plan.Canonicals[0].Path)
			assert.Equal(t, tt.targets, targets(plan))
			for _, a := range plan.Actions {
				assert.Equal(t, StatePlanned, a.Target.State())
				assert.NotEqual(t, a.Canonical.ID, a.Target.ID)
			}
			assert.Empty(t, plan.Skips)
		})
	}
}

func TestPlanGroupTiesBreakByPath(t *testing.T) {
	for _, policy := range []CanonicalPolicy{CanonicalOldest, CanonicalNewest, CanonicalMostLinked} {
		t.Run(string(policy), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Canonical = policy

			// members deliberately out of path order in Seq
			b := record("/r/b", 1, 11, 5)
			a := record("/r/a", 1, 10, 5)
			g := newGroup(b, a)
			g.Members = []*FileRecord{a, b}

			plan := planGroup(g, &cfg)
			require.Len(t, plan.Canonicals, 1)
			assert.Equal(t, "/r/a", plan.Canonicals[0].Path)
		})
	}
}

func TestPlanGroupPrelinkedPlansNothing(t *testing.T) {
	cfg := DefaultConfig()
	g := newGroup(record("/r/a", 1, 10, 5), record("/r/b", 1, 10, 5))

	plan := planGroup(g, &cfg)

	assert.Empty(t, plan.Actions)
	assert.Empty(t, plan.Skips)
	assert.Empty(t, plan.Errors)
	for _, m := range g.Members {
		assert.Equal(t, StateConfirmedDuplicate, m.State())
	}
}

func TestPlanGroupCrossDeviceSkip(t *testing.T) {
	cfg := DefaultConfig()
	a := record("/d1/a", 1, 10, 5)
	b := record("/d1/b", 1, 11, 5)
	c := record("/d2/c", 2, 10, 5)
	d := record("/d3/d", 3, 20, 5)
	e := record("/d3/e", 3, 21, 5)
	g := newGroup(a, b, c, d, e)

	plan := planGroup(g, &cfg)

	require.Len(t, plan.Canonicals, 2)
	assert.Equal(t, "/d1/a", plan.Canonicals[0].Path)
	assert.Equal(t, "/d3/d", plan.Canonicals[1].Path)
	assert.Equal(t, []string{"/d1/b", "/d3/e"}, targets(plan))
	for _, act := range plan.Actions {
		assert.Equal(t, act.Canonical.ID.Device, act.Target.ID.Device)
	}

	require.Len(t, plan.Skips, 1)
	assert.Equal(t, SkipRecord{Group: 1, Path: "/d2/c", Reason: SkipCrossDevice}, plan.Skips[0])
	assert.Equal(t, StateSkipped, c.State())
	assert.Empty(t, plan.Errors)
}

func TestPlanGroupCrossDeviceFail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrossDevice = CrossDeviceFail
	g := newGroup(record("/d1/a", 1, 10, 5), record("/d1/b", 1, 11, 5), record("/d2/c", 2, 10, 5))

	plan := planGroup(g, &cfg)

	assert.Empty(t, plan.Actions)
	assert.Len(t, plan.Skips, 3)
	require.Len(t, plan.Errors, 1)
	assert.Equal(t, KindCrossDevice, plan.Errors[0].Kind)
	assert.ErrorIs(t, plan.Errors[0], ErrCrossDevice)
	for _, m := range g.Members {
		assert.Equal(t, StateSkipped, m.State())
	}
}

func TestPlanGroupSameInodeOnOtherDeviceIsDistinct(t *testing.T) {
	cfg := DefaultConfig()
	// equal inode numbers on different devices are different objects
	g := newGroup(record("/d1/a", 1, 10, 5), record("/d1/b", 1, 11, 5), record("/d2/a", 2, 10, 5), record("/d2/b", 2, 10, 5))

	plan := planGroup(g, &cfg)

	assert.Equal(t, []string{"/d1/b"}, targets(plan))
	assert.Empty(t, plan.Skips)
}
