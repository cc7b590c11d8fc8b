// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// planGroup elects a canonical object per device and emits one action for
// every member that does not already share the canonical's storage object.
func planGroup(g *DuplicateGroup, cfg *Config) Plan {
	plan := Plan{Group: g}

	byDevice := make(map[uint64][]*FileRecord)
	var devices []uint64
	for _, m := range g.Members {
		dev := m.ID.Device
		if _, ok := byDevice[dev]; !ok {
			devices = append(devices, dev)
		}
		byDevice[dev] = append(byDevice[dev], m)
	}

	if len(devices) > 1 && cfg.CrossDevice == CrossDeviceFail {
		devs := make([]string, len(devices))
		for i, d := range devices {
			devs[i] = fmt.Sprint(d)
		}
		log.Warn().Int("group", g.ID).Strs("devices", devs).Msg("dedupe: duplicate group spans devices")
		for _, m := range g.Members {
			m.mustTransition(StateSkipped)
			plan.Skips = append(plan.Skips, SkipRecord{Group: g.ID, Path: m.Path, Reason: SkipCrossDevice})
		}
		plan.Errors = append(plan.Errors, &FileError{
			Path:  g.Members[0].Path,
			Stage: StagePlan,
			Kind:  KindCrossDevice,
			Err:   fmt.Errorf("%w: devices %s", ErrCrossDevice, strings.Join(devs, ", ")),
		})
		return plan
	}

	for _, dev := range devices {
		members := byDevice[dev]
		if len(members) == 1 {
			if len(devices) > 1 {
				log.Debug().Int("group", g.ID).Str("path", members[0].Path).Msg("dedupe: no same-device peer")
				members[0].mustTransition(StateSkipped)
				plan.Skips = append(plan.Skips, SkipRecord{Group: g.ID, Path: members[0].Path, Reason: SkipCrossDevice})
			}
			continue
		}

		objects := collapse(members)
		canon := electCanonical(objects, cfg.Canonical)
		canonical := canon.rep()
		plan.Canonicals = append(plan.Canonicals, canonical)

		for _, m := range members {
			if m.ID == canonical.ID {
				continue
			}
			m.mustTransition(StatePlanned)
			plan.Actions = append(plan.Actions, LinkAction{Group: g.ID, Canonical: canonical, Target: m})
		}
	}

	slices.SortFunc(plan.Actions, func(a, b LinkAction) int {
		return cmp.Compare(a.Target.Path, b.Target.Path)
	})
	return plan
}

// electCanonical applies policy over storage objects. Every policy is total:
// ties fall back to the object's first path.
func electCanonical(objects []*object, policy CanonicalPolicy) *object {
	return slices.MinFunc(objects, func(a, b *object) int {
		var c int
		switch policy {
		case CanonicalOldest:
			c = a.rep().ModTime.Compare(b.rep().ModTime)
		case CanonicalNewest:
			c = b.rep().ModTime.Compare(a.rep().ModTime)
		case CanonicalMostLinked:
			c = cmp.Or(
				cmp.Compare(len(b.records), len(a.records)),
				cmp.Compare(b.rep().Nlink, a.rep().Nlink),
			)
		default:
			c = cmp.Compare(a.rep().Seq, b.rep().Seq)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.rep().Path, b.rep().Path)
	})
}
