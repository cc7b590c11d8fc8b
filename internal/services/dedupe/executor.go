// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/relink/pkg/hardlink"
	"github.com/autobrr/relink/pkg/linkswap"
)

type executor struct {
	cfg     *Config
	lstat   func(path string) (os.FileInfo, hardlink.Info, error)
	replace func(canonical, target string, opts linkswap.Options) (linkswap.Result, error)
	chtimes func(path string, atime, mtime time.Time) error
}

var errCanonicalChanged = errors.New("canonical changed since scan")

// execute applies one plan. The caller owns rep; cancellation is only
// observed between actions so an in-flight swap always completes.
func (x *executor) execute(ctx context.Context, plan Plan, rep *Report) {
	rep.addPlan(plan)

	// canonical mtimes as they should look on disk, updated when this run changes them
	expected := make(map[*FileRecord]time.Time)
	for _, c := range plan.Canonicals {
		expected[c] = c.ModTime
	}

	relinked := make(map[hardlink.FileID]int)
	for i, a := range plan.Actions {
		if ctx.Err() != nil {
			for _, rest := range plan.Actions[i:] {
				x.skip(rest, SkipCanceled, rep)
			}
			rep.Canceled = true
			break
		}
		if x.apply(a, expected, rep) {
			relinked[a.Target.ID]++
		}
	}

	// an object's space is freed once every name it had is gone
	for _, o := range plan.Group.objects() {
		n := relinked[o.id]
		if n > 0 && n == len(o.records) && o.rep().Nlink == uint64(len(o.records)) {
			rep.BytesReclaimed += plan.Group.Size
		}
	}
}

// apply runs one action and reports whether the target was (or in a dry run
// would be) relinked by this run.
func (x *executor) apply(a LinkAction, expected map[*FileRecord]time.Time, rep *Report) bool {
	canon, target := a.Canonical, a.Target

	cfi, cinfo, err := x.lstat(canon.Path)
	if err != nil {
		return x.statFailed(a, canon.Path, err, rep)
	}
	tfi, tinfo, err := x.lstat(target.Path)
	if err != nil {
		return x.statFailed(a, target.Path, err, rep)
	}
	if !cfi.Mode().IsRegular() || !tfi.Mode().IsRegular() {
		x.skip(a, SkipChangedSinceScan, rep)
		return false
	}
	if cinfo.ID.Device != tinfo.ID.Device {
		x.skip(a, SkipCrossDevice, rep)
		return false
	}
	if cinfo.ID == tinfo.ID {
		x.alreadyLinked(a, rep)
		return false
	}
	if changed(canon, cfi, cinfo, expected[canon]) || changed(target, tfi, tinfo, target.ModTime) {
		x.skip(a, SkipChangedSinceScan, rep)
		return false
	}

	if x.cfg.DryRun {
		log.Info().Str("target", target.Path).Str("canonical", canon.Path).Bool("dry_run", true).Msg("dedupe: would link")
		rep.addAction(a, ActionPlanned, "", nil)
		rep.LinksCreated++
		return true
	}

	// the staged name must still resolve to the object the scan hashed
	opts := linkswap.Options{
		Prepare: func(staged string) error {
			_, info, err := x.lstat(staged)
			if err != nil {
				return err
			}
			if info.ID != canon.ID {
				return errCanonicalChanged
			}
			return nil
		},
	}

	res, err := x.replace(canon.Path, target.Path, opts)
	switch {
	case errors.Is(err, errCanonicalChanged):
		x.skip(a, SkipChangedSinceScan, rep)
		return false
	case errors.Is(err, syscall.EXDEV):
		// bind mounts can share a device id and still refuse link(2)
		x.skip(a, SkipCrossDevice, rep)
		return false
	case err != nil:
		target.mustTransition(StateFailed)
		log.Warn().Err(err).Str("target", target.Path).Str("canonical", canon.Path).Msg("dedupe: link failed")
		ferr := newFileError(StageLink, target.Path, err)
		rep.addAction(a, ActionFailed, "", ferr)
		rep.addError(ferr)
		rep.Failed++
		return false
	}
	if res == linkswap.AlreadyLinked {
		x.alreadyLinked(a, rep)
		return false
	}

	// applied only once the swap succeeded so a failed action leaves canonical as scanned
	if x.cfg.Timestamps == TimestampsOldest && target.ModTime.Before(expected[canon]) {
		if err := x.chtimes(canon.Path, time.Time{}, target.ModTime); err != nil {
			log.Warn().Err(err).Str("path", canon.Path).Msg("dedupe: could not keep oldest mtime")
			rep.addError(newFileError(StageLink, canon.Path, err))
		} else {
			expected[canon] = target.ModTime
		}
	}

	target.mustTransition(StateLinked)
	log.Info().Str("target", target.Path).Str("canonical", canon.Path).Int64("size", target.Size).Msg("dedupe: linked")
	rep.addAction(a, ActionLinked, "", nil)
	rep.LinksCreated++
	return true
}

func (x *executor) statFailed(a LinkAction, path string, err error, rep *Report) bool {
	if errors.Is(err, fs.ErrNotExist) {
		x.skip(a, SkipChangedSinceScan, rep)
		return false
	}
	a.Target.mustTransition(StateFailed)
	log.Warn().Err(err).Str("path", path).Msg("dedupe: re-stat failed")
	ferr := newFileError(StageLink, path, err)
	rep.addAction(a, ActionFailed, "", ferr)
	rep.addError(ferr)
	rep.Failed++
	return false
}

func (x *executor) skip(a LinkAction, reason SkipReason, rep *Report) {
	a.Target.mustTransition(StateSkipped)
	log.Warn().Str("target", a.Target.Path).Str("reason", string(reason)).Msg("dedupe: skipped")
	rep.addAction(a, ActionSkipped, reason, nil)
	rep.addSkip(SkipRecord{Group: a.Group, Path: a.Target.Path, Reason: reason})
}

func (x *executor) alreadyLinked(a LinkAction, rep *Report) {
	a.Target.mustTransition(StateLinked)
	log.Debug().Str("target", a.Target.Path).Msg("dedupe: already linked")
	rep.addAction(a, ActionAlreadyLinked, "", nil)
	rep.AlreadyLinked++
}

// changed reports whether a file differs from what the scan observed.
func changed(rec *FileRecord, fi os.FileInfo, info hardlink.Info, mtime time.Time) bool {
	return info.ID != rec.ID || fi.Size() != rec.Size || !fi.ModTime().Equal(mtime)
}
