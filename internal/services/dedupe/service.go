// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dedupe finds byte-identical files and consolidates them into
// hardlinks of a single storage object.
package dedupe

import (
	"cmp"
	"context"
	"os"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/relink/pkg/fsutil"
	"github.com/autobrr/relink/pkg/hardlink"
	"github.com/autobrr/relink/pkg/linkswap"
)

type engine struct {
	cfg Config
	c   *compiled

	lstat    func(path string) (os.FileInfo, hardlink.Info, error)
	deviceOf func(path string) (uint64, error)
	replace  func(canonical, target string, opts linkswap.Options) (linkswap.Result, error)
	chtimes  func(path string, atime, mtime time.Time) error
}

func newEngine(cfg Config) (*engine, error) {
	e := &engine{
		cfg:      cfg,
		lstat:    hardlink.Lstat,
		deviceOf: fsutil.DeviceOf,
		replace:  linkswap.Replace,
		chtimes:  os.Chtimes,
	}
	c, err := e.cfg.compile()
	if err != nil {
		return nil, err
	}
	e.c = c
	return e, nil
}

// Run scans the configured roots and consolidates duplicate files.
//
// Per-file problems never abort a run; they are collected in the report.
// The returned error is either a *ConfigError raised before any file is
// read, or the context error when the run is canceled before planning
// completes. Cancellation during execution is reported through
// Report.Canceled instead.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return e.run(ctx)
}

func (e *engine) run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{DryRun: e.cfg.DryRun, Roots: e.c.roots}

	log.Info().
		Strs("roots", e.c.roots).
		Bool("dry_run", e.cfg.DryRun).
		Str("hash", string(e.cfg.Hash)).
		Str("verify", string(e.cfg.Verify)).
		Str("canonical", string(e.cfg.Canonical)).
		Msg("dedupe: starting run")

	seal := func() {
		rep.Sort()
		rep.Elapsed = time.Since(start)
	}
	abort := func(err error) (*Report, error) {
		rep.Canceled = ctx.Err() != nil
		seal()
		return rep, err
	}

	records, err := e.collect(ctx, rep)
	if err != nil {
		return abort(err)
	}
	log.Info().Int("files", len(records)).Int64("dirs", rep.Directories).Msg("dedupe: walk complete")

	cl := newClassifier(&e.cfg)
	groups, err := cl.classify(ctx, records)
	rep.Comparisons = cl.comparisons.Load()
	rep.BytesRead = cl.bytesRead.Load()
	rep.IntegrityViolations = cl.integrity.Load()
	rep.Errors = append(rep.Errors, cl.errors...)
	if err != nil {
		return abort(err)
	}

	plans := make([]Plan, len(groups))
	actions := 0
	for i, g := range groups {
		plans[i] = planGroup(g, &e.cfg)
		actions += len(plans[i].Actions)
	}
	log.Info().Int("groups", len(groups)).Int("actions", actions).Msg("dedupe: plan ready")

	e.executeAll(ctx, plans, rep)

	seal()
	log.Info().
		Int("groups", rep.DuplicateGroups).
		Int("links", rep.LinksCreated).
		Int("skipped", rep.Skipped).
		Int("errors", len(rep.Errors)).
		Str("reclaimed", humanize.IBytes(uint64(rep.BytesReclaimed))).
		Bool("canceled", rep.Canceled).
		Dur("elapsed", rep.Elapsed).
		Msg("dedupe: run complete")
	return rep, nil
}

// collect drains the walker into a path-ordered record list.
func (e *engine) collect(ctx context.Context, rep *Report) ([]*FileRecord, error) {
	var stats walkStats
	events := make(chan WalkEvent, 256)
	errc := make(chan error, 1)

	go func() {
		errc <- e.walk(ctx, &stats, events)
		close(events)
	}()

	seen := make(map[string]struct{})
	var records []*FileRecord
	for ev := range events {
		if ev.Err != nil {
			rep.addError(ev.Err)
			continue
		}
		if _, dup := seen[ev.Record.Path]; dup {
			continue
		}
		seen[ev.Record.Path] = struct{}{}
		records = append(records, ev.Record)
	}
	err := <-errc

	rep.FilesScanned = stats.files.Load()
	rep.Directories = stats.dirs.Load()
	rep.SymlinksIgnored = stats.symlinks.Load()
	rep.SpecialIgnored = stats.special.Load()
	rep.FilteredOut = stats.filtered.Load()
	rep.EmptySkipped = stats.empty.Load()
	rep.SizeSkipped = stats.tooSmall.Load() + stats.tooLarge.Load()
	rep.TempSkipped = stats.temp.Load()
	rep.MountsSkipped = stats.mounts.Load()

	if err != nil {
		return nil, err
	}

	slices.SortFunc(records, func(a, b *FileRecord) int { return cmp.Compare(a.Path, b.Path) })
	for i, r := range records {
		r.Seq = i
	}
	return records, nil
}

// executeAll hands whole plans to workers so one goroutine owns each group.
func (e *engine) executeAll(ctx context.Context, plans []Plan, rep *Report) {
	x := &executor{cfg: &e.cfg, lstat: e.lstat, replace: e.replace, chtimes: e.chtimes}

	workers := max(1, min(e.cfg.Workers, len(plans)))
	locals := make([]*Report, workers)
	queue := make(chan Plan)

	var g errgroup.Group
	for w := range workers {
		local := &Report{}
		locals[w] = local
		g.Go(func() error {
			for p := range queue {
				x.execute(ctx, p, local)
			}
			return nil
		})
	}
	for _, p := range plans {
		queue <- p
	}
	close(queue)
	_ = g.Wait()

	for _, local := range locals {
		rep.Merge(local)
	}
}
