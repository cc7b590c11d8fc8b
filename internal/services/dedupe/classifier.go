// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/autobrr/relink/pkg/contenthash"
	"github.com/autobrr/relink/pkg/hardlink"
)

// candidateSet holds objects of one size that are not yet proven distinct.
type candidateSet struct {
	size    int64
	objects []*object
}

// stage maps candidate sets to finer candidate sets.
type stage struct {
	name string
	run  func(ctx context.Context, sets []candidateSet) ([]candidateSet, error)
}

type classifier struct {
	cfg *Config

	bytesRead   atomic.Int64
	comparisons atomic.Int64
	integrity   atomic.Int64

	// owned by the goroutine running classify
	groups []*DuplicateGroup
	errors []*FileError
}

func newClassifier(cfg *Config) *classifier {
	return &classifier{cfg: cfg}
}

func (c *classifier) stages() []stage {
	var stages []stage
	if c.cfg.MatchMode || c.cfg.MatchOwner || c.cfg.MatchMtime || c.cfg.MatchName {
		stages = append(stages, stage{name: "metadata", run: c.metadataStage})
	}
	stages = append(stages,
		stage{name: "partial", run: c.partialStage},
		stage{name: "full", run: c.fullStage},
	)
	if c.cfg.Verify == VerifyBytes {
		stages = append(stages, stage{name: "verify", run: c.verifyStage})
	}
	return stages
}

// classify partitions records, which must be sorted by path, into duplicate
// groups. Groups are returned in path order of their first member.
func (c *classifier) classify(ctx context.Context, records []*FileRecord) ([]*DuplicateGroup, error) {
	sets := c.bySize(records)
	log.Debug().Int("sets", len(sets)).Msg("dedupe: size buckets")

	for _, st := range c.stages() {
		if len(sets) == 0 {
			break
		}
		var err error
		if sets, err = st.run(ctx, sets); err != nil {
			return nil, err
		}
		sets = c.settle(sets)
		log.Debug().Str("stage", st.name).Int("sets", len(sets)).Msg("dedupe: classifier stage complete")
	}

	for _, s := range sets {
		c.confirm(s.size, s.objects)
	}

	slices.SortFunc(c.groups, func(a, b *DuplicateGroup) int {
		return cmp.Compare(a.Members[0].Path, b.Members[0].Path)
	})
	for i, g := range c.groups {
		g.ID = i + 1
	}
	return c.groups, nil
}

// bySize buckets records by exact size and collapses each bucket by storage object.
func (c *classifier) bySize(records []*FileRecord) []candidateSet {
	buckets := make(map[int64][]*FileRecord)
	var sizes []int64
	for _, r := range records {
		r.mustTransition(StateClassified)
		if _, ok := buckets[r.Size]; !ok {
			sizes = append(sizes, r.Size)
		}
		buckets[r.Size] = append(buckets[r.Size], r)
	}

	var sets []candidateSet
	for _, size := range sizes {
		bucket := buckets[size]
		if len(bucket) == 1 {
			bucket[0].mustTransition(StateUnique)
			continue
		}
		sets = append(sets, candidateSet{size: size, objects: collapse(bucket)})
	}
	return c.settle(sets)
}

// settle finalizes sets that cannot split further. A lone object with several
// paths is a pre-linked group; a lone single-path object is unique.
func (c *classifier) settle(sets []candidateSet) []candidateSet {
	out := sets[:0]
	for _, s := range sets {
		switch {
		case len(s.objects) >= 2:
			out = append(out, s)
		case len(s.objects) == 1 && len(s.objects[0].records) >= 2:
			c.confirm(s.size, s.objects)
		case len(s.objects) == 1:
			s.objects[0].records[0].mustTransition(StateUnique)
		}
	}
	return out
}

func (c *classifier) confirm(size int64, objects []*object) {
	var members []*FileRecord
	for _, o := range objects {
		members = append(members, o.records...)
	}
	slices.SortFunc(members, func(a, b *FileRecord) int { return cmp.Compare(a.Path, b.Path) })
	for _, m := range members {
		m.mustTransition(StateConfirmedDuplicate)
	}
	c.groups = append(c.groups, &DuplicateGroup{Size: size, Members: members})
}

// drop removes an unreadable object from classification.
func (c *classifier) drop(o *object) {
	log.Warn().Err(o.err).Str("path", o.rep().Path).Msg("dedupe: dropping unreadable file")
	c.errors = append(c.errors, newFileError(StageClassify, o.rep().Path, o.err))
	for _, r := range o.records {
		r.mustTransition(StateUnique)
	}
}

func (c *classifier) dropFailed(s candidateSet) candidateSet {
	kept := s.objects[:0]
	for _, o := range s.objects {
		if o.err != nil {
			c.drop(o)
			continue
		}
		kept = append(kept, o)
	}
	s.objects = kept
	return s
}

type metaKey struct {
	mode  fs.FileMode
	uid   uint32
	gid   uint32
	mtime int64
	name  string
}

func (c *classifier) metadataStage(_ context.Context, sets []candidateSet) ([]candidateSet, error) {
	var out []candidateSet
	for _, s := range sets {
		out = append(out, splitBy(s, func(o *object) metaKey {
			r := o.rep()
			var k metaKey
			if c.cfg.MatchMode {
				k.mode = r.Mode
			}
			if c.cfg.MatchOwner {
				k.uid, k.gid = r.UID, r.GID
			}
			if c.cfg.MatchMtime {
				k.mtime = r.ModTime.Unix()
			}
			if c.cfg.MatchName {
				k.name = norm.NFC.String(filepath.Base(r.Path))
			}
			return k
		})...)
	}
	return out, nil
}

func (c *classifier) partialStage(ctx context.Context, sets []candidateSet) ([]candidateSet, error) {
	err := c.forEach(ctx, allObjects(sets), func(_ context.Context, o *object) error {
		r := o.rep()
		p, err := contenthash.PartialFile(r.Path, r.Size, c.cfg.Hash, c.cfg.PartialSize, c.cfg.PartialTailSize)
		if err != nil {
			o.err = err
			return nil
		}
		c.bytesRead.Add(p.Read)
		o.partial = p
		if p.Complete {
			o.full, o.fullHashed = p.Sum, true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []candidateSet
	for _, s := range sets {
		s = c.dropFailed(s)
		out = append(out, splitBy(s, func(o *object) contenthash.Sum { return o.partial.Sum })...)
	}
	return out, nil
}

// pairByBytes reports whether a set is cheaper to confirm with one direct
// comparison than with two full hashes.
func (c *classifier) pairByBytes(s candidateSet) bool {
	return c.cfg.Verify == VerifyBytes && len(s.objects) == 2
}

func (c *classifier) fullStage(ctx context.Context, sets []candidateSet) ([]candidateSet, error) {
	var pending []*object
	for _, s := range sets {
		if c.pairByBytes(s) {
			continue
		}
		for _, o := range s.objects {
			if !o.fullHashed {
				pending = append(pending, o)
			}
		}
	}

	err := c.forEach(ctx, pending, func(ctx context.Context, o *object) error {
		r := o.rep()
		sum, n, err := contenthash.File(ctx, r.Path, r.Size, c.cfg.Hash)
		c.bytesRead.Add(n)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			o.err = err
			return nil
		}
		o.full, o.fullHashed = sum, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []candidateSet
	for _, s := range sets {
		if c.pairByBytes(s) {
			out = append(out, s)
			continue
		}
		s = c.dropFailed(s)
		out = append(out, splitBy(s, func(o *object) contenthash.Sum { return o.full })...)
	}
	return out, nil
}

type verifyResult struct {
	sets    []candidateSet
	dropped []*object
	errs    []*FileError
}

// verifyStage compares every object byte for byte against a representative.
// Each set is owned by exactly one goroutine.
func (c *classifier) verifyStage(ctx context.Context, sets []candidateSet) ([]candidateSet, error) {
	results := make([]verifyResult, len(sets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, s := range sets {
		g.Go(func() error {
			res, err := c.verifySet(gctx, s)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []candidateSet
	for _, res := range results {
		for _, o := range res.dropped {
			c.drop(o)
		}
		c.errors = append(c.errors, res.errs...)
		out = append(out, res.sets...)
	}
	return out, nil
}

func (c *classifier) verifySet(ctx context.Context, s candidateSet) (verifyResult, error) {
	var res verifyResult
	remaining := s.objects

	for len(remaining) >= 2 {
		rep := remaining[0]
		matched := []*object{rep}
		var rest []*object
		repFailed := false

		for i, o := range remaining[1:] {
			equal, n, err := contenthash.Equal(ctx, rep.rep().Path, o.rep().Path)
			c.comparisons.Add(1)
			c.bytesRead.Add(2 * n)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				if failedPath(err) == rep.rep().Path {
					rep.err = err
					res.dropped = append(res.dropped, rep)
					rest = append(rest, matched[1:]...)
					rest = append(rest, remaining[1+i:]...)
					repFailed = true
					break
				}
				o.err = err
				res.dropped = append(res.dropped, o)
				continue
			}
			if equal {
				matched = append(matched, o)
				continue
			}
			if rep.fullHashed && o.fullHashed && rep.full == o.full {
				c.integrity.Add(1)
				log.Error().
					Str("path", o.rep().Path).
					Str("other", rep.rep().Path).
					Str("hash", string(c.cfg.Hash)).
					Msg("dedupe: integrity violation, full hash matched but contents differ")
				res.errs = append(res.errs, &FileError{
					Path:  o.rep().Path,
					Stage: StageClassify,
					Kind:  KindIntegrity,
					Err:   fmt.Errorf("%w: compared with %s", ErrIntegrity, rep.rep().Path),
				})
			}
			rest = append(rest, o)
		}

		if !repFailed {
			res.sets = append(res.sets, candidateSet{size: s.size, objects: matched})
		}
		remaining = rest
	}
	if len(remaining) == 1 {
		res.sets = append(res.sets, candidateSet{size: s.size, objects: remaining})
	}
	return res, nil
}

// forEach runs fn for every object on a bounded pool. Each call writes only
// the object it was handed.
func (c *classifier) forEach(ctx context.Context, objects []*object, fn func(context.Context, *object) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, o := range objects {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, o)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// collapse groups records by storage object, keeping first-seen order.
func collapse(records []*FileRecord) []*object {
	index := make(map[hardlink.FileID]*object)
	var objects []*object
	for _, r := range records {
		o, ok := index[r.ID]
		if !ok {
			o = &object{id: r.ID}
			index[r.ID] = o
			objects = append(objects, o)
		}
		o.records = append(o.records, r)
	}
	return objects
}

// splitBy partitions a set by key, keeping first-seen order.
func splitBy[K comparable](s candidateSet, key func(*object) K) []candidateSet {
	index := make(map[K]int)
	var out []candidateSet
	for _, o := range s.objects {
		k := key(o)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, candidateSet{size: s.size})
		}
		out[i].objects = append(out[i].objects, o)
	}
	return out
}

func allObjects(sets []candidateSet) []*object {
	var out []*object
	for _, s := range sets {
		out = append(out, s.objects...)
	}
	return out
}

func failedPath(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Path
	}
	return ""
}
