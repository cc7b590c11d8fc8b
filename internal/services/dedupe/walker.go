// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"context"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/relink/pkg/linkswap"
)

var (
	// mirror.pl stages downloads as .in.<name>
	mirrorTempRegex = regexp.MustCompile(`^\.in\.`)
	// rsync stages transfers as .<name>.<6 random chars>
	rsyncTempRegex = regexp.MustCompile(`^\..+\.[A-Za-z0-9]{6}$`)
)

// WalkEvent is either a discovered file or a non-fatal error.
type WalkEvent struct {
	Record *FileRecord
	Err    *FileError
}

type walkStats struct {
	dirs     atomic.Int64
	files    atomic.Int64
	symlinks atomic.Int64
	special  atomic.Int64
	filtered atomic.Int64
	empty    atomic.Int64
	tooSmall atomic.Int64
	tooLarge atomic.Int64
	temp     atomic.Int64
	mounts   atomic.Int64
}

// fileEnv is the environment exposed to the filter expression.
type fileEnv struct {
	Path    string
	Name    string
	Ext     string
	Size    int64
	ModTime time.Time
	Age     time.Duration
	Mode    int
	Nlink   int
}

// walk streams every eligible regular file under the configured roots to out.
// Symlinks are never followed. It returns only on context cancellation or
// when the filter expression fails to evaluate.
func (e *engine) walk(ctx context.Context, stats *walkStats, out chan<- WalkEvent) error {
	for _, root := range e.c.roots {
		if err := e.walkRoot(ctx, root, stats, out); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) walkRoot(ctx context.Context, root string, stats *walkStats, out chan<- WalkEvent) error {
	emit := func(ev WalkEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	emitErr := func(path string, err error) error {
		log.Warn().Err(err).Str("path", path).Msg("dedupe: walk error")
		return emit(WalkEvent{Err: newFileError(StageWalk, path, err)})
	}

	rootDev, err := e.deviceOf(root)
	if err != nil {
		return emitErr(root, err)
	}

	conf := fastwalk.Config{
		Follow:     false,
		NumWorkers: e.cfg.Workers,
	}

	return fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			// unreadable directories are reported and skipped, never fatal
			return emitErr(path, err)
		}

		name := d.Name()
		rel := relSlash(root, path)

		if d.IsDir() {
			if path == root {
				stats.dirs.Add(1)
				return nil
			}
			if e.excluded(path, rel, name) {
				log.Trace().Str("path", path).Msg("dedupe: excluded directory")
				stats.filtered.Add(1)
				return fs.SkipDir
			}
			if !e.cfg.CrossMounts {
				dev, err := e.deviceOf(path)
				if err != nil {
					if werr := emitErr(path, err); werr != nil {
						return werr
					}
					return fs.SkipDir
				}
				if dev != rootDev {
					log.Debug().Str("path", path).Msg("dedupe: not crossing mount point")
					stats.mounts.Add(1)
					return fs.SkipDir
				}
			}
			stats.dirs.Add(1)
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			stats.symlinks.Add(1)
			return nil
		}
		if !d.Type().IsRegular() {
			stats.special.Add(1)
			return nil
		}

		if linkswap.IsStagingName(name) || (e.cfg.SkipTempFiles && isTransientName(name)) {
			stats.temp.Add(1)
			return nil
		}
		if e.excluded(path, rel, name) || !e.included(rel, name) {
			stats.filtered.Add(1)
			return nil
		}

		fi, info, err := e.lstat(path)
		if err != nil {
			return emitErr(path, err)
		}
		// replaced by something else between readdir and lstat
		if !fi.Mode().IsRegular() {
			stats.special.Add(1)
			return nil
		}

		stats.files.Add(1)

		size := fi.Size()
		switch {
		case size == 0:
			stats.empty.Add(1)
			return nil
		case size < e.cfg.MinFileSize:
			stats.tooSmall.Add(1)
			return nil
		case e.cfg.MaxFileSize > 0 && size > e.cfg.MaxFileSize:
			stats.tooLarge.Add(1)
			return nil
		}

		rec := &FileRecord{
			Path:    path,
			Root:    root,
			ID:      info.ID,
			Size:    size,
			ModTime: fi.ModTime(),
			Mode:    fi.Mode().Perm(),
			UID:     info.UID,
			GID:     info.GID,
			Nlink:   info.Nlink,
		}

		if e.c.filter != nil {
			keep, err := e.evalFilter(rec)
			if err != nil {
				return err
			}
			if !keep {
				stats.filtered.Add(1)
				return nil
			}
		}

		log.Trace().Str("path", path).Int64("size", size).Msg("dedupe: file")
		return emit(WalkEvent{Record: rec})
	})
}

func (e *engine) excluded(path, rel, name string) bool {
	for _, re := range e.c.excludeRegex {
		if re.MatchString(path) {
			return true
		}
	}
	return matchAny(e.cfg.Exclude, rel, name)
}

func (e *engine) included(rel, name string) bool {
	if len(e.cfg.Include) == 0 {
		return true
	}
	return matchAny(e.cfg.Include, rel, name)
}

func (e *engine) evalFilter(rec *FileRecord) (bool, error) {
	env := fileEnv{
		Path:    rec.Path,
		Name:    filepath.Base(rec.Path),
		Ext:     filepath.Ext(rec.Path),
		Size:    rec.Size,
		ModTime: rec.ModTime,
		Age:     time.Since(rec.ModTime),
		Mode:    int(rec.Mode),
		Nlink:   int(rec.Nlink),
	}
	result, err := expr.Run(e.c.filter, env)
	if err != nil {
		return false, &ConfigError{Field: "filter", Reason: err.Error()}
	}
	keep, ok := result.(bool)
	if !ok {
		return false, &ConfigError{Field: "filter", Reason: "expression did not return a boolean"}
	}
	return keep, nil
}

// matchAny matches slash patterns against the root-relative path and plain
// patterns against the base name.
func matchAny(patterns []string, rel, name string) bool {
	for _, p := range patterns {
		target := name
		if strings.Contains(p, "/") {
			target = rel
		}
		if ok, _ := doublestar.Match(p, target); ok {
			return true
		}
	}
	return false
}

func isTransientName(name string) bool {
	return mirrorTempRegex.MatchString(name) || rsyncTempRegex.MatchString(name)
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
