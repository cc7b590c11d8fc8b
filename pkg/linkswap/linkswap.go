// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package linkswap replaces a file with a hardlink to another file atomically.
package linkswap

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	stagingPrefix = ".relink-"
	stagingSuffix = ".tmp"
	maxAttempts   = 8
)

// ErrNotRegular is returned when either path is not a regular file.
var ErrNotRegular = errors.New("not a regular file")

// Result describes what Replace did.
type Result int

const (
	// Linked means target now names the canonical object.
	Linked Result = iota
	// AlreadyLinked means target and canonical were already the same object
	// and nothing was changed.
	AlreadyLinked
)

func (r Result) String() string {
	switch r {
	case Linked:
		return "linked"
	case AlreadyLinked:
		return "already-linked"
	default:
		return "unknown"
	}
}

// Options tunes Replace.
type Options struct {
	// Prepare runs against the staged link before it is renamed over target.
	// An error aborts the swap and leaves target untouched.
	Prepare func(staged string) error
}

// Replace turns target into a hardlink of canonical.
//
// A new link to canonical is created under a unique staging name in target's
// directory and then renamed over target, so target names either its old
// content or canonical's content at every instant. On any failure the staging
// link is removed and target is left as it was.
func Replace(canonical, target string, opts Options) (Result, error) {
	canonInfo, err := os.Lstat(canonical)
	if err != nil {
		return 0, err
	}
	targetInfo, err := os.Lstat(target)
	if err != nil {
		return 0, err
	}
	if !canonInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: %w", canonical, ErrNotRegular)
	}
	if !targetInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: %w", target, ErrNotRegular)
	}
	// rename(2) between two links of one inode is a no-op that would strand the staging link
	if os.SameFile(canonInfo, targetInfo) {
		return AlreadyLinked, nil
	}

	staged, err := stageLink(canonical, filepath.Dir(target))
	if err != nil {
		return 0, err
	}

	cleanupOnError := func(err error) error {
		if rmErr := os.Remove(staged); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("%w (cleanup of %s also failed: %v)", err, staged, rmErr)
		}
		return err
	}

	if opts.Prepare != nil {
		if err := opts.Prepare(staged); err != nil {
			return 0, cleanupOnError(fmt.Errorf("prepare %s: %w", staged, err))
		}
	}

	if err := os.Rename(staged, target); err != nil {
		return 0, cleanupOnError(fmt.Errorf("rename %s -> %s: %w", staged, target, err))
	}

	return Linked, nil
}

// stageLink creates a hardlink to canonical under a fresh name in dir.
func stageLink(canonical, dir string) (string, error) {
	for range maxAttempts {
		staged := filepath.Join(dir, stagingPrefix+randomSuffix()+stagingSuffix)
		err := os.Link(canonical, staged)
		if err == nil {
			return staged, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("hardlink %s -> %s: %w", canonical, staged, err)
		}
	}
	return "", fmt.Errorf("no free staging name in %s after %d attempts", dir, maxAttempts)
}

func randomSuffix() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// IsStagingName reports whether a base name looks like a staging link left
// behind by an interrupted Replace.
func IsStagingName(name string) bool {
	if !strings.HasPrefix(name, stagingPrefix) || !strings.HasSuffix(name, stagingSuffix) {
		return false
	}
	mid := name[len(stagingPrefix) : len(name)-len(stagingSuffix)]
	if len(mid) != 12 {
		return false
	}
	_, err := hex.DecodeString(mid)
	return err == nil
}
