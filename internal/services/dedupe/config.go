// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/autobrr/relink/pkg/contenthash"
)

// CanonicalPolicy selects which object in a group the others are linked to.
type CanonicalPolicy string

const (
	CanonicalFirstSeen  CanonicalPolicy = "first-seen"
	CanonicalOldest     CanonicalPolicy = "oldest"
	CanonicalNewest     CanonicalPolicy = "newest"
	CanonicalMostLinked CanonicalPolicy = "most-linked"
)

// CrossDevicePolicy decides what happens to groups spanning several devices.
type CrossDevicePolicy string

const (
	// CrossDeviceSkip links within each device and skips lone members.
	CrossDeviceSkip CrossDevicePolicy = "skip"
	// CrossDeviceFail plans nothing for the group and records an error.
	CrossDeviceFail CrossDevicePolicy = "fail"
)

// VerifyMode is the final confirmation step of the classifier.
type VerifyMode string

const (
	VerifyBytes VerifyMode = "bytes"
	// VerifyHash trusts a full-hash match. Only allowed with a cryptographic hash.
	VerifyHash VerifyMode = "hash"
)

// TimestampPolicy controls the modification time of a consolidated object.
type TimestampPolicy string

const (
	TimestampsCanonical TimestampPolicy = "canonical"
	TimestampsOldest    TimestampPolicy = "oldest"
)

// Config holds the engine configuration.
type Config struct {
	// Roots are the directories to scan.
	Roots []string

	// Include and Exclude are doublestar patterns. Patterns containing a slash
	// match the path relative to its root, others match the base name.
	Include []string
	Exclude []string

	// ExcludeRegex are regular expressions matched against the absolute path
	// of files and directories.
	ExcludeRegex []string

	// Filter is an optional boolean expression evaluated per file.
	Filter string

	MinFileSize int64
	// MaxFileSize of zero means unlimited.
	MaxFileSize int64

	Canonical   CanonicalPolicy
	Hash        contenthash.Algorithm
	Verify      VerifyMode
	CrossDevice CrossDevicePolicy
	Timestamps  TimestampPolicy

	// PartialSize and PartialTailSize bound the partial signature window.
	PartialSize     int64
	PartialTailSize int64

	// CrossMounts lets the walker descend into other filesystems below a root.
	CrossMounts bool

	// Metadata that must match on top of content.
	MatchMode  bool
	MatchOwner bool
	MatchMtime bool
	MatchName  bool

	// SkipTempFiles ignores rsync and mirror.pl temporaries.
	SkipTempFiles bool

	Workers int
	DryRun  bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinFileSize:   1,
		Canonical:     CanonicalFirstSeen,
		Hash:          contenthash.XXHash,
		Verify:        VerifyBytes,
		CrossDevice:   CrossDeviceSkip,
		Timestamps:    TimestampsCanonical,
		PartialSize:   64 << 10,
		SkipTempFiles: true,
		Workers:       runtime.NumCPU(),
	}
}

// compiled holds the parsed forms of the pattern and expression options.
type compiled struct {
	roots        []string
	excludeRegex []*regexp.Regexp
	filter       *vm.Program
}

// Validate checks the configuration and returns a *ConfigError on the first
// problem. The receiver is left unchanged.
func (c *Config) Validate() error {
	cp := *c
	_, err := cp.compile()
	return err
}

// compile validates c and parses its patterns. It also normalises c in place:
// Hash is canonicalised and a non-positive Workers becomes runtime.NumCPU().
func (c *Config) compile() (*compiled, error) {
	if len(c.Roots) == 0 {
		return nil, &ConfigError{Field: "roots", Reason: "at least one root is required"}
	}

	roots, err := normalizeRoots(c.Roots)
	if err != nil {
		return nil, err
	}

	for _, p := range slices.Concat(c.Include, c.Exclude) {
		if !doublestar.ValidatePattern(p) {
			return nil, &ConfigError{Field: "include/exclude", Reason: fmt.Sprintf("bad pattern %q", p)}
		}
	}

	out := &compiled{roots: roots}
	for _, raw := range c.ExcludeRegex {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, &ConfigError{Field: "excludeRegex", Reason: err.Error()}
		}
		out.excludeRegex = append(out.excludeRegex, re)
	}

	if strings.TrimSpace(c.Filter) != "" {
		program, err := expr.Compile(c.Filter, expr.Env(fileEnv{}), expr.AsBool())
		if err != nil {
			return nil, &ConfigError{Field: "filter", Reason: err.Error()}
		}
		out.filter = program
	}

	if c.MinFileSize < 0 {
		return nil, &ConfigError{Field: "minFileSize", Reason: "must not be negative"}
	}
	if c.MaxFileSize < 0 || (c.MaxFileSize > 0 && c.MaxFileSize < c.MinFileSize) {
		return nil, &ConfigError{Field: "maxFileSize", Reason: "must be zero or at least minFileSize"}
	}

	switch c.Canonical {
	case CanonicalFirstSeen, CanonicalOldest, CanonicalNewest, CanonicalMostLinked:
	default:
		return nil, &ConfigError{Field: "canonical", Reason: fmt.Sprintf("unknown policy %q", c.Canonical)}
	}

	alg, err := contenthash.ParseAlgorithm(string(c.Hash))
	if err != nil {
		return nil, &ConfigError{Field: "hash", Reason: err.Error()}
	}
	c.Hash = alg

	switch c.Verify {
	case VerifyBytes:
	case VerifyHash:
		if !alg.Cryptographic() {
			return nil, &ConfigError{
				Field:  "verify",
				Reason: fmt.Sprintf("verify=hash requires a cryptographic hash, %s is not", alg),
			}
		}
	default:
		return nil, &ConfigError{Field: "verify", Reason: fmt.Sprintf("unknown mode %q", c.Verify)}
	}

	switch c.CrossDevice {
	case CrossDeviceSkip, CrossDeviceFail:
	default:
		return nil, &ConfigError{Field: "crossDevice", Reason: fmt.Sprintf("unknown policy %q", c.CrossDevice)}
	}

	switch c.Timestamps {
	case TimestampsCanonical, TimestampsOldest:
	default:
		return nil, &ConfigError{Field: "timestamps", Reason: fmt.Sprintf("unknown policy %q", c.Timestamps)}
	}

	if c.PartialSize <= 0 {
		return nil, &ConfigError{Field: "partialSize", Reason: "must be positive"}
	}
	if c.PartialTailSize < 0 {
		return nil, &ConfigError{Field: "partialTailSize", Reason: "must not be negative"}
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}

	return out, nil
}

// normalizeRoots makes roots absolute, checks they are directories and drops
// roots nested inside another root so no path is visited twice.
func normalizeRoots(in []string) ([]string, error) {
	roots := make([]string, 0, len(in))
	for _, r := range in {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, &ConfigError{Field: "roots", Reason: fmt.Sprintf("%s: %v", r, err)}
		}
		if fi, err := os.Lstat(abs); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			if resolved, err := filepath.EvalSymlinks(abs); err == nil {
				abs = resolved
			}
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return nil, &ConfigError{Field: "roots", Reason: fmt.Sprintf("%s: %v", r, err)}
		}
		if !fi.IsDir() {
			return nil, &ConfigError{Field: "roots", Reason: fmt.Sprintf("%s is not a directory", r)}
		}
		roots = append(roots, filepath.Clean(abs))
	}

	slices.Sort(roots)
	kept := roots[:0]
	for _, r := range roots {
		if slices.ContainsFunc(kept, func(k string) bool { return isWithin(r, k) }) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

// isWithin reports whether path equals root or lies below it.
func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root) && len(path) > len(root) && path[len(root)] == filepath.Separator
}
