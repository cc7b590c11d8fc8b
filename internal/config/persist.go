// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// persistMu ensures only one goroutine writes to config.toml at a time.
var persistMu sync.Mutex

// ErrConfigExists is returned by WriteDefaultConfig when config.toml is already present.
var ErrConfigExists = errors.New("config file already exists")

const defaultConfigTemplate = `# config.toml - Auto-generated for relink
#
# Every key can be overridden with an environment variable named
# RELINK__<KEY>, for example RELINK__MIN_FILE_SIZE=4KiB, and by the
# matching command line flag.

# Directories to scan. Positional arguments to "relink run" replace this list.
roots = []

# Doublestar patterns. Patterns with a slash match the path relative to its
# root, other patterns match the file name.
include = []
exclude = []

# Regular expressions matched against absolute paths.
excludeRegex = []

# Optional expression evaluated per file, for example:
# filter = "Size > 1048576 && Ext != '.part'"
filter = ""

# Sizes accept plain byte counts and human units (4k, 1MiB).
minFileSize = "1"
# Zero means unlimited.
maxFileSize = "0"

# Partial signature window read before hashing whole files.
partialSize = "64 KiB"
partialTailSize = "0"

# first-seen, oldest, newest or most-linked
canonical = "first-seen"

# xxhash, blake3 or sha256
hash = "xxhash"

# bytes compares contents before linking. hash trusts the full hash and
# requires blake3 or sha256.
verify = "bytes"

# skip or fail
crossDevice = "skip"

# canonical keeps the canonical file's mtime, oldest keeps the oldest one.
timestamps = "canonical"

# Descend into other filesystems mounted below a root.
crossMounts = false

# Metadata that must match on top of content.
matchMode = false
matchOwner = false
matchMtime = false
matchName = false

# Ignore rsync and mirror temporaries.
skipTempFiles = true

# Zero uses one worker per CPU.
workers = 0

dryRun = false

# Log settings
logLevel = "INFO"
#logPath = "relink.log"
logMaxSize = 50
logMaxBackups = 3

# Write run metrics in node exporter textfile format.
#metricsFile = "/var/lib/node_exporter/textfile/relink.prom"
`

// WriteDefaultConfig writes a commented config.toml into dir and returns its
// path. An existing file is left untouched and ErrConfigExists is returned.
func WriteDefaultConfig(dir string) (string, error) {
	configPath := filepath.Join(dir, configName)

	if _, err := os.Stat(configPath); err == nil {
		return configPath, ErrConfigExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return configPath, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return configPath, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := writeFileAtomic(configPath, []byte(defaultConfigTemplate)); err != nil {
		return configPath, err
	}
	return configPath, nil
}

// writeFileAtomic writes through a temp file, fsync and rename.
func writeFileAtomic(path string, content []byte) error {
	persistMu.Lock()
	defer persistMu.Unlock()

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".config.toml.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	tmpFile.Close()

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
