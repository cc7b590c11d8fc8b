// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/relink/pkg/hardlink"
)

func testConfig(roots ...string) Config {
	cfg := DefaultConfig()
	cfg.Roots = roots
	cfg.Workers = 2
	return cfg
}

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func linkTestFile(t *testing.T, oldname, newname string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(newname), 0o755))
	if err := os.Link(oldname, newname); err != nil {
		t.Skipf("hardlinks not supported on this filesystem: %v", err)
	}
}

func fileID(t *testing.T, path string) hardlink.FileID {
	t.Helper()
	_, info, err := hardlink.Lstat(path)
	require.NoError(t, err)
	return info.ID
}

// record builds a confirmed record without touching the filesystem.
func record(path string, dev, ino uint64, size int64) *FileRecord {
	return &FileRecord{
		Path:    path,
		ID:      hardlink.FileID{Device: dev, Inode: ino},
		Size:    size,
		ModTime: time.Unix(1_700_000_000, 0),
		Nlink:   1,
		state:   StateConfirmedDuplicate,
	}
}

func actionPairs(rep *Report) [][2]string {
	var out [][2]string
	for _, a := range rep.Actions {
		out = append(out, [2]string{a.Target, a.Canonical})
	}
	return out
}
