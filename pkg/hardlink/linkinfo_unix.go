// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

package hardlink

import (
	"errors"
	"os"
	"syscall"
)

// LinkInfo returns the storage identity and link count for a file.
// On Unix systems the id is the device ID and inode number from stat(2).
func LinkInfo(fi os.FileInfo, _ string) (Info, error) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return Info{}, errors.New("failed to get syscall.Stat_t")
	}
	return Info{
		ID: FileID{
			Device: uint64(sys.Dev), //nolint:unconvert // Dev is int32 on darwin
			Inode:  uint64(sys.Ino),
		},
		Nlink: uint64(sys.Nlink), //nolint:unconvert // Nlink is uint16 on darwin
		UID:   sys.Uid,
		GID:   sys.Gid,
	}, nil
}
