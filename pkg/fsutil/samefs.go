// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fsutil provides filesystem utilities for hardlink operations.
package fsutil

// SameFilesystem checks if two paths are on the same filesystem.
// Hardlinks cannot span filesystems.
// Returns an error if either path doesn't exist or cannot be accessed.
//
// Implementation is platform-specific:
//   - Unix: compares device IDs from stat(2)
//   - Windows: compares volume serial numbers
func SameFilesystem(path1, path2 string) (bool, error) {
	dev1, err := DeviceOf(path1)
	if err != nil {
		return false, err
	}
	dev2, err := DeviceOf(path2)
	if err != nil {
		return false, err
	}
	return dev1 == dev2, nil
}

// DeviceOf returns the identifier of the filesystem holding path.
// Symlinks are followed. The value is comparable with hardlink.FileID.Device.
func DeviceOf(path string) (uint64, error) {
	return deviceOf(path)
}
