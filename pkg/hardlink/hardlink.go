// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hardlink provides filesystem hardlink identity utilities.
package hardlink

import (
	"fmt"
	"os"
)

// FileID identifies one physical storage object. Two paths with the same
// FileID are hardlinks of each other.
type FileID struct {
	Device uint64
	Inode  uint64
}

// String formats the id as dev|ino.
func (id FileID) String() string {
	return fmt.Sprintf("%d|%d", id.Device, id.Inode)
}

// Info is the link-related metadata of a regular file.
type Info struct {
	ID    FileID
	Nlink uint64
	UID   uint32
	GID   uint32
}

// Lstat stats path without following symlinks and returns its link info.
// Non-regular files are returned with a zero Info and no error; callers
// should check fi.Mode().IsRegular() first.
func Lstat(path string) (os.FileInfo, Info, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, Info{}, err
	}
	if !fi.Mode().IsRegular() {
		return fi, Info{}, nil
	}
	info, err := LinkInfo(fi, path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("link info %s: %w", path, err)
	}
	return fi, info, nil
}

// SameObject reports whether both paths currently refer to the same storage object.
func SameObject(a, b string) (bool, error) {
	_, ia, err := Lstat(a)
	if err != nil {
		return false, err
	}
	_, ib, err := Lstat(b)
	if err != nil {
		return false, err
	}
	return ia.ID == ib.ID, nil
}
