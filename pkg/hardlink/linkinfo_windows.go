// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package hardlink

import (
	"os"
	"reflect"
	"syscall"
)

// isSymlink detects symlinks on Windows using reparse point attributes.
// The reparse tag lives in the unexported Reserved0 field, read through reflection.
func isSymlink(fi os.FileInfo) bool {
	attrs, ok := fi.Sys().(*syscall.Win32FileAttributeData)
	if !ok || attrs == nil {
		return false
	}
	if attrs.FileAttributes&syscall.FILE_ATTRIBUTE_REPARSE_POINT == 0 {
		return false
	}
	v := reflect.Indirect(reflect.ValueOf(fi))
	reserved0Field := v.FieldByName("Reserved0")
	if !reserved0Field.IsValid() {
		return false
	}
	reserved0 := reserved0Field.Uint()
	return reserved0 == syscall.IO_REPARSE_TAG_SYMLINK || reserved0 == 0xA0000003
}

// LinkInfo returns the storage identity and link count for a file.
// On Windows the id is the volume serial number and the 64-bit file index.
func LinkInfo(fi os.FileInfo, path string) (Info, error) {
	pathp, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return Info{}, err
	}
	attrs := uint32(syscall.FILE_FLAG_BACKUP_SEMANTICS)
	if isSymlink(fi) {
		// FILE_FLAG_OPEN_REPARSE_POINT to not follow symlinks
		attrs |= syscall.FILE_FLAG_OPEN_REPARSE_POINT
	}
	// Full sharing mode so files held open by other processes can still be inspected
	shareMode := uint32(syscall.FILE_SHARE_READ | syscall.FILE_SHARE_WRITE | syscall.FILE_SHARE_DELETE)
	h, err := syscall.CreateFile(pathp, 0, shareMode, nil, syscall.OPEN_EXISTING, attrs, 0)
	if err != nil {
		return Info{}, err
	}
	defer syscall.CloseHandle(h)

	var info syscall.ByHandleFileInformation
	if err := syscall.GetFileInformationByHandle(h, &info); err != nil {
		return Info{}, err
	}

	return Info{
		ID: FileID{
			Device: uint64(info.VolumeSerialNumber),
			Inode:  uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow),
		},
		Nlink: uint64(info.NumberOfLinks),
	}, nil
}
