// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedupe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/autobrr/relink/pkg/contenthash"
	"github.com/autobrr/relink/pkg/linkswap"
)

// ErrorKind groups per-file failures by cause.
type ErrorKind string

const (
	KindPermission  ErrorKind = "permission"
	KindNotExist    ErrorKind = "not-exist"
	KindNoSpace     ErrorKind = "no-space"
	KindReadOnly    ErrorKind = "read-only"
	KindCrossDevice ErrorKind = "cross-device"
	KindChanged     ErrorKind = "changed"
	KindIntegrity   ErrorKind = "integrity"
	KindIO          ErrorKind = "io"
)

// Stage names where a FileError was raised.
const (
	StageWalk     = "walk"
	StageClassify = "classify"
	StagePlan     = "plan"
	StageLink     = "link"
)

// FileError is a non-fatal per-file failure. It never aborts a run.
type FileError struct {
	Path  string
	Stage string
	Kind  ErrorKind
	Err   error
}

func newFileError(stage, path string, err error) *FileError {
	return &FileError{Path: path, Stage: stage, Kind: kindOf(err), Err: err}
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

type fileErrorView struct {
	Path  string    `json:"path" yaml:"path"`
	Stage string    `json:"stage" yaml:"stage"`
	Kind  ErrorKind `json:"kind" yaml:"kind"`
	Error string    `json:"error" yaml:"error"`
}

func (e *FileError) view() fileErrorView {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fileErrorView{Path: e.Path, Stage: e.Stage, Kind: e.Kind, Error: msg}
}

// MarshalJSON renders the wrapped error as its message.
func (e *FileError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.view())
}

// MarshalYAML renders the wrapped error as its message.
func (e *FileError) MarshalYAML() (any, error) {
	return e.view(), nil
}

func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrCrossDevice), errors.Is(err, syscall.EXDEV):
		return KindCrossDevice
	case errors.Is(err, contenthash.ErrSizeChanged), errors.Is(err, linkswap.ErrNotRegular):
		return KindChanged
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, fs.ErrNotExist):
		return KindNotExist
	case errors.Is(err, syscall.ENOSPC):
		return KindNoSpace
	case errors.Is(err, syscall.EROFS):
		return KindReadOnly
	default:
		return KindIO
	}
}

// ConfigError is a fatal configuration problem detected before any scan.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
