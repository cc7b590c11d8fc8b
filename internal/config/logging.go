// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogManager owns the global logger outputs and the file rotator, if any.
type LogManager struct {
	out     io.Writer
	version string
	mu      sync.Mutex
	closer  io.Closer
}

// NewLogManager creates a LogManager writing console output to out.
func NewLogManager(version string, out io.Writer) *LogManager {
	return &LogManager{out: out, version: version}
}

// Apply updates the log configuration with the given settings.
// Returns an error if file logging is requested but cannot be enabled.
func (lm *LogManager) Apply(level, logPath string, maxSize, maxBackups int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	setLogLevel(level)

	baseWriter := baseLogWriter(lm.out)
	newWriter, newCloser, err := lm.buildWriter(baseWriter, logPath, maxSize, maxBackups)
	if err != nil {
		return err
	}

	log.Logger = zerolog.New(newWriter).With().Timestamp().Logger()

	oldCloser := lm.closer
	lm.closer = newCloser
	if oldCloser != nil {
		if closeErr := oldCloser.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("Failed to close old log rotator")
		}
	}

	log.Trace().Str("version", lm.version).Str("level", zerolog.GlobalLevel().String()).Msg("Logger configured")
	return nil
}

// Close releases the log file, if one is open.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.closer == nil {
		return nil
	}
	err := lm.closer.Close()
	lm.closer = nil
	return err
}

func (lm *LogManager) buildWriter(baseWriter io.Writer, logPath string, maxSize, maxBackups int) (io.Writer, io.Closer, error) {
	if logPath == "" {
		return baseWriter, nil, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
	return io.MultiWriter(baseWriter, rotator), rotator, nil
}

// baseLogWriter renders human readable lines on a terminal and JSON otherwise.
func baseLogWriter(out io.Writer) io.Writer {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	return out
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(canonicalizeLogLevel(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// canonicalizeLogLevel normalizes a log level string to uppercase.
// Returns "INFO" if the level is empty or invalid.
func canonicalizeLogLevel(level string) string {
	normalized := strings.ToUpper(strings.TrimSpace(level))
	switch normalized {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
		return normalized
	case "WARNING":
		return "WARN"
	default:
		return "INFO"
	}
}

// VerbosityLevel maps a repeated -v count onto a log level.
func VerbosityLevel(verbose int, configured string) string {
	switch {
	case verbose >= 2:
		return "TRACE"
	case verbose == 1:
		return "DEBUG"
	default:
		return canonicalizeLogLevel(configured)
	}
}
