// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeLogLevel(t *testing.T) {
	tests := map[string]string{
		"":        "INFO",
		"debug":   "DEBUG",
		" Trace ": "TRACE",
		"warning": "WARN",
		"error":   "ERROR",
		"verbose": "INFO",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalizeLogLevel(in), "input %q", in)
	}
}

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, "WARN", VerbosityLevel(0, "warn"))
	assert.Equal(t, "DEBUG", VerbosityLevel(1, "warn"))
	assert.Equal(t, "TRACE", VerbosityLevel(3, "warn"))
}

func TestLogManagerApplyWritesJSONAndFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	lm := NewLogManager("test", &buf)
	logPath := filepath.Join(t.TempDir(), "logs", "relink.log")

	require.NoError(t, lm.Apply("warn", logPath, 1, 1))
	log.Info().Msg("hidden")
	log.Warn().Str("path", "/x").Msg("shown")
	require.NoError(t, lm.Close())

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"path":"/x"`)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")
}

func TestLogManagerCloseWithoutFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	lm := NewLogManager("test", &bytes.Buffer{})
	require.NoError(t, lm.Apply("info", "", 0, 0))
	assert.NoError(t, lm.Close())
}
