// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/relink/internal/services/dedupe"
)

func TestWriteTextDryRunAndErrors(t *testing.T) {
	rep := &dedupe.Report{
		DryRun:         true,
		Canceled:       true,
		FilesScanned:   12345,
		LinksCreated:   2,
		BytesReclaimed: 3 << 20,
		Errors: []*dedupe.FileError{
			{Path: "/srv/x", Stage: dedupe.StageClassify, Kind: dedupe.KindPermission, Err: errors.New("permission denied")},
		},
		Previous: []dedupe.PrelinkedSet{{Size: 10, Paths: []string{"/srv/p1", "/srv/p2"}}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, rep, outputText, reportOptions{}))
	out := buf.String()

	assert.Contains(t, out, "Dry run, no files were changed.")
	assert.Contains(t, out, "Run was canceled")
	assert.Contains(t, out, "12,345 files")
	assert.Contains(t, out, "Links planned:     2")
	assert.Contains(t, out, "Reclaimable:       3.0 MiB")
	assert.Contains(t, out, "Errors (1):")
	assert.Contains(t, out, "/srv/x: permission denied")
	assert.NotContains(t, out, "Already hardlinked", "previous sets need --print-previous")
}

func TestWriteReportJSONKeepsErrorMessages(t *testing.T) {
	rep := &dedupe.Report{
		Errors: []*dedupe.FileError{
			{Path: "/srv/x", Stage: dedupe.StageLink, Kind: dedupe.KindIO, Err: errors.New("boom")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, rep, outputJSON, reportOptions{}))

	assert.Contains(t, buf.String(), `"error": "boom"`)
	assert.Contains(t, buf.String(), `"kind": "io"`)
}

func TestWriteTextActionList(t *testing.T) {
	rep := &dedupe.Report{
		LinksCreated: 1,
		Skipped:      1,
		Failed:       1,
		Actions: []dedupe.ActionResult{
			{Group: 1, Canonical: "/srv/a", Target: "/srv/b", Status: dedupe.ActionLinked},
			{Group: 1, Canonical: "/srv/a", Target: "/srv/c", Status: dedupe.ActionSkipped, Reason: dedupe.SkipCrossDevice},
			{Group: 2, Canonical: "/srv/d", Target: "/srv/e", Status: dedupe.ActionFailed, Error: "link: read-only file system"},
			{Group: 3, Canonical: "/srv/f", Target: "/srv/g", Status: dedupe.ActionAlreadyLinked},
		},
	}

	tests := []struct {
		name        string
		opts        reportOptions
		contains    []string
		notContains []string
	}{
		{
			name:        "summary only",
			opts:        reportOptions{},
			contains:    []string{"Links created:     1"},
			notContains: []string{"Linked this run", "/srv/b => /srv/a"},
		},
		{
			name: "list",
			opts: reportOptions{list: true},
			contains: []string{
				"Links created:     1",
				"Linked this run (1):\n  /srv/b => /srv/a\n",
				"Skipped (1):\n  /srv/c => /srv/a (" + string(dedupe.SkipCrossDevice) + ")\n",
				"Failed (1):\n  /srv/e => /srv/d (link: read-only file system)\n",
			},
			notContains: []string{"/srv/g", "Planned links"},
		},
		{
			name:        "quiet list",
			opts:        reportOptions{list: true, quiet: true},
			contains:    []string{"Linked this run (1):"},
			notContains: []string{"Links created:", "Scanned:", "Elapsed:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeReport(&buf, rep, outputText, tt.opts))
			out := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, out, s)
			}
		})
	}
}
