// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/relink/internal/services/dedupe"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// reportOptions select the optional sections of the text report.
type reportOptions struct {
	printPrevious bool
	list          bool
	quiet         bool
}

func writeReport(w io.Writer, rep *dedupe.Report, format string, opts reportOptions) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeText(w, rep, opts)
	}
}

func writeText(w io.Writer, rep *dedupe.Report, opts reportOptions) error {
	var b strings.Builder

	if rep.DryRun {
		b.WriteString("Dry run, no files were changed.\n")
	}
	if rep.Canceled {
		b.WriteString("Run was canceled before it completed.\n")
	}

	if !opts.quiet {
		writeSummary(&b, rep)
	}

	if len(rep.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", len(rep.Errors))
		for _, e := range rep.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}

	if opts.list {
		writeActions(&b, rep)
	}

	if opts.printPrevious && len(rep.Previous) > 0 {
		b.WriteString("\nAlready hardlinked:\n")
		for _, set := range rep.Previous {
			fmt.Fprintf(&b, "  %s x %d\n", humanize.IBytes(uint64(set.Size)), len(set.Paths))
			for _, p := range set.Paths {
				fmt.Fprintf(&b, "    %s\n", p)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSummary(b *strings.Builder, rep *dedupe.Report) {
	fmt.Fprintf(b, "Scanned:           %s files in %s directories\n",
		humanize.Comma(rep.FilesScanned), humanize.Comma(rep.Directories))
	fmt.Fprintf(b, "Duplicate groups:  %d (%d files)\n", rep.DuplicateGroups, rep.DuplicateFiles)

	linkLabel := "Links created:    "
	reclaimLabel := "Reclaimed:        "
	if rep.DryRun {
		linkLabel = "Links planned:    "
		reclaimLabel = "Reclaimable:      "
	}
	fmt.Fprintf(b, "%s %d\n", linkLabel, rep.LinksCreated)
	if rep.AlreadyLinked > 0 {
		fmt.Fprintf(b, "Already linked:    %d\n", rep.AlreadyLinked)
	}
	fmt.Fprintf(b, "Skipped:           %d\n", rep.Skipped)
	if rep.Failed > 0 {
		fmt.Fprintf(b, "Failed:            %d\n", rep.Failed)
	}
	fmt.Fprintf(b, "%s %s\n", reclaimLabel, humanize.IBytes(uint64(rep.BytesReclaimed)))
	if rep.PrelinkedPaths > 0 {
		fmt.Fprintf(b, "Previously linked: %d paths, %s saved\n",
			rep.PrelinkedPaths, humanize.IBytes(uint64(rep.BytesPreviouslySaved)))
	}
	if rep.IntegrityViolations > 0 {
		fmt.Fprintf(b, "Hash collisions:   %d\n", rep.IntegrityViolations)
	}
	fmt.Fprintf(b, "Read:              %s in %d comparisons\n", humanize.IBytes(uint64(rep.BytesRead)), rep.Comparisons)
	fmt.Fprintf(b, "Elapsed:           %s\n", rep.Elapsed.Round(time.Millisecond))
}

// writeActions lists each link action as "target => canonical", grouped by outcome.
func writeActions(b *strings.Builder, rep *dedupe.Report) {
	sections := []struct {
		status dedupe.ActionStatus
		title  string
	}{
		{dedupe.ActionLinked, "Linked this run"},
		{dedupe.ActionPlanned, "Planned links"},
		{dedupe.ActionSkipped, "Skipped"},
		{dedupe.ActionFailed, "Failed"},
	}

	for _, sec := range sections {
		var lines []string
		for _, a := range rep.Actions {
			if a.Status != sec.status {
				continue
			}
			line := fmt.Sprintf("  %s => %s", a.Target, a.Canonical)
			switch {
			case a.Error != "":
				line += " (" + a.Error + ")"
			case a.Reason != "":
				line += " (" + string(a.Reason) + ")"
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(b, "\n%s (%d):\n", sec.title, len(lines))
		for _, l := range lines {
			b.WriteString(l + "\n")
		}
	}
}
