// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/relink/internal/buildinfo"
	"github.com/autobrr/relink/internal/config"
	"github.com/autobrr/relink/internal/metrics"
	"github.com/autobrr/relink/internal/services/dedupe"
)

// flag name to config key
var runFlagKeys = map[string]string{
	"dry-run":           "dryRun",
	"min-size":          "minFileSize",
	"max-size":          "maxFileSize",
	"include":           "include",
	"exclude":           "exclude",
	"exclude-regex":     "excludeRegex",
	"filter":            "filter",
	"canonical":         "canonical",
	"hash":              "hash",
	"verify":            "verify",
	"cross-device":      "crossDevice",
	"timestamps":        "timestamps",
	"cross-mounts":      "crossMounts",
	"match-mode":        "matchMode",
	"match-owner":       "matchOwner",
	"match-mtime":       "matchMtime",
	"match-name":        "matchName",
	"skip-temp-files":   "skipTempFiles",
	"partial-size":      "partialSize",
	"partial-tail-size": "partialTailSize",
	"workers":           "workers",
	"log-level":         "logLevel",
	"log-path":          "logPath",
	"metrics-file":      "metricsFile",
}

func RunDedupeCommand() *cobra.Command {
	var (
		configDir     string
		output        string
		verbose       int
		opts          reportOptions
	)

	command := &cobra.Command{
		Use:   "run [root...]",
		Short: "Scan roots and hardlink duplicate files",
		Long: `Scan the given roots (or the roots from config.toml) for files with
identical content and replace the copies with hardlinks.`,
		Example: `  relink run /srv/media
  relink run -n --min-size 1MiB --canonical oldest /srv/a /srv/b
  relink run --output json /data > report.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := dedupe.DefaultConfig()
	f := command.Flags()
	f.StringVar(&configDir, "config-dir", "", "config directory or config.toml path (default: OS-specific)")
	f.StringVarP(&output, "output", "o", "text", "report format: text, json or yaml")
	f.BoolVar(&opts.printPrevious, "print-previous", false, "list files that were already hardlinked before this run")
	f.BoolVar(&opts.list, "list", false, "list every link action with its outcome")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "omit the summary counters from the text report")
	f.CountVarP(&verbose, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")

	f.BoolP("dry-run", "n", false, "compute the plan without changing anything")
	f.String("min-size", "1", "ignore files smaller than this (e.g. 4KiB)")
	f.String("max-size", "0", "ignore files larger than this, 0 for unlimited")
	f.StringSlice("include", nil, "only consider files matching these patterns")
	f.StringSlice("exclude", nil, "skip files and directories matching these patterns")
	f.StringSlice("exclude-regex", nil, "skip paths matching these regular expressions")
	f.String("filter", "", "expression a file must satisfy, e.g. \"Size > 1024\"")
	f.String("canonical", string(defaults.Canonical), "canonical policy: first-seen, oldest, newest, most-linked")
	f.String("hash", string(defaults.Hash), "content hash: xxhash, blake3, sha256")
	f.String("verify", string(defaults.Verify), "final check: bytes or hash")
	f.String("cross-device", string(defaults.CrossDevice), "groups spanning devices: skip or fail")
	f.String("timestamps", string(defaults.Timestamps), "mtime of linked files: canonical or oldest")
	f.Bool("cross-mounts", false, "descend into other filesystems below a root")
	f.Bool("match-mode", false, "only link files with the same permissions")
	f.Bool("match-owner", false, "only link files with the same owner and group")
	f.Bool("match-mtime", false, "only link files with the same modification time")
	f.Bool("match-name", false, "only link files with the same name")
	f.Bool("skip-temp-files", defaults.SkipTempFiles, "ignore rsync and mirror temporaries")
	f.String("partial-size", "64KiB", "bytes read from the head of a file before full hashing")
	f.String("partial-tail-size", "0", "bytes read from the tail of a file before full hashing")
	f.Int("workers", 0, "parallel workers, 0 for one per CPU")
	f.String("log-level", "INFO", "log level: trace, debug, info, warn, error")
	f.String("log-path", "", "also write logs to this file")
	f.String("metrics-file", "", "write run metrics to this node exporter textfile")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		switch output {
		case outputText, outputJSON, outputYAML:
		default:
			return configFailure(fmt.Errorf("unknown output format %q", output))
		}

		cfg := config.New(configDir)
		if err := cfg.BindFlags(cmd.Flags(), runFlagKeys); err != nil {
			return configFailure(err)
		}
		if err := cfg.Load(); err != nil {
			return configFailure(err)
		}
		if len(args) > 0 {
			cfg.Config.Roots = args
		}

		lm := config.NewLogManager(buildinfo.Version, cmd.ErrOrStderr())
		cfg.Config.LogLevel = config.VerbosityLevel(verbose, cfg.Config.LogLevel)
		if err := cfg.ApplyLogConfig(lm); err != nil {
			return configFailure(err)
		}
		defer lm.Close()

		dcfg, err := cfg.DedupeConfig()
		if err != nil {
			return configFailure(err)
		}

		rep, err := dedupe.Run(cmd.Context(), dcfg)
		if err != nil {
			if dedupe.IsConfigError(err) {
				return configFailure(err)
			}
			if rep == nil {
				return &exitCodeError{code: dedupe.ExitPartial, err: err}
			}
			log.Warn().Err(err).Msg("Run interrupted")
		}

		if path := cfg.Config.MetricsFile; path != "" {
			m := metrics.NewMetricsManager()
			m.Observe(rep, time.Now())
			if err := m.WriteTextfile(path); err != nil {
				log.Error().Err(err).Msg("Failed to write metrics")
			}
		}

		if err := writeReport(cmd.OutOrStdout(), rep, output, opts); err != nil {
			return &exitCodeError{code: dedupe.ExitPartial, err: err}
		}

		if code := rep.ExitCode(); code != dedupe.ExitOK {
			return &exitCodeError{code: code}
		}
		return nil
	}

	return command
}
