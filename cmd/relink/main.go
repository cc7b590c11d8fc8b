// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autobrr/relink/internal/services/dedupe"
)

// exitCodeError carries a process exit status out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func configFailure(err error) error {
	return &exitCodeError{code: dedupe.ExitConfigError, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return dedupe.ExitOK
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	// flag and argument errors from cobra
	return dedupe.ExitConfigError
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relink",
		Short: "Replace duplicate files with hardlinks",
		Long: `relink scans directory trees for byte-identical files and replaces the
copies with hardlinks to a single storage object.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(RunDedupeCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunVersionCommand())

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	stop()

	var ec *exitCodeError
	if err != nil && (!errors.As(err, &ec) || ec.err != nil) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
