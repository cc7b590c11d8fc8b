// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autobrr/relink/internal/buildinfo"
)

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Example: `  relink version
  relink version --json`,
		Args: cobra.NoArgs,
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		if !asJSON {
			fmt.Fprint(cmd.OutOrStdout(), buildinfo.String())
			return nil
		}
		data, err := buildinfo.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	return command
}
