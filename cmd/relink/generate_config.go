// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autobrr/relink/internal/config"
)

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Write a default config.toml",
		Long:  `Write a commented config.toml with every option at its default value.`,
		Example: `  relink generate-config
  relink generate-config --config-dir /etc/relink`,
		Args: cobra.NoArgs,
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory (default: OS-specific)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		if configDir == "" {
			configDir = config.GetDefaultConfigDir()
		}

		path, err := config.WriteDefaultConfig(configDir)
		if errors.Is(err, config.ErrConfigExists) {
			fmt.Fprintf(cmd.OutOrStdout(), "Config file already exists at %s. Skipping generation.\n", path)
			return nil
		}
		if err != nil {
			return configFailure(fmt.Errorf("failed to create configuration file: %w", err))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created successfully at: %s\n", path)
		return nil
	}

	return command
}
