// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergii-nosachenko/retrospecta/cmd/retrospecta/config"
	"github.com/sergii-nosachenko/retrospecta/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
	cfg        config.RetrospectaConfig
)

var rootCmd = &cobra.Command{
	Use:   "retrospecta",
	Short: "A decision journal with live analysis updates",
	Long: `retrospecta records decisions, analyzes them in the background and
streams status changes to connected clients as they happen.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.retrospecta/retrospecta.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(serveCmd, watchCmd, decideCmd, reanalyzeCmd, versionCmd)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		loaded.Logging.Level = logLevel
	}
	cfg = loaded
	return nil
}

// newLogger builds the process logger for service and installs it as the
// slog default.
func newLogger(service string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: service,
		JSON:    cfg.Logging.JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.SetDefault()
	return logger, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "retrospecta", version)
	},
}
