// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Command backup is the CLI entry point: subcommand dispatch via cobra,
// structured logging via log/slog, wired straight into the core
// operations in internal/backupinit, internal/snapshot, and
// internal/inspector.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "backup",
		Short:         "A content-addressed, versioned, encrypted backup catalog",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newNewCommand(), newShowCommand(), newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// resolveConfigDir resolves the config directory: the flag value if set,
// otherwise $HOME/.backup, falling back to /tmp when the home directory
// cannot be determined. The directory is created if missing.
func resolveConfigDir(flagValue string) (string, error) {
	dir := flagValue
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			dir = "/tmp"
		} else {
			dir = home + "/.backup"
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return dir, nil
}
