// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nbari/backup/internal/snapshot"
)

func newRunCommand() *cobra.Command {
	var (
		noGitignore    bool
		noCompression  bool
		noEncryption   bool
		dryRun         bool
		configFlag     string
	)

	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Take a new snapshot of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}

			runID := uuid.New().String()
			log := slog.With("op", "run", "backup", name, "run_id", runID)

			configDir, err := resolveConfigDir(configFlag)
			if err != nil {
				return err
			}

			log.Info("starting snapshot", "dry_run", dryRun, "no_gitignore", noGitignore)

			report, err := snapshot.Run(cmd.Context(), name, noGitignore, dryRun, configDir)
			if err != nil {
				log.Error("snapshot failed", "err", err)
				return err
			}

			if report.SkippedLogPath != "" {
				fmt.Println("Some files were skipped. Check the log file:", report.SkippedLogPath)
			}
			fmt.Printf("Backup completed successfully in: %s.\n", snapshot.FormatDuration(report.Elapsed))
			log.Info("snapshot complete", "version", report.Version, "files_observed", report.FilesObserved)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noGitignore, "no-gitignore", false, "do not honor .gitignore rules during traversal")
	cmd.Flags().BoolVar(&noCompression, "no-compression", false, "reserved; does not alter catalog behavior")
	cmd.Flags().BoolVar(&noEncryption, "no-encryption", false, "reserved; does not alter catalog behavior")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute but do not persist a new snapshot")
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "config directory (default $HOME/.backup)")

	return cmd
}
