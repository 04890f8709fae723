// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nbari/backup/internal/backupinit"
)

func newNewCommand() *cobra.Command {
	var (
		dirs       []string
		files      []string
		exclusions []string
		configFlag string
	)

	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create a new backup catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := validateName(name); err != nil {
				return err
			}
			for _, d := range dirs {
				if _, err := os.Stat(d); err != nil {
					return fmt.Errorf("directory %s: %w", d, err)
				}
			}
			for _, f := range files {
				if _, err := os.Stat(f); err != nil {
					return fmt.Errorf("file %s: %w", f, err)
				}
			}

			configDir, err := resolveConfigDir(configFlag)
			if err != nil {
				return err
			}

			res, err := backupinit.New(cmd.Context(), name, dirs, files, exclusions, configDir)
			if err != nil {
				return err
			}

			fmt.Print(res.Summary())
			fmt.Println()
			fmt.Println("Store this recovery phrase somewhere safe. It is never saved and cannot be recovered:")
			fmt.Print(backupinit.FormatPhrase(res.Phrase))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&dirs, "dir", "d", nil, "directory to back up (repeatable)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "standalone file to back up (repeatable)")
	cmd.Flags().StringArrayVarP(&exclusions, "exclude", "e", nil, "exclusion pattern (repeatable)")
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "config directory (default $HOME/.backup)")

	return cmd
}
