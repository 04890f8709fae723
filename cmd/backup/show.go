// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nbari/backup/internal/inspector"
)

func newShowCommand() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List known backups and their configured roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := resolveConfigDir(configFlag)
			if err != nil {
				return err
			}

			backups, err := inspector.List(cmd.Context(), configDir)
			if err != nil {
				return err
			}

			fmt.Print(inspector.Tree(backups))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "config directory (default $HOME/.backup)")

	return cmd
}
