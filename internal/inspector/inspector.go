// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package inspector implements the read-only "show" operation: enumerate
// every backup catalog under a config directory and report its configured
// roots, plus a machine-readable export of one backup's configuration.
package inspector

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nbari/backup/internal/catalog"
	"github.com/nbari/backup/internal/keyvault"
)

// Backup is one catalog's resolved configuration.
type Backup struct {
	Name        string   `msgpack:"name"`
	PublicKey   string   `msgpack:"public_key"`
	Directories []string `msgpack:"directories"`
	Files       []string `msgpack:"files"`
}

// List enumerates every <name>.db file in configDir and reads its
// directory and file roots.
func List(ctx context.Context, configDir string) ([]Backup, error) {
	matches, err := filepath.Glob(filepath.Join(configDir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("inspector: glob %s: %w", configDir, err)
	}
	sort.Strings(matches)

	backups := make([]Backup, 0, len(matches))
	for _, dbPath := range matches {
		name := strings.TrimSuffix(filepath.Base(dbPath), ".db")
		b, err := read(ctx, dbPath, name)
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	return backups, nil
}

func read(ctx context.Context, dbPath, name string) (Backup, error) {
	store, err := catalog.Open(dbPath)
	if err != nil {
		return Backup{}, err
	}
	defer store.Close()

	dirs, err := store.ListConfigDirectories(ctx)
	if err != nil {
		return Backup{}, err
	}
	files, err := store.ListConfigFiles(ctx)
	if err != nil {
		return Backup{}, err
	}
	pk, err := store.GetPublicKey(ctx)
	if err != nil {
		return Backup{}, err
	}

	return Backup{
		Name:        name,
		PublicKey:   keyvault.EncodePublicKey(pk),
		Directories: dirs,
		Files:       files,
	}, nil
}

// Tree renders backups as a two-level box-drawing tree: backup name ->
// section (Directories/Files) -> entry.
func Tree(backups []Backup) string {
	var b strings.Builder
	for i, backup := range backups {
		fmt.Fprintf(&b, "%s\n", backup.Name)

		sections := []struct {
			label   string
			entries []string
		}{
			{"Directories", backup.Directories},
			{"Files", backup.Files},
		}

		for si, section := range sections {
			sectionPrefix := "├── "
			if si == len(sections)-1 {
				sectionPrefix = "└── "
			}
			fmt.Fprintf(&b, "%s%s\n", sectionPrefix, section.label)

			childIndent := "│   "
			if si == len(sections)-1 {
				childIndent = "    "
			}
			for ei, entry := range section.entries {
				entryPrefix := "├── "
				if ei == len(section.entries)-1 {
					entryPrefix = "└── "
				}
				fmt.Fprintf(&b, "%s%s%s\n", childIndent, entryPrefix, entry)
			}
		}

		if i != len(backups)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ExportConfig msgpack-encodes one backup's resolved configuration
// (directories, files, public key) with sorted map keys, giving scripts a
// stable machine-readable snapshot without parsing Tree's output. It
// performs no mutation.
func ExportConfig(ctx context.Context, configDir, name string) ([]byte, error) {
	dbPath := filepath.Join(configDir, name+".db")
	backup, err := read(ctx, dbPath, name)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(backup); err != nil {
		return nil, fmt.Errorf("inspector: export config for %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
