// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package backupinit implements the "new" operation: allocate a catalog
// for a named backup, mint its recipient key pair, persist the public
// half, resolve its configured roots, and hand back the one-time recovery
// phrase.
package backupinit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nbari/backup/internal/catalog"
	"github.com/nbari/backup/internal/keyvault"
	"github.com/nbari/backup/internal/roots"
)

// Result is everything the caller needs to report a successful
// initialization: the catalog path, the resolved roots actually
// persisted, and the one-time recovery phrase.
type Result struct {
	CatalogPath       string
	Directories       []string
	Files             []string
	ExclusionCount    int
	Phrase            string
}

// New creates config_dir/<name>.db, persists its recipient public key and
// resolved root configuration, and returns the recovery phrase. The
// phrase is never written to the catalog; it is the caller's
// responsibility to display it and nothing else.
func New(ctx context.Context, name string, directories, files, exclusions []string, configDir string) (Result, error) {
	path := filepath.Join(configDir, name+".db")

	if _, err := os.Stat(path); err == nil {
		return Result{}, fmt.Errorf("%w: catalog %s", catalog.ErrAlreadyExists, path)
	} else if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("backupinit: stat %s: %w", path, err)
	}

	store, err := catalog.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		return Result{}, err
	}

	phrase, err := keyvault.NewMnemonic()
	if err != nil {
		return Result{}, err
	}

	_, public, err := keyvault.DeriveRecipient(phrase)
	if err != nil {
		return Result{}, err
	}

	if err := store.PutPublicKey(ctx, public); err != nil {
		return Result{}, err
	}

	cover := roots.MinimalDirectoryCover(directories)
	standaloneFiles := roots.FilterStandaloneFiles(files, cover)

	if err := store.PutConfigDirectories(ctx, cover); err != nil {
		return Result{}, err
	}
	if err := store.PutConfigFiles(ctx, standaloneFiles); err != nil {
		return Result{}, err
	}
	if len(exclusions) > 0 {
		if err := store.PutConfigExclusions(ctx, exclusions); err != nil {
			return Result{}, err
		}
	}

	return Result{
		CatalogPath:    path,
		Directories:    cover,
		Files:          standaloneFiles,
		ExclusionCount: len(exclusions),
		Phrase:         phrase,
	}, nil
}

// Summary renders the short registration report printed before the
// recovery phrase: what directories, files, and exclusion patterns were
// just persisted.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "catalog: %s\n", r.CatalogPath)
	fmt.Fprintf(&b, "directories: %d\n", len(r.Directories))
	for _, d := range r.Directories {
		fmt.Fprintf(&b, "  %s\n", d)
	}
	fmt.Fprintf(&b, "files: %d\n", len(r.Files))
	for _, f := range r.Files {
		fmt.Fprintf(&b, "  %s\n", f)
	}
	fmt.Fprintf(&b, "exclusions: %d\n", r.ExclusionCount)
	return b.String()
}

// FormatPhrase groups the recovery phrase four words per line for easier
// transcription.
func FormatPhrase(phrase string) string {
	words := strings.Fields(phrase)
	var b strings.Builder
	for i := 0; i < len(words); i += 4 {
		end := i + 4
		if end > len(words) {
			end = len(words)
		}
		b.WriteString(strings.Join(words[i:end], " "))
		b.WriteByte('\n')
	}
	return b.String()
}
