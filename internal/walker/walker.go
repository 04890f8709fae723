// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package walker yields the regular files under a configured backup root,
// optionally honoring .gitignore-style ignore rules encountered along the
// way (including in parent directories of the current entry).
//
// The walk follows symlinks, does not skip dotfiles, and layers ignore
// rules from every directory between the root and the current entry, not
// just the current directory's own .gitignore. It pairs stdlib
// path/filepath.WalkDir-style recursion with
// github.com/monochromegane/go-gitignore for pattern matching.
package walker

import (
	"fmt"
	"os"
	"path/filepath"

	gitignore "github.com/monochromegane/go-gitignore"
)

// Entry is one item yielded by Walk: either a regular file path, or a
// non-fatal traversal error (directory unreadable, stat failure, etc).
// Exactly one of Path and Err is set.
type Entry struct {
	Path string
	Err  error
}

// matcher is the subset of gitignore.IgnoreMatcher that Walk depends on,
// declared locally so tests can substitute a fake without touching the
// filesystem.
type matcher interface {
	Match(path string, isDir bool) bool
}

// loadIgnoreFile is overridable in tests.
var loadIgnoreFile = func(path string) (matcher, error) {
	m, err := gitignore.NewGitIgnore(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

const ignoreFileName = ".gitignore"

// Walk streams every regular file under root on the returned channel,
// closing it once the traversal completes. Symlinks are followed;
// directories, devices, and sockets are silently skipped; hidden entries
// are included. When honorIgnore is true, any .gitignore files found from
// root down to the current directory suppress matching entries; when
// false, ignore files are not read at all. The traversal root need not be
// part of a version-controlled tree.
func Walk(root string, honorIgnore bool) <-chan Entry {
	out := make(chan Entry)
	go func() {
		defer close(out)
		walkDir(root, root, nil, honorIgnore, out)
	}()
	return out
}

func walkDir(root, dir string, matchers []matcher, honorIgnore bool, out chan<- Entry) {
	if honorIgnore {
		if m, err := loadIgnoreFile(filepath.Join(dir, ignoreFileName)); err == nil {
			matchers = append(matchers, m)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		out <- Entry{Err: fmt.Errorf("walker: read dir %s: %w", dir, err)}
		return
	}

	for _, de := range entries {
		path := filepath.Join(dir, de.Name())

		info, err := os.Stat(path) // follows symlinks
		if err != nil {
			out <- Entry{Err: fmt.Errorf("walker: stat %s: %w", path, err)}
			continue
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		if honorIgnore && anyMatch(matchers, rel, info.IsDir()) {
			continue
		}

		if info.IsDir() {
			walkDir(root, path, matchers, honorIgnore, out)
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		out <- Entry{Path: path}
	}
}

func anyMatch(matchers []matcher, rel string, isDir bool) bool {
	// An entry is suppressed if any layered matcher matches it. There is no
	// precedence between .gitignore files: a negation in a deeper file does
	// not re-include an entry that a shallower file ignores.
	for i := len(matchers) - 1; i >= 0; i-- {
		if matchers[i].Match(rel, isDir) {
			return true
		}
	}
	return false
}
