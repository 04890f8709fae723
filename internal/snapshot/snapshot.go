// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package snapshot implements the "run" operation: walk a backup's
// configured directory roots, hash and deduplicate content, wrap a fresh
// key per distinct content, and record name-version bookkeeping for every
// observed file.
//
// Concurrency is bounded by golang.org/x/sync/semaphore.Weighted acting as
// an admission-control permit pool, with golang.org/x/sync/errgroup.Group
// used purely for goroutine supervision rather than its fail-fast
// first-error behavior.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nbari/backup/internal/catalog"
	"github.com/nbari/backup/internal/hasher"
	"github.com/nbari/backup/internal/hashcache"
	"github.com/nbari/backup/internal/keyvault"
	"github.com/nbari/backup/internal/walker"
)

// ErrMissingRoot is returned when a configured directory root no longer
// exists at snapshot time.
var ErrMissingRoot = errors.New("snapshot: configured root is missing")

// DryRunVersion is the in-process sentinel meaning "compute but do not
// persist". It is never written to BackupVersions.
const DryRunVersion int64 = 0

// Report summarizes one completed run.
type Report struct {
	Version        int64
	FilesObserved  int
	SkippedLogPath string
	Elapsed        time.Duration
}

// Failed is the composite error returned when one or more per-file tasks
// failed with a hard (non-skip) error. The catalog remains consistent:
// every per-file task that did succeed already committed independently.
type Failed struct {
	Errors []error
}

func (f *Failed) Error() string {
	return fmt.Sprintf("snapshot: %d task(s) failed: %v", len(f.Errors), f.Errors[0])
}

func (f *Failed) Unwrap() []error {
	return f.Errors
}

func concurrencyLimit() int64 {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	if n > 255 {
		n = 255
	}
	return int64(n)
}

// Run opens config_dir/<name>.db, walks its configured directory roots,
// and records every observed file against a new (or, if dryRun, sentinel)
// snapshot version.
func Run(ctx context.Context, name string, noGitignore, dryRun bool, configDir string) (Report, error) {
	start := time.Now()

	path := filepath.Join(configDir, name+".db")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Report{}, fmt.Errorf("%w: no backup named %q", catalog.ErrNotFound, name)
		}
		return Report{}, fmt.Errorf("snapshot: stat %s: %w", path, err)
	}

	store, err := catalog.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer store.Close()

	publicKey, err := store.GetPublicKey(ctx)
	if err != nil {
		return Report{}, err
	}

	version := DryRunVersion
	if !dryRun {
		version, err = store.AllocateSnapshot(ctx)
		if err != nil {
			return Report{}, err
		}
	}

	dirs, err := store.ListConfigDirectories(ctx)
	if err != nil {
		return Report{}, err
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			return Report{}, fmt.Errorf("%w: %s", ErrMissingRoot, d)
		}
	}

	skipLogPath := filepath.Join(configDir, name+"-skipped_files.log")
	if err := os.Remove(skipLogPath); err != nil && !os.IsNotExist(err) {
		return Report{}, fmt.Errorf("snapshot: reset skip log %s: %w", skipLogPath, err)
	}
	skipLog := newSkipLog(skipLogPath)

	cachePath := filepath.Join(configDir, name+"-hashcache.msgpack")
	cache := hashcache.Load(cachePath)

	sem := semaphore.NewWeighted(concurrencyLimit())

	var eg errgroup.Group
	var mu sync.Mutex
	var taskErrors []error
	kept := make(map[string]struct{})
	observed := 0

	recordError := func(err error) {
		mu.Lock()
		taskErrors = append(taskErrors, err)
		mu.Unlock()
	}
	markKept := func(p string) {
		mu.Lock()
		kept[p] = struct{}{}
		observed++
		mu.Unlock()
	}

	honorIgnore := !noGitignore
	for _, dir := range dirs {
		for entry := range walker.Walk(dir, honorIgnore) {
			if entry.Err != nil {
				slog.Warn("traversal error", "op", "run", "backup", name, "err", entry.Err)
				continue
			}

			filePath := entry.Path
			if _, err := os.Stat(filePath); err != nil {
				if err := skipLog.append(filePath); err != nil {
					slog.Warn("failed to record skipped file", "op", "run", "backup", name, "path", filePath, "err", err)
				}
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				recordError(fmt.Errorf("snapshot: acquire permit for %s: %w", filePath, err))
				continue
			}

			eg.Go(func() error {
				defer sem.Release(1)
				processFile(ctx, store, cache, skipLog, publicKey, filePath, version, markKept, recordError)
				return nil
			})
		}
	}

	_ = eg.Wait()

	cache.Forget(kept)
	if err := cache.Flush(); err != nil {
		slog.Warn("failed to flush hash cache", "op", "run", "backup", name, "err", err)
	}

	if len(taskErrors) > 0 {
		return Report{}, &Failed{Errors: taskErrors}
	}

	skippedLogPath := skipLog.path
	empty, err := skipLog.finalize()
	if err != nil {
		slog.Warn("failed to finalize skipped-files log", "op", "run", "backup", name, "err", err)
	}
	if empty {
		skippedLogPath = ""
	}

	return Report{
		Version:        version,
		FilesObserved:  observed,
		SkippedLogPath: skippedLogPath,
		Elapsed:        time.Since(start),
	}, nil
}

// processFile runs the per-file work for one path: hash it, and unless
// this is a dry run, wrap a fresh content key and record the three
// catalog writes. A hashing failure demotes to a skip, never a hard
// error; a wrap or storage failure is reported via recordError.
func processFile(
	ctx context.Context,
	store *catalog.Store,
	cache *hashcache.Cache,
	skipLog *skipLog,
	publicKey keyvault.PublicKey,
	path string,
	version int64,
	markKept func(string),
	recordError func(error),
) {
	info, err := os.Stat(path)
	if err != nil {
		if err := skipLog.append(path); err != nil {
			slog.Warn("failed to record skipped file", "op", "run", "path", path, "err", err)
		}
		return
	}

	var hash string
	var wrappedKey, ephemeralPK []byte
	if entry, ok := cache.Lookup(path, info.Size(), info.ModTime()); ok {
		hash = entry.Hash
		wrappedKey = entry.WrappedKey
		ephemeralPK = entry.EphemeralPK
	} else {
		hash, err = hasher.Hash(path)
		if err != nil {
			if err := skipLog.append(path); err != nil {
				slog.Warn("failed to record skipped file", "op", "run", "path", path, "err", err)
			}
			return
		}
	}

	markKept(path)

	if version == DryRunVersion {
		return
	}

	if wrappedKey == nil {
		contentKey, err := keyvault.GenerateContentKey()
		if err != nil {
			recordError(fmt.Errorf("snapshot: generate content key for %s: %w", path, err))
			return
		}
		ciphertext, ephemeralPublic, err := keyvault.Wrap(contentKey, hash, publicKey)
		if err != nil {
			recordError(fmt.Errorf("snapshot: wrap content key for %s: %w", path, err))
			return
		}
		wrappedKey = ciphertext
		ephemeralPK = ephemeralPublic[:]
		cache.Put(path, hashcache.Entry{
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Hash:        hash,
			WrappedKey:  wrappedKey,
			EphemeralPK: ephemeralPK,
		})
	}

	parent := filepath.Dir(path)
	name := filepath.Base(path)
	if err := store.RecordObservedFile(ctx, parent, name, hash, wrappedKey, ephemeralPK, version); err != nil {
		recordError(fmt.Errorf("snapshot: record %s: %w", path, err))
	}
}

// FormatDuration renders d as "Xd Xh Xm Xs", omitting leading zero units.
func FormatDuration(d time.Duration) string {
	secs := int64(d.Seconds())

	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
