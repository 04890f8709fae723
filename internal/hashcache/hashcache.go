// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package hashcache persists a per-backup (path, size, modification time)
// to (content hash, wrapped key, ephemeral public key) mapping so a
// snapshot run can skip re-hashing and re-wrapping a file that has not
// changed since it was last observed.
//
// Its on-disk shape is a single msgpack document with sorted map keys,
// decoded wholesale into memory and re-encoded wholesale on Flush.
package hashcache

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Entry is what the cache remembers about one path as of its last
// successful observation.
type Entry struct {
	Size        int64     `msgpack:"size"`
	ModTime     time.Time `msgpack:"mod_time"`
	Hash        string    `msgpack:"hash"`
	WrappedKey  []byte    `msgpack:"wrapped_key"`
	EphemeralPK []byte    `msgpack:"ephemeral_pk"`
}

// Cache is a mutex-protected in-memory map of Entry backed by a single
// file, safe for concurrent use by the snapshot engine's worker pool.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	dirty   bool
}

// Load reads path, if present, into a Cache. A missing or corrupt file is
// not an error: the cache degrades to empty, since it is a pure
// optimization a snapshot run does not otherwise depend on.
func Load(path string) *Cache {
	c := &Cache{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}

	var entries map[string]Entry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return c
	}
	c.entries = entries
	return c
}

// Lookup returns the cached entry for path if its size and modification
// time still match what was last recorded.
func (c *Cache) Lookup(path string, size int64, modTime time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok || e.Size != size || !e.ModTime.Equal(modTime) {
		return Entry{}, false
	}
	return e, true
}

// Put records or replaces the cached entry for path.
func (c *Cache) Put(path string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = e
	c.dirty = true
}

// Flush writes the cache back to disk if anything changed since Load,
// encoding with sorted map keys for deterministic byte output.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(c.entries); err != nil {
		return fmt.Errorf("hashcache: marshal: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("hashcache: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("hashcache: rename %s to %s: %w", tmp, c.path, err)
	}

	c.dirty = false
	return nil
}

// Forget drops any prior entries for path not among kept, so that a file
// removed from a directory between runs does not linger forever. kept is
// the full set of paths observed in the current run.
func (c *Cache) Forget(kept map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for path := range c.entries {
		if _, ok := kept[path]; !ok {
			delete(c.entries, path)
			c.dirty = true
		}
	}
}
