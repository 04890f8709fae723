// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package hasher computes BLAKE3 content hashes for the backup catalog.
package hasher

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// chunkSize is the read buffer used while streaming a file through the
// hasher. 64 KiB matches the catalog's hash-read buffer budget.
const chunkSize = 64 * 1024

// Hash streams path through a BLAKE3 hasher in chunkSize chunks and returns
// the hex-encoded 32-byte digest. File-not-found, permission, and read
// errors are returned unchanged (wrapped with the path for context).
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hasher: read %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
