// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the durable store backing one named backup: schema,
// pooled connections, and the transactional upsert/record operations a
// snapshot run depends on, built on database/sql over
// github.com/mattn/go-sqlite3. database/sql's *sql.DB already pools
// connections internally, so SetMaxOpenConns is enough to cap the pool
// size directly.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nbari/backup/internal/keyvault"
	"github.com/nbari/backup/internal/roots"
)

// Sentinel errors for the failure modes this package can report.
var (
	ErrAlreadyExists    = errors.New("catalog: already exists")
	ErrNotFound         = errors.New("catalog: not found")
	ErrPublicKeySet     = errors.New("catalog: public key already set")
	ErrSchemaIncompatible = errors.New("catalog: incompatible schema version")
)

// poolSize caps the connection pool at the host's CPU count, never
// exceeding 32. Go's runtime does not distinguish physical from logical
// cores, so runtime.NumCPU() is used as the available-parallelism signal
// throughout this package and the snapshot engine's concurrency cap.
func poolSize() int {
	if n := runtime.NumCPU(); n < 32 {
		return n
	}
	return 32
}

// Retry tuning for SQLITE_BUSY/SQLITE_LOCKED contention: a capped
// exponential backoff over a bounded number of attempts.
const (
	retryMaxAttempts  = 5
	retryBaseDelay    = 100 * time.Millisecond
	retryMaxDelay     = 2 * time.Second
)

// Store is a pooled connection to one backup's catalog file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the catalog file at path with
// write-ahead journaling and synchronous=NORMAL durability, and sizes the
// connection pool to the host's available parallelism.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	n := poolSize()
	db.SetMaxOpenConns(n)
	db.SetMaxIdleConns(n)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the catalog file path this store was opened with.
func (s *Store) Path() string {
	return s.path
}

// CreateSchema idempotently creates every table and index the catalog
// needs, and records the schema version, failing if an existing catalog
// carries an incompatible version.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
			return fmt.Errorf("catalog: create schema: %w", err)
		}

		var existing string
		err := s.db.QueryRowContext(ctx, `SELECT value FROM Config WHERE name = ?`, configKeySchemaVersion).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err := s.db.ExecContext(ctx, `INSERT INTO Config (name, value) VALUES (?, ?)`, configKeySchemaVersion, schemaVersion)
			if err != nil {
				return fmt.Errorf("catalog: record schema version: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("catalog: read schema version: %w", err)
		case existing != schemaVersion:
			return fmt.Errorf("%w: catalog is version %s, this build expects %s", ErrSchemaIncompatible, existing, schemaVersion)
		default:
			return nil
		}
	})
}

// PutPublicKey persists the recipient public key. Fails with
// ErrPublicKeySet if one is already present.
func (s *Store) PutPublicKey(ctx context.Context, pk keyvault.PublicKey) error {
	return s.withRetry(ctx, func() error {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Config WHERE name = ?`, configKeyPublicKey).Scan(&count); err != nil {
			return fmt.Errorf("catalog: check public key: %w", err)
		}
		if count > 0 {
			return ErrPublicKeySet
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO Config (name, value) VALUES (?, ?)`, configKeyPublicKey, keyvault.EncodePublicKey(pk))
		if err != nil {
			return fmt.Errorf("catalog: put public key: %w", err)
		}
		return nil
	})
}

// GetPublicKey decodes and verifies the stored recipient public key.
func (s *Store) GetPublicKey(ctx context.Context) (keyvault.PublicKey, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM Config WHERE name = ?`, configKeyPublicKey).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return keyvault.PublicKey{}, fmt.Errorf("%w: no public key configured", ErrNotFound)
	}
	if err != nil {
		return keyvault.PublicKey{}, fmt.Errorf("catalog: get public key: %w", err)
	}
	return keyvault.DecodePublicKey(encoded)
}

// PutConfigDirectories idempotently inserts each directory path.
func (s *Store) PutConfigDirectories(ctx context.Context, paths []string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("catalog: begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ConfigDirectories (path) VALUES (?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare config directories: %w", err)
		}
		defer stmt.Close()

		for _, p := range paths {
			if _, err := stmt.ExecContext(ctx, p); err != nil {
				return fmt.Errorf("catalog: insert config directory %s: %w", p, err)
			}
		}
		return tx.Commit()
	})
}

// PutConfigFiles idempotently inserts each standalone file path, first
// dropping any path that is a descendant of a directory already in
// ConfigDirectories at insertion time, so a file never duplicates a
// directory root that already covers it.
func (s *Store) PutConfigFiles(ctx context.Context, paths []string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("catalog: begin: %w", err)
		}
		defer tx.Rollback()

		dirRows, err := tx.QueryContext(ctx, `SELECT path FROM ConfigDirectories`)
		if err != nil {
			return fmt.Errorf("catalog: list config directories: %w", err)
		}
		var dirs []string
		for dirRows.Next() {
			var d string
			if err := dirRows.Scan(&d); err != nil {
				dirRows.Close()
				return fmt.Errorf("catalog: scan config directory: %w", err)
			}
			dirs = append(dirs, d)
		}
		if err := dirRows.Err(); err != nil {
			dirRows.Close()
			return err
		}
		dirRows.Close()

		filtered := roots.FilterStandaloneFiles(paths, dirs)

		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ConfigFiles (path) VALUES (?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare config files: %w", err)
		}
		defer stmt.Close()

		for _, p := range filtered {
			if _, err := stmt.ExecContext(ctx, p); err != nil {
				return fmt.Errorf("catalog: insert config file %s: %w", p, err)
			}
		}
		return tx.Commit()
	})
}

// PutConfigExclusions classifies and idempotently inserts each pattern.
func (s *Store) PutConfigExclusions(ctx context.Context, patterns []string) error {
	classified := roots.ClassifyExclusions(patterns)
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("catalog: begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO ConfigExclusions (pattern, kind) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare config exclusions: %w", err)
		}
		defer stmt.Close()

		for _, e := range classified {
			if _, err := stmt.ExecContext(ctx, e.Pattern, string(e.Kind)); err != nil {
				return fmt.Errorf("catalog: insert config exclusion %s: %w", e.Pattern, err)
			}
		}
		return tx.Commit()
	})
}

// ListConfigDirectories returns the configured directory roots.
func (s *Store) ListConfigDirectories(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `SELECT path FROM ConfigDirectories ORDER BY path`)
}

// ListConfigFiles returns the configured standalone files.
func (s *Store) ListConfigFiles(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, `SELECT path FROM ConfigFiles ORDER BY path`)
}

func (s *Store) listStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// AllocateSnapshot inserts a new BackupVersions row and returns its id,
// which IS the snapshot's version number.
func (s *Store) AllocateSnapshot(ctx context.Context) (int64, error) {
	var id int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `INSERT INTO BackupVersions DEFAULT VALUES`)
		if err != nil {
			return fmt.Errorf("catalog: allocate snapshot: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("catalog: read snapshot id: %w", err)
		}
		return nil
	})
	return id, err
}

// RecordObservedFile performs the three writes a single observed file
// needs, on one connection, inside one transaction: upsert the parent
// path, upsert the content record (preserving any existing wrapped key
// for that hash), and record or extend the name-version row.
func (s *Store) RecordObservedFile(ctx context.Context, parentPath, name, hash string, wrappedKey, ephemeralPK []byte, version int64) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("catalog: begin: %w", err)
		}
		defer tx.Rollback()

		pathID, err := upsertPath(ctx, tx, parentPath)
		if err != nil {
			return err
		}

		fileID, err := upsertFile(ctx, tx, hash, wrappedKey, ephemeralPK)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO FileNames (path_id, name, file_id, first_version)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path_id, file_id, name) DO UPDATE SET last_version = excluded.first_version
		`, pathID, name, fileID, version); err != nil {
			return fmt.Errorf("catalog: record name %s/%s: %w", parentPath, name, err)
		}

		return tx.Commit()
	})
}

func upsertPath(ctx context.Context, tx *sql.Tx, path string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO Paths (path) VALUES (?)`, path); err != nil {
		return 0, fmt.Errorf("catalog: upsert path %s: %w", path, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT path_id FROM Paths WHERE path = ?`, path).Scan(&id); err != nil {
		return 0, fmt.Errorf("catalog: read path id %s: %w", path, err)
	}
	return id, nil
}

// upsertFile inserts a new content record or, if hash already exists,
// silently keeps the existing wrapped_key/ephemeral_pk and discards the
// ones just computed by the caller.
func upsertFile(ctx context.Context, tx *sql.Tx, hash string, wrappedKey, ephemeralPK []byte) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO Files (hash, wrapped_key, ephemeral_pk) VALUES (?, ?, ?)
	`, hash, wrappedKey, ephemeralPK); err != nil {
		return 0, fmt.Errorf("catalog: upsert file %s: %w", hash, err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT file_id FROM Files WHERE hash = ?`, hash).Scan(&id); err != nil {
		return 0, fmt.Errorf("catalog: read file id %s: %w", hash, err)
	}
	return id, nil
}

// GetWrappedKey returns the wrapped content key and ephemeral public key
// stored for a given content hash, for restore/inspection tooling.
func (s *Store) GetWrappedKey(ctx context.Context, hash string) (wrappedKey, ephemeralPK []byte, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT wrapped_key, ephemeral_pk FROM Files WHERE hash = ?`, hash).Scan(&wrappedKey, &ephemeralPK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: no content record for hash %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: get wrapped key: %w", err)
	}
	return wrappedKey, ephemeralPK, nil
}

// withRetry retries fn on SQLITE_BUSY/SQLITE_LOCKED with capped,
// jittered exponential backoff (doubling delay up to a maximum).
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err

		if attempt == retryMaxAttempts {
			break
		}

		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}

	return fmt.Errorf("catalog: exhausted retries: %w", lastErr)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
