// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

package catalog

// Schema for the catalog. Files carries the wrapped content key and the
// ephemeral public key used to wrap it, and FileNames is keyed by
// (path_id, file_id, name) rather than (path_id, name, first_version) so
// that a re-observed file with unchanged content updates last_version
// instead of growing a new row every run.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS Config (
	name  TEXT NOT NULL UNIQUE,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS Paths (
	path_id INTEGER PRIMARY KEY,
	path    TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS Files (
	file_id     INTEGER PRIMARY KEY,
	hash        TEXT NOT NULL UNIQUE,
	wrapped_key BLOB NOT NULL,
	ephemeral_pk BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS FileNames (
	name_id       INTEGER PRIMARY KEY,
	path_id       INTEGER NOT NULL REFERENCES Paths(path_id),
	name          TEXT NOT NULL,
	file_id       INTEGER NOT NULL REFERENCES Files(file_id),
	first_version INTEGER NOT NULL,
	last_version  INTEGER,
	UNIQUE(path_id, file_id, name)
);

CREATE INDEX IF NOT EXISTS idx_filenames_version
	ON FileNames (first_version, last_version);

CREATE TABLE IF NOT EXISTS BackupVersions (
	version_id INTEGER PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ConfigDirectories (
	id   INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS ConfigFiles (
	id   INTEGER PRIMARY KEY,
	path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS ConfigExclusions (
	id      INTEGER PRIMARY KEY,
	pattern TEXT NOT NULL UNIQUE,
	kind    TEXT NOT NULL
);
`

// schemaVersion is stored in Config under configKeySchemaVersion so a
// future release can detect and refuse an incompatible catalog layout.
const schemaVersion = "1"

const (
	configKeyPublicKey     = "public_key"
	configKeySchemaVersion = "schema_version"
)
