// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend persists records in a single SQLite database, one row per
// (collection, id). It is the durable default for field devices.
type SQLiteBackend struct {
	db *sql.DB
}

// schemaVersion is the current local schema version. Migrations are additive
// only (new collections/indexes never destroy existing data); each entry runs
// at most once and _schema_version records the high watermark.
const schemaVersion = 2

var migrations = []string{
	// v1: record rows, collection as a namespace column
	`CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		fields     TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		hash       TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	// v2: scan-by-collection and snapshot-since support
	`CREATE INDEX IF NOT EXISTS idx_records_collection_ts ON records(collection, timestamp)`,
}

// OpenSQLiteBackend opens (creating if needed) the database at path and
// applies any pending migrations.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Single writer at a time keeps SQLite locking out of the picture; the
	// store serializes writes per collection anyway.
	db.SetMaxOpenConns(1)
	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	var current int
	err := db.QueryRow(`SELECT version FROM _schema_version`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO _schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("failed to seed version table: %w", err)
		}
		current = 0
	} else if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	for v := current; v < schemaVersion; v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migration %d failed: %w", v+1, err)
		}
	}
	if current < schemaVersion {
		if _, err := db.Exec(`UPDATE _schema_version SET version = ?`, schemaVersion); err != nil {
			return fmt.Errorf("failed to advance schema version: %w", err)
		}
	}
	return nil
}

func (s *SQLiteBackend) Get(collection, id string) (Record, bool, error) {
	var fieldsJSON string
	rec := Record{ID: id}
	err := s.db.QueryRow(`
		SELECT fields, timestamp, hash FROM records WHERE collection = ? AND id = ?
	`, collection, id).Scan(&fieldsJSON, &rec.Timestamp, &rec.Hash)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode fields of %s/%s: %w", collection, id, err)
	}
	return rec, true, nil
}

func (s *SQLiteBackend) Put(collection string, rec Record) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields of %s/%s: %w", collection, rec.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO records (collection, id, fields, timestamp, hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			fields = excluded.fields,
			timestamp = excluded.timestamp,
			hash = excluded.hash
	`, collection, rec.ID, string(fieldsJSON), rec.Timestamp, rec.Hash)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(collection, id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteBackend) Scan(collection string) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, fields, timestamp, hash FROM records WHERE collection = ? ORDER BY id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var fieldsJSON string
		if err := rows.Scan(&rec.ID, &fieldsJSON, &rec.Timestamp, &rec.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", collection, err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields in %s: %w", collection, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Close() error { return s.db.Close() }
