// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltBackend stores records in a bbolt file, one bucket per collection.
// Useful where a pure key-value file fits better than SQLite (route caches,
// single-purpose appliances).
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens (creating if needed) the bbolt file at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Get(collection, id string) (Record, bool, error) {
	var rec Record
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return nil
		}
		raw := bkt.Get([]byte(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
		}
		found = true
		return nil
	})
	return rec, found, err
}

func (b *BoltBackend) Put(collection string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, rec.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to open bucket %s: %w", collection, err)
		}
		return bkt.Put([]byte(rec.ID), raw)
	})
}

func (b *BoltBackend) Delete(collection, id string) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return nil
		}
		if bkt.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return bkt.Delete([]byte(id))
	})
	return found, err
}

func (b *BoltBackend) Scan(collection string) ([]Record, error) {
	var out []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(collection))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_, raw []byte) error {
			var rec Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("failed to decode record in %s: %w", collection, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (b *BoltBackend) Close() error { return b.db.Close() }
