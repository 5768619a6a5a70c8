// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"sort"
	"sync"
)

// Backend is the durable key-value contract the record store builds on. Each
// collection is an independent namespace keyed by record id. Implementations
// must be safe for concurrent use; the store serializes writes per collection
// above this layer, but reads may arrive from any goroutine.
type Backend interface {
	Get(collection, id string) (Record, bool, error)
	Put(collection string, rec Record) error
	Delete(collection, id string) (bool, error)
	// Scan returns every record of a collection in unspecified order.
	Scan(collection string) ([]Record, error)
	Close() error
}

// MemBackend is an in-memory Backend for tests and ephemeral contexts.
type MemBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]Record
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string]map[string]Record)}
}

func (m *MemBackend) Get(collection, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[collection][id]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *MemBackend) Put(collection string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.data[collection]
	if col == nil {
		col = make(map[string]Record)
		m.data[collection] = col
	}
	col[rec.ID] = rec.Clone()
	return nil
}

func (m *MemBackend) Delete(collection, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.data[collection]
	if _, ok := col[id]; !ok {
		return false, nil
	}
	delete(col, id)
	return true, nil
}

func (m *MemBackend) Scan(collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.data[collection]
	out := make([]Record, 0, len(col))
	for _, rec := range col {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemBackend) Close() error { return nil }
