// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Store is the authoritative collection store behind the sync server.
// ApplyMutations processes operations in array order with per-item
// isolation; SnapshotSince returns every record updated strictly after the
// watermark, across all collections, unpaginated (single-deployment scale is
// an accepted non-goal).
type Store interface {
	ApplyMutations(ctx context.Context, clientID string, ops []SyncOperation) []OperationResult
	SnapshotSince(ctx context.Context, since int64) (map[string][]syncstore.Record, error)

	List(ctx context.Context, collection string, filter map[string]string) ([]syncstore.Record, error)
	Create(ctx context.Context, collection string, fields map[string]any) (syncstore.Record, error)
	Patch(ctx context.Context, collection, id string, fields map[string]any) (syncstore.Record, error)
	Delete(ctx context.Context, collection, id string) (bool, error)

	Close() error
}

// MemStore keeps authoritative state in process memory. It backs tests and
// single-node field deployments where Postgres is not available.
type MemStore struct {
	records *syncstore.Store
	logger  *slog.Logger
}

// NewMemStore returns an empty in-memory authoritative store.
func NewMemStore(logger *slog.Logger) *MemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemStore{
		records: syncstore.NewStore(syncstore.NewMemBackend(), logger),
		logger:  logger,
	}
}

func (m *MemStore) ApplyMutations(ctx context.Context, clientID string, ops []SyncOperation) []OperationResult {
	results := make([]OperationResult, 0, len(ops))
	for _, op := range ops {
		results = append(results, m.applyOne(ctx, op))
	}
	return results
}

// applyOne handles a single operation; its failure is confined to its own
// result slot.
func (m *MemStore) applyOne(ctx context.Context, op SyncOperation) OperationResult {
	res := OperationResult{Op: op.Op, Collection: op.Collection, ID: op.ID}
	switch op.Op {
	case syncstore.OpCreate:
		rec, err := m.Create(ctx, op.Collection, op.Data)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Success = true
		res.ID = rec.ID
		res.Data = &rec
		res.Timestamp = rec.Timestamp
	case syncstore.OpUpdate:
		rec, err := m.Patch(ctx, op.Collection, op.ID, op.Data)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Success = true
		res.Data = &rec
		res.Timestamp = rec.Timestamp
	case syncstore.OpDelete:
		found, err := m.Delete(ctx, op.Collection, op.ID)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if !found {
			res.Error = syncstore.KindName(op.Collection) + " not found"
			return res
		}
		res.Success = true
	default:
		res.Error = fmt.Sprintf("unknown op %q", op.Op)
	}
	return res
}

func (m *MemStore) SnapshotSince(ctx context.Context, since int64) (map[string][]syncstore.Record, error) {
	snapshot := make(map[string][]syncstore.Record, len(syncstore.Collections))
	for _, collection := range syncstore.Collections {
		recs, err := m.records.Scan(collection, func(r syncstore.Record) bool {
			return r.Timestamp > since
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", collection, err)
		}
		if len(recs) > 0 {
			snapshot[collection] = recs
		}
	}
	return snapshot, nil
}

func (m *MemStore) List(ctx context.Context, collection string, filter map[string]string) ([]syncstore.Record, error) {
	return m.records.Scan(collection, matchesFilter(filter))
}

func (m *MemStore) Create(ctx context.Context, collection string, fields map[string]any) (syncstore.Record, error) {
	if err := syncstore.ValidateCreate(collection, fields); err != nil {
		return syncstore.Record{}, err
	}
	stamped := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		stamped[k] = v
	}
	stamped["source"] = "server"
	return m.records.Put(collection, stamped)
}

func (m *MemStore) Patch(ctx context.Context, collection, id string, fields map[string]any) (syncstore.Record, error) {
	existing, found, err := m.records.Get(collection, id)
	if err != nil {
		return syncstore.Record{}, err
	}
	if !found {
		return syncstore.Record{}, fmt.Errorf("%s %s: %w", syncstore.KindName(collection), id, syncstore.ErrNotFound)
	}
	merged := existing.Clone().Fields
	for k, v := range fields {
		if k == "id" {
			continue // ids are never reassigned
		}
		merged[k] = v
	}
	return m.records.Put(collection, merged)
}

func (m *MemStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	return m.records.Delete(collection, id)
}

func (m *MemStore) Close() error { return nil }

// matchesFilter builds a predicate that keeps records whose fields equal
// every filter value, compared as strings.
func matchesFilter(filter map[string]string) func(syncstore.Record) bool {
	if len(filter) == 0 {
		return nil
	}
	return func(r syncstore.Record) bool {
		for k, want := range filter {
			got, ok := r.Fields[k]
			if !ok || fmt.Sprintf("%v", got) != want {
				return false
			}
		}
		return true
	}
}
