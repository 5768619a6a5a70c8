// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOReplayOrder(t *testing.T) {
	q, err := OpenQueue(NewMemBackend())
	require.NoError(t, err)
	q.now = func() int64 { return 5000 } // same-millisecond enqueues

	_, err = q.Enqueue(Mutation{ClientID: "c1", Collection: ColRequests, Op: OpCreate,
		RecordID: "X", Payload: map[string]any{"name": "A"}})
	require.NoError(t, err)
	_, err = q.Enqueue(Mutation{ClientID: "c1", Collection: ColRequests, Op: OpUpdate,
		RecordID: "X", Payload: map[string]any{"name": "A2"}})
	require.NoError(t, err)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	// Create before update, even with identical enqueue timestamps.
	assert.Equal(t, OpCreate, pending[0].Op)
	assert.Equal(t, OpUpdate, pending[1].Op)
}

func TestQueueStatusTransitions(t *testing.T) {
	q, err := OpenQueue(NewMemBackend())
	require.NoError(t, err)

	id1, err := q.Enqueue(Mutation{ClientID: "c1", Collection: ColRequests, Op: OpCreate, Payload: map[string]any{"name": "A"}})
	require.NoError(t, err)
	id2, err := q.Enqueue(Mutation{ClientID: "c1", Collection: ColRequests, Op: OpDelete, RecordID: "gone"})
	require.NoError(t, err)

	require.NoError(t, q.MarkApplied(id1))
	require.NoError(t, q.MarkFailed(id2, "Request not found"))

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := q.list(func(m Mutation) bool { return m.Status == StatusFailed })
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "Request not found", failed[0].Error)
	// Immutable parts survived the status change.
	assert.Equal(t, OpDelete, failed[0].Op)
	assert.Equal(t, "gone", failed[0].RecordID)
}

func TestQueueValidation(t *testing.T) {
	q, err := OpenQueue(NewMemBackend())
	require.NoError(t, err)

	_, err = q.Enqueue(Mutation{Collection: ColRequests, Op: "replace"})
	require.Error(t, err)

	_, err = q.Enqueue(Mutation{Op: OpCreate})
	require.ErrorIs(t, err, ErrValidation)

	_, err = q.Enqueue(Mutation{Collection: ColRequests, Op: OpUpdate})
	require.ErrorIs(t, err, ErrValidation)
}

func TestQueuePrune(t *testing.T) {
	q, err := OpenQueue(NewMemBackend())
	require.NoError(t, err)
	q.now = func() int64 { return 1000 }

	id, err := q.Enqueue(Mutation{ClientID: "c1", Collection: ColRequests, Op: OpCreate, Payload: map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, q.MarkApplied(id))

	// Pending entries are never pruned.
	n, err := q.Prune(2000, StatusPending)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.Prune(2000, StatusApplied)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	backend, err := OpenSQLiteBackend(path)
	require.NoError(t, err)

	q, err := OpenQueue(backend)
	require.NoError(t, err)
	_, err = q.Enqueue(Mutation{ClientID: "c1", Collection: ColShelters, Op: OpCreate,
		Payload: map[string]any{"name": "School", "capacity": float64(50)}})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	backend, err = OpenSQLiteBackend(path)
	require.NoError(t, err)
	defer backend.Close()

	q, err = OpenQueue(backend)
	require.NoError(t, err)
	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ColShelters, pending[0].Collection)
	assert.EqualValues(t, 50, int64Field(pending[0].Payload, "capacity"))

	// The restored sequence counter keeps new entries behind old ones.
	q.now = func() int64 { return pending[0].Timestamp }
	_, err = q.Enqueue(Mutation{ClientID: "c1", Collection: ColShelters, Op: OpUpdate,
		RecordID: "x", Payload: map[string]any{}})
	require.NoError(t, err)
	pending, err = q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, OpCreate, pending[0].Op)
}
