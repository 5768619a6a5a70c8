// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncserver"
	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

type testRig struct {
	client *Client
	store  *syncstore.Store
	queue  *syncstore.Queue
	server *httptest.Server
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	svc := syncserver.NewService(syncserver.NewMemStore(nil), nil, nil, nil)
	mux := http.NewServeMux()
	syncserver.NewHTTPHandlers(svc, nil).Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	backend := syncstore.NewMemBackend()
	store := syncstore.NewStore(backend, nil)
	queue, err := syncstore.OpenQueue(backend)
	require.NoError(t, err)
	client, err := NewClient(store, queue, backend, ts.URL, nil, nil)
	require.NoError(t, err)
	return &testRig{client: client, store: store, queue: queue, server: ts}
}

func TestScenarioOfflineCreateThenSync(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rec, err := rig.client.CreateLocal(syncstore.ColRequests,
		map[string]any{"name": "A", "location": "L", "description": "D"})
	require.NoError(t, err)

	pendingBefore, err := rig.client.PendingCount()
	require.NoError(t, err)
	require.Equal(t, 1, pendingBefore)
	require.Zero(t, rig.client.LastSyncAt())

	summary, err := rig.client.SyncRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Zero(t, summary.Failed)

	pendingAfter, err := rig.client.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, pendingAfter)
	assert.Equal(t, summary.ServerTime, rig.client.LastSyncAt(), "watermark advances to serverTime")

	// The canonical server record replaced the local draft via merge.
	got, found, err := rig.store.Get(syncstore.ColRequests, rec.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "server", got.Fields["source"])
}

func TestSyncRoundMarksFailuresAndContinues(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// An update for an id the server never saw, then a valid create.
	_, err := rig.queue.Enqueue(syncstore.Mutation{
		ClientID: rig.client.ClientID, Collection: syncstore.ColRequests,
		Op: syncstore.OpUpdate, RecordID: "ghost", Payload: map[string]any{"status": "x"},
	})
	require.NoError(t, err)
	_, err = rig.client.CreateLocal(syncstore.ColRequests,
		map[string]any{"name": "B", "location": "L", "description": "D"})
	require.NoError(t, err)

	summary, err := rig.client.SyncRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Failed)

	pending, err := rig.queue.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "failed entries leave the pending set")
}

func TestNetworkFailureLeavesQueueAndWatermarkIntact(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.client.CreateLocal(syncstore.ColRequests,
		map[string]any{"name": "A", "location": "L", "description": "D"})
	require.NoError(t, err)

	rig.server.Close()
	_, err = rig.client.SyncRound(ctx)
	require.Error(t, err)
	assert.True(t, syncstore.IsTransient(err), "network failure is retryable")

	pending, perr := rig.client.PendingCount()
	require.NoError(t, perr)
	assert.Equal(t, 1, pending, "queue entries stay pending")
	assert.Zero(t, rig.client.LastSyncAt(), "watermark unchanged")
}

func TestSnapshotOnlyBringsRecordsPastWatermark(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Seed the server directly with one record.
	resp, err := http.Post(rig.server.URL+"/requests", "application/json",
		jsonBody(t, map[string]any{"name": "remote", "location": "L", "description": "D"}))
	require.NoError(t, err)
	resp.Body.Close()

	summary, err := rig.client.SyncRound(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.SnapshotRecords)

	// The next round has nothing new.
	summary, err = rig.client.SyncRound(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.SnapshotRecords)
}

func TestFIFOReplayCreateThenUpdate(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rec, err := rig.client.CreateLocal(syncstore.ColRequests,
		map[string]any{"name": "A", "location": "L", "description": "D"})
	require.NoError(t, err)
	_, err = rig.client.UpdateLocal(syncstore.ColRequests, rec.ID, map[string]any{"status": "resolved"})
	require.NoError(t, err)

	summary, err := rig.client.SyncRound(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Applied)

	// Server state carries the updated fields, not the create-only draft.
	listResp, err := http.Get(rig.server.URL + "/requests?status=resolved")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var recs []syncstore.Record
	require.NoError(t, jsonDecode(listResp.Body, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestClientIDPersistsAcrossRestarts(t *testing.T) {
	backend := syncstore.NewMemBackend()
	store := syncstore.NewStore(backend, nil)
	queue, err := syncstore.OpenQueue(backend)
	require.NoError(t, err)

	c1, err := NewClient(store, queue, backend, "http://unused", nil, nil)
	require.NoError(t, err)
	c2, err := NewClient(store, queue, backend, "http://unused", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, c1.ClientID, c2.ClientID)
}
