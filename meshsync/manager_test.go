// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package meshsync

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

type meshRig struct {
	relay   *Relay
	server  *httptest.Server
	wsURL   string
	members []*Manager
}

func newMeshRig(t *testing.T) *meshRig {
	t.Helper()
	relay := NewRelay(slog.Default())
	server := httptest.NewServer(relay)
	rig := &meshRig{
		relay:  relay,
		server: server,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
	}
	t.Cleanup(func() {
		for _, m := range rig.members {
			m.Close()
		}
		relay.Close()
		server.Close()
	})
	return rig
}

func (r *meshRig) join(t *testing.T, store *syncstore.Store) *Manager {
	t.Helper()
	cfg := DefaultConfig(r.wsURL)
	cfg.BatchPause = time.Millisecond
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 500 * time.Millisecond
	cfg.OfferTTL = 200 * time.Millisecond
	m := NewManager(store, nil, cfg, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	r.members = append(r.members, m)
	return m
}

func newMeshStore(t *testing.T) *syncstore.Store {
	t.Helper()
	return syncstore.NewStore(syncstore.NewMemBackend(), slog.Default())
}

func putRecord(t *testing.T, store *syncstore.Store, collection string, fields map[string]any) syncstore.Record {
	t.Helper()
	rec, err := store.Put(collection, fields)
	require.NoError(t, err)
	return rec
}

func hasRecord(store *syncstore.Store, collection, id string) bool {
	_, found, err := store.Get(collection, id)
	return err == nil && found
}

func TestMeshPeersDiscoverEachOther(t *testing.T) {
	rig := newMeshRig(t)
	a := rig.join(t, newMeshStore(t))
	b := rig.join(t, newMeshStore(t))

	require.NotEmpty(t, a.PeerID())
	require.NotEmpty(t, b.PeerID())
	require.NotEqual(t, a.PeerID(), b.PeerID())

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond, "peers should open exactly one channel")

	assert.Equal(t, b.PeerID(), a.Peers()[0].ID)
	assert.Equal(t, a.PeerID(), b.Peers()[0].ID)
}

func TestMeshExchangeConvergesBothDirections(t *testing.T) {
	rig := newMeshRig(t)
	storeA := newMeshStore(t)
	storeB := newMeshStore(t)

	fromA := putRecord(t, storeA, syncstore.ColRequests, map[string]any{
		"name": "Asha", "location": "Sector 4", "description": "water",
	})
	fromB := putRecord(t, storeB, syncstore.ColShelters, map[string]any{
		"name": "Town Hall", "location": "Main St", "capacity": 120,
	})

	a := rig.join(t, storeA)
	rig.join(t, storeB)

	// The initial exchange on connect streams every collection both ways.
	require.Eventually(t, func() bool {
		return hasRecord(storeB, syncstore.ColRequests, fromA.ID) &&
			hasRecord(storeA, syncstore.ColShelters, fromB.ID)
	}, 5*time.Second, 10*time.Millisecond)

	got, found, err := storeB.Get(syncstore.ColRequests, fromA.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fromA.Hash, got.Hash)
	assert.Equal(t, fromA.Timestamp, got.Timestamp)

	// Changes after connect travel on demand.
	updated, err := storeA.Put(syncstore.ColRequests, map[string]any{
		"id": fromA.ID, "name": "Asha", "location": "Sector 4", "description": "water and blankets",
	})
	require.NoError(t, err)
	a.SyncNow()
	require.Eventually(t, func() bool {
		got, found, err := storeB.Get(syncstore.ColRequests, fromA.ID)
		return err == nil && found && got.Hash == updated.Hash
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMeshExchangeIsIdempotent(t *testing.T) {
	rig := newMeshRig(t)
	storeA := newMeshStore(t)
	storeB := newMeshStore(t)

	rec := putRecord(t, storeA, syncstore.ColVolunteers, map[string]any{
		"name": "Ravi", "contact": "ravi@example.org",
	})

	a := rig.join(t, storeA)
	rig.join(t, storeB)

	require.Eventually(t, func() bool {
		return hasRecord(storeB, syncstore.ColVolunteers, rec.ID)
	}, 5*time.Second, 10*time.Millisecond)
	before, _, err := storeB.Get(syncstore.ColVolunteers, rec.ID)
	require.NoError(t, err)

	// Re-streaming the same records must not change anything.
	a.SyncNow()
	time.Sleep(200 * time.Millisecond)
	after, _, err := storeB.Get(syncstore.ColVolunteers, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Hash, after.Hash)
	assert.Equal(t, before.Timestamp, after.Timestamp)
}

func TestMeshBroadcastAppliesOnOtherPeers(t *testing.T) {
	rig := newMeshRig(t)
	storeA := newMeshStore(t)
	storeB := newMeshStore(t)

	a := rig.join(t, storeA)
	rig.join(t, storeB)

	rec := putRecord(t, storeA, syncstore.ColRequests, map[string]any{
		"name": "Mina", "location": "Dock 2", "description": "shelter",
	})
	require.NoError(t, a.Broadcast(syncstore.ColRequests, syncstore.ActionCreated, rec))

	require.Eventually(t, func() bool {
		return hasRecord(storeB, syncstore.ColRequests, rec.ID)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMeshDeletePropagatesToPeers(t *testing.T) {
	rig := newMeshRig(t)
	storeA := newMeshStore(t)
	storeB := newMeshStore(t)

	rec := putRecord(t, storeA, syncstore.ColRequests, map[string]any{
		"name": "Sami", "location": "Pier 9", "description": "evacuation boat",
	})

	rig.join(t, storeA)
	rig.join(t, storeB)
	require.Eventually(t, func() bool {
		return hasRecord(storeB, syncstore.ColRequests, rec.ID)
	}, 5*time.Second, 10*time.Millisecond)

	// A local delete must reach mesh peers without a server in the loop.
	found, err := storeA.Delete(syncstore.ColRequests, rec.ID)
	require.NoError(t, err)
	require.True(t, found)

	require.Eventually(t, func() bool {
		return !hasRecord(storeB, syncstore.ColRequests, rec.ID)
	}, 5*time.Second, 10*time.Millisecond)

	// The receiving side must not echo the delete back and resurrect state.
	time.Sleep(100 * time.Millisecond)
	assert.False(t, hasRecord(storeA, syncstore.ColRequests, rec.ID))
	assert.False(t, hasRecord(storeB, syncstore.ColRequests, rec.ID))
}

func TestMeshUnansweredOfferExpires(t *testing.T) {
	rig := newMeshRig(t)
	m := rig.join(t, newMeshStore(t))

	m.sendOffer("no-such-peer")
	peers := m.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, StateSignalSent, peers[0].State)

	require.Eventually(t, func() bool {
		return len(m.Peers()) == 0
	}, 5*time.Second, 10*time.Millisecond, "an unanswered offer should not linger")
}

func TestMeshSilentPeerIsTornDown(t *testing.T) {
	rig := newMeshRig(t)
	m := rig.join(t, newMeshStore(t))

	// A channel endpoint that reads but never answers pings.
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer silent.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(silent.URL, "http"), nil)
	require.NoError(t, err)
	m.addPeer("silent-peer", ws)
	require.Len(t, m.Peers(), 1)

	require.Eventually(t, func() bool {
		return len(m.Peers()) == 0
	}, 5*time.Second, 10*time.Millisecond, "missed pongs should disconnect the peer")
}

func TestMeshTeardownLeavesOtherPeersConnected(t *testing.T) {
	rig := newMeshRig(t)
	a := rig.join(t, newMeshStore(t))
	b := rig.join(t, newMeshStore(t))
	c := rig.join(t, newMeshStore(t))

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 2 && len(b.Peers()) == 2 && len(c.Peers()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, b.PeerID(), a.Peers()[0].ID)
}
