// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package meshsync

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Relay is the signaling rendezvous: it assigns peer identities, announces
// arrivals and departures, and forwards signal/broadcast messages between
// peers. It never inspects signal payloads.
type Relay struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*relayPeer
}

type relayPeer struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

func (p *relayPeer) send(msg *SignalMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteJSON(msg)
}

// NewRelay creates an empty relay.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		peers:    make(map[string]*relayPeer),
	}
}

// ServeHTTP upgrades a peer connection and relays its messages until it
// disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("Relay upgrade failed", "error", err)
		return
	}
	peer := &relayPeer{id: uuid.NewString(), ws: ws}

	if err := peer.send(&SignalMessage{Type: MsgID, PeerID: peer.id}); err != nil {
		_ = ws.Close()
		return
	}

	// Tell the newcomer about everyone, and everyone about the newcomer.
	r.mu.Lock()
	others := make([]*relayPeer, 0, len(r.peers))
	for _, p := range r.peers {
		others = append(others, p)
	}
	r.peers[peer.id] = peer
	r.mu.Unlock()
	for _, p := range others {
		_ = peer.send(&SignalMessage{Type: MsgPeerDiscovered, PeerID: p.id})
		_ = p.send(&SignalMessage{Type: MsgPeerDiscovered, PeerID: peer.id})
	}
	r.logger.Debug("Peer joined relay", "peer_id", peer.id, "peers", len(others)+1)

	for {
		var msg SignalMessage
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		msg.PeerID = peer.id // sender identity is relay-assigned, not claimed
		switch msg.Type {
		case MsgSignal:
			r.forward(&msg)
		case MsgBroadcast:
			r.fanOut(peer.id, &msg)
		default:
			r.logger.Debug("Dropping unknown relay message", "type", msg.Type, "peer_id", peer.id)
		}
	}
	r.remove(peer)
}

func (r *Relay) forward(msg *SignalMessage) {
	r.mu.Lock()
	target := r.peers[msg.To]
	r.mu.Unlock()
	if target == nil {
		r.logger.Debug("Signal for unknown peer", "to", msg.To, "from", msg.PeerID)
		return
	}
	if err := target.send(msg); err != nil {
		r.logger.Debug("Signal forward failed", "to", msg.To, "error", err)
	}
}

func (r *Relay) fanOut(from string, msg *SignalMessage) {
	r.mu.Lock()
	targets := make([]*relayPeer, 0, len(r.peers))
	for id, p := range r.peers {
		if id != from {
			targets = append(targets, p)
		}
	}
	r.mu.Unlock()
	for _, p := range targets {
		_ = p.send(msg)
	}
}

func (r *Relay) remove(peer *relayPeer) {
	r.mu.Lock()
	delete(r.peers, peer.id)
	remaining := make([]*relayPeer, 0, len(r.peers))
	for _, p := range r.peers {
		remaining = append(remaining, p)
	}
	r.mu.Unlock()
	_ = peer.ws.Close()
	for _, p := range remaining {
		_ = p.send(&SignalMessage{Type: MsgPeerGone, PeerID: peer.id})
	}
	r.logger.Debug("Peer left relay", "peer_id", peer.id)
}

// Close disconnects every peer.
func (r *Relay) Close() {
	r.mu.Lock()
	peers := make([]*relayPeer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[string]*relayPeer)
	r.mu.Unlock()
	for _, p := range peers {
		_ = p.ws.Close()
	}
}
