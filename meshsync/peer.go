// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package meshsync

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PeerState is the per-connection lifecycle:
// Idle -> SignalSent -> Connected -> Syncing -> Idle | Disconnected.
type PeerState int

const (
	StateIdle PeerState = iota
	StateSignalSent
	StateConnected
	StateSyncing
	StateDisconnected
)

func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSignalSent:
		return "signal-sent"
	case StateConnected:
		return "connected"
	case StateSyncing:
		return "syncing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerInfo is a read-only view of an active peer connection.
type PeerInfo struct {
	ID    string
	State PeerState
}

// peerConn is one direct data channel. Writes are serialized; state changes
// go through setState so liveness checks see a consistent view.
type peerConn struct {
	id string
	ws *websocket.Conn

	mu       sync.Mutex
	state    PeerState
	lastPong time.Time
	closed   bool
}

func newPeerConn(id string, ws *websocket.Conn) *peerConn {
	return &peerConn{id: id, ws: ws, state: StateConnected, lastPong: time.Now()}
}

func (p *peerConn) setState(s PeerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *peerConn) getState() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *peerConn) send(msg *channelMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return websocket.ErrCloseSent
	}
	return p.ws.WriteJSON(msg)
}

func (p *peerConn) markPong() {
	p.mu.Lock()
	p.lastPong = time.Now()
	p.mu.Unlock()
}

func (p *peerConn) pongAge() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastPong)
}

// close tears the channel down exactly once.
func (p *peerConn) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.state = StateDisconnected
	p.mu.Unlock()
	_ = p.ws.Close()
}
