// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

// Package meshsync exchanges collection contents directly between peers when
// no server is reachable: a signaling relay hands out peer identities and
// forwards connection offers; accepted offers open a direct websocket
// channel over which peers stream bounded batches through the same merge
// engine the server path uses. Redundant delivery is safe because merging is
// idempotent.
package meshsync

import (
	"encoding/json"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Signaling message types, relayed opaquely between peer identifiers.
const (
	MsgID             = "id"              // relay -> client: your assigned peerId
	MsgPeerDiscovered = "peer-discovered" // relay -> client: a peer joined
	MsgPeerGone       = "peer-gone"       // relay -> client: a peer left
	MsgSignal         = "signal"          // client -> relay -> client: offer/answer payload
	MsgBroadcast      = "broadcast"       // client -> relay -> all: store event fan-out
)

// SignalMessage is the envelope carried over the signaling relay.
type SignalMessage struct {
	Type   string          `json:"type"`
	PeerID string          `json:"peerId,omitempty"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`

	// Broadcast payload: the same (collection, action, record) triple the
	// in-process bus carries.
	Action     syncstore.Action  `json:"action,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Record     *syncstore.Record `json:"record,omitempty"`
}

// signalPayload is the offer/answer body exchanged while opening a channel.
type signalPayload struct {
	Kind    string `json:"kind"` // "offer" or "answer"
	Addr    string `json:"addr,omitempty"`
	Session string `json:"session"`
}

// Peer channel message types.
const (
	chanBatch = "batch"
	chanPing  = "ping"
	chanPong  = "pong"
)

// channelMessage is a frame on a direct peer data channel.
type channelMessage struct {
	Type       string             `json:"type"`
	Collection string             `json:"collection,omitempty"`
	Records    []syncstore.Record `json:"records,omitempty"`
}
