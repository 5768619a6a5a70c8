// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package meshsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// Config holds mesh tuning.
type Config struct {
	RelayURL     string        // websocket URL of the signaling relay
	ListenAddr   string        // address of the local peer-channel listener
	Collections  []string      // collections offered in exchanges
	BatchSize    int           // records per batch; small, to avoid saturating the channel
	BatchPause   time.Duration // pause between batches
	PingInterval time.Duration
	PongTimeout  time.Duration // missing pong for this long means the peer is gone
	DialTimeout  time.Duration
	OfferTTL     time.Duration // unanswered offers are forgotten after this
}

// DefaultConfig returns mesh defaults for the given relay.
func DefaultConfig(relayURL string) *Config {
	return &Config{
		RelayURL:     relayURL,
		ListenAddr:   "127.0.0.1:0",
		Collections:  syncstore.Collections,
		BatchSize:    10,
		BatchPause:   25 * time.Millisecond,
		PingInterval: 5 * time.Second,
		PongTimeout:  15 * time.Second,
		DialTimeout:  10 * time.Second,
		OfferTTL:     30 * time.Second,
	}
}

// Manager owns this process's mesh presence: the relay connection, the local
// peer-channel listener and the set of active peer channels. Lifecycle is
// explicit: Start opens everything, Close releases it.
type Manager struct {
	store  *syncstore.Store
	bus    syncstore.Broadcaster
	config *Config
	logger *slog.Logger

	relayWS *websocket.Conn
	relayMu sync.Mutex // serializes relay writes

	listener net.Listener
	httpSrv  *http.Server

	mu       sync.Mutex
	peerID   string
	peers    map[string]*peerConn
	offers   map[string]string // peer id -> session while SignalSent
	sessions map[string]string // session -> expected peer id
	applying map[string]int    // collection/id currently being applied from the mesh
	closed   bool

	watchStops []func()
	idReady    chan struct{}
}

// NewManager creates a mesh manager over the local store. bus may be nil;
// when set, records applied from peer batches are re-broadcast on it so
// co-located contexts converge without another server hop.
func NewManager(store *syncstore.Store, bus syncstore.Broadcaster, config *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		bus:      bus,
		config:   config,
		logger:   logger,
		peers:    make(map[string]*peerConn),
		offers:   make(map[string]string),
		sessions: make(map[string]string),
		applying: make(map[string]int),
		idReady:  make(chan struct{}),
	}
}

// Start opens the peer-channel listener, registers with the signaling relay
// and blocks until the relay assigns this process its peer identifier.
func (m *Manager) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("mesh listener: %w", err)
	}
	m.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /peer", m.handleAccept)
	m.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := m.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Peer listener failed", "error", err)
		}
	}()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, m.config.RelayURL, nil)
	if err != nil {
		_ = m.closeListener()
		return &syncstore.TransientError{Err: fmt.Errorf("relay dial: %w", err)}
	}
	m.relayWS = ws
	go m.relayLoop()

	select {
	case <-m.idReady:
	case <-ctx.Done():
		m.Close()
		return ctx.Err()
	}

	// Collection batches carry upserts only; deletes reach mesh peers as
	// relay broadcasts, forwarded here from committed local deletes.
	for _, collection := range m.config.Collections {
		col := collection
		stop := m.store.Watch(col, func(_ string, action syncstore.Action, rec syncstore.Record) {
			if action != syncstore.ActionDeleted || m.appliedFromMesh(col, rec.ID) {
				return
			}
			if err := m.Broadcast(col, action, rec); err != nil {
				m.logger.Debug("Delete broadcast failed", "collection", col, "id", rec.ID, "error", err)
			}
		})
		m.watchStops = append(m.watchStops, stop)
	}
	return nil
}

func (m *Manager) beginMeshApply(collection, id string) {
	m.mu.Lock()
	m.applying[collection+"/"+id]++
	m.mu.Unlock()
}

func (m *Manager) endMeshApply(collection, id string) {
	m.mu.Lock()
	key := collection + "/" + id
	m.applying[key]--
	if m.applying[key] <= 0 {
		delete(m.applying, key)
	}
	m.mu.Unlock()
}

// appliedFromMesh reports whether a store event for the pair is the echo of
// a record this manager is currently applying from the mesh. Watchers run
// synchronously inside the apply, so the window is exact.
func (m *Manager) appliedFromMesh(collection, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applying[collection+"/"+id] > 0
}

// PeerID returns the relay-assigned identifier (empty before Start).
func (m *Manager) PeerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peerID
}

// Peers lists active and in-flight peer connections.
func (m *Manager) Peers() []PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerInfo, 0, len(m.peers)+len(m.offers))
	for id := range m.offers {
		out = append(out, PeerInfo{ID: id, State: StateSignalSent})
	}
	for id, pc := range m.peers {
		out = append(out, PeerInfo{ID: id, State: pc.getState()})
	}
	return out
}

func (m *Manager) relayLoop() {
	for {
		var msg SignalMessage
		if err := m.relayWS.ReadJSON(&msg); err != nil {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if !closed {
				m.logger.Debug("Relay connection lost", "error", err)
			}
			return
		}
		m.handleRelayMessage(&msg)
	}
}

func (m *Manager) handleRelayMessage(msg *SignalMessage) {
	switch msg.Type {
	case MsgID:
		m.mu.Lock()
		first := m.peerID == ""
		m.peerID = msg.PeerID
		m.mu.Unlock()
		if first {
			close(m.idReady)
		}
	case MsgPeerDiscovered:
		// Both sides learn about each other; the smaller id offers, so the
		// pair never opens two channels.
		if m.PeerID() < msg.PeerID {
			m.sendOffer(msg.PeerID)
		}
	case MsgPeerGone:
		// Channel liveness handles the actual teardown.
	case MsgSignal:
		m.handleSignal(msg)
	case MsgBroadcast:
		if msg.Record != nil {
			m.beginMeshApply(msg.Collection, msg.Record.ID)
			m.store.ApplyRemote(syncstore.Event{
				Collection: msg.Collection,
				Action:     msg.Action,
				Record:     *msg.Record,
				Origin:     msg.PeerID,
			})
			m.endMeshApply(msg.Collection, msg.Record.ID)
			if m.bus != nil {
				// Forward to co-located contexts; the store's own origin
				// keeps it from applying the event twice.
				m.bus.Publish(syncstore.Event{
					Collection: msg.Collection,
					Action:     msg.Action,
					Record:     *msg.Record,
					Origin:     m.store.Origin(),
				})
			}
		}
	}
}

func (m *Manager) sendOffer(to string) {
	session := uuid.NewString()
	payload, err := json.Marshal(signalPayload{Kind: "offer", Addr: m.channelAddr(), Session: session})
	if err != nil {
		return
	}
	m.mu.Lock()
	m.offers[to] = session
	m.sessions[session] = to
	m.mu.Unlock()
	if err := m.sendRelay(&SignalMessage{Type: MsgSignal, To: to, Signal: payload}); err != nil {
		m.logger.Debug("Offer send failed", "to", to, "error", err)
		m.expireOffer(to, session)
		return
	}
	// The peer may vanish before answering or dialing back; forget the
	// offer after a bounded window so Peers() does not report it forever.
	time.AfterFunc(m.config.OfferTTL, func() { m.expireOffer(to, session) })
}

func (m *Manager) expireOffer(to, session string) {
	m.mu.Lock()
	if m.offers[to] != session {
		m.mu.Unlock()
		return
	}
	delete(m.offers, to)
	delete(m.sessions, session)
	m.mu.Unlock()
	m.logger.Debug("Offer expired unanswered", "to", to)
}

func (m *Manager) handleSignal(msg *SignalMessage) {
	var payload signalPayload
	if err := json.Unmarshal(msg.Signal, &payload); err != nil {
		m.logger.Debug("Bad signal payload", "from", msg.PeerID, "error", err)
		return
	}
	switch payload.Kind {
	case "offer":
		// Acknowledge, then dial the offerer's advertised channel address.
		answer, err := json.Marshal(signalPayload{Kind: "answer", Session: payload.Session})
		if err != nil {
			return
		}
		_ = m.sendRelay(&SignalMessage{Type: MsgSignal, To: msg.PeerID, Signal: answer})
		go m.dialPeer(msg.PeerID, payload)
	case "answer":
		// The channel opens when the answering side dials in.
	}
}

func (m *Manager) dialPeer(peerID string, offer signalPayload) {
	url := fmt.Sprintf("%s?session=%s&peer=%s", offer.Addr, offer.Session, m.PeerID())
	dialer := websocket.Dialer{HandshakeTimeout: m.config.DialTimeout}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		m.logger.Debug("Peer dial failed", "peer_id", peerID, "error", err)
		return
	}
	m.addPeer(peerID, ws)
}

func (m *Manager) handleAccept(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	peerID := r.URL.Query().Get("peer")
	m.mu.Lock()
	expected, ok := m.sessions[session]
	if ok {
		delete(m.sessions, session)
		delete(m.offers, expected)
	}
	m.mu.Unlock()
	if !ok || expected != peerID {
		http.Error(w, "unknown session", http.StatusForbidden)
		return
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.addPeer(peerID, ws)
}

func (m *Manager) addPeer(peerID string, ws *websocket.Conn) {
	pc := newPeerConn(peerID, ws)
	m.mu.Lock()
	if old := m.peers[peerID]; old != nil {
		old.close()
	}
	m.peers[peerID] = pc
	m.mu.Unlock()
	m.logger.Debug("Peer channel open", "peer_id", peerID)

	go m.readLoop(pc)
	go m.pingLoop(pc)
	go m.streamCollections(pc) // initial exchange on connect
}

func (m *Manager) readLoop(pc *peerConn) {
	for {
		var msg channelMessage
		if err := pc.ws.ReadJSON(&msg); err != nil {
			m.teardown(pc)
			return
		}
		switch msg.Type {
		case chanBatch:
			m.applyBatch(msg.Collection, msg.Records)
		case chanPing:
			if err := pc.send(&channelMessage{Type: chanPong}); err != nil {
				m.teardown(pc)
				return
			}
		case chanPong:
			pc.markPong()
		}
	}
}

// applyBatch feeds every received record through the merge engine and
// re-broadcasts applied changes locally so co-located contexts converge
// without another hop.
func (m *Manager) applyBatch(collection string, records []syncstore.Record) {
	if !m.collectionAllowed(collection) {
		return
	}
	for _, rec := range records {
		res, err := m.store.Merge(collection, rec)
		if err != nil {
			m.logger.Error("Peer batch merge failed", "collection", collection, "id", rec.ID, "error", err)
			continue
		}
		if res == syncstore.MergeApplied && m.bus != nil {
			m.bus.Publish(syncstore.Event{
				Collection: collection,
				Action:     syncstore.ActionUpdated,
				Record:     rec,
				Origin:     m.store.Origin(),
			})
		}
	}
}

func (m *Manager) collectionAllowed(collection string) bool {
	for _, c := range m.config.Collections {
		if c == collection {
			return true
		}
	}
	return false
}

func (m *Manager) pingLoop(pc *peerConn) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if pc.getState() == StateDisconnected {
			return
		}
		if pc.pongAge() > m.config.PongTimeout {
			m.logger.Debug("Peer missed pong window", "peer_id", pc.id)
			m.teardown(pc)
			return
		}
		if err := pc.send(&channelMessage{Type: chanPing}); err != nil {
			m.teardown(pc)
			return
		}
	}
}

// streamCollections sends the configured collections to one peer as bounded
// batches with a short pause in between. The receiving merge engine makes
// redundant records a no-op, so re-streaming is always safe.
func (m *Manager) streamCollections(pc *peerConn) {
	pc.setState(StateSyncing)
	defer func() {
		if pc.getState() == StateSyncing {
			pc.setState(StateConnected)
		}
	}()
	for _, collection := range m.config.Collections {
		recs, err := m.store.Scan(collection, nil)
		if err != nil {
			m.logger.Error("Peer stream scan failed", "collection", collection, "error", err)
			return
		}
		for start := 0; start < len(recs); start += m.config.BatchSize {
			end := start + m.config.BatchSize
			if end > len(recs) {
				end = len(recs)
			}
			if err := pc.send(&channelMessage{Type: chanBatch, Collection: collection, Records: recs[start:end]}); err != nil {
				m.teardown(pc)
				return
			}
			time.Sleep(m.config.BatchPause)
		}
	}
}

// SyncNow re-streams the configured collections to every connected peer.
func (m *Manager) SyncNow() {
	m.mu.Lock()
	peers := make([]*peerConn, 0, len(m.peers))
	for _, pc := range m.peers {
		peers = append(peers, pc)
	}
	m.mu.Unlock()
	for _, pc := range peers {
		go m.streamCollections(pc)
	}
}

// Broadcast publishes a store event to every mesh participant via the relay.
func (m *Manager) Broadcast(collection string, action syncstore.Action, rec syncstore.Record) error {
	return m.sendRelay(&SignalMessage{
		Type:       MsgBroadcast,
		Collection: collection,
		Action:     action,
		Record:     &rec,
	})
}

func (m *Manager) channelAddr() string {
	return fmt.Sprintf("ws://%s/peer", m.listener.Addr().String())
}

func (m *Manager) sendRelay(msg *SignalMessage) error {
	m.relayMu.Lock()
	defer m.relayMu.Unlock()
	if m.relayWS == nil {
		return fmt.Errorf("relay not connected")
	}
	return m.relayWS.WriteJSON(msg)
}

// teardown releases one peer channel; other peers are unaffected.
func (m *Manager) teardown(pc *peerConn) {
	pc.close()
	m.mu.Lock()
	if m.peers[pc.id] == pc {
		delete(m.peers, pc.id)
	}
	m.mu.Unlock()
	m.logger.Debug("Peer channel closed", "peer_id", pc.id)
}

func (m *Manager) closeListener() error {
	if m.httpSrv != nil {
		_ = m.httpSrv.Close()
	}
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// Close releases the relay connection, the listener and every peer channel.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	peers := make([]*peerConn, 0, len(m.peers))
	for _, pc := range m.peers {
		peers = append(peers, pc)
	}
	m.peers = make(map[string]*peerConn)
	stops := m.watchStops
	m.watchStops = nil
	m.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for _, pc := range peers {
		pc.close()
	}
	m.relayMu.Lock()
	if m.relayWS != nil {
		_ = m.relayWS.Close()
	}
	m.relayMu.Unlock()
	_ = m.closeListener()
}
