// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NothingADSR123/DisasterManagementDSATM-sub000/syncstore"
)

// LiveEvent is what subscribers receive for every committed mutation:
// `<collection>:created|updated|deleted` plus the affected record.
type LiveEvent struct {
	Event  string           `json:"event"`
	Record syncstore.Record `json:"record"`
}

// LiveHub fans mutation events out to websocket subscribers. A subscriber
// that cannot keep up is dropped rather than allowed to stall the writer.
type LiveHub struct {
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	pingInterval time.Duration
	writeTimeout time.Duration

	mu    sync.Mutex
	conns map[*liveConn]struct{}
}

type liveConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// enqueue hands a message to the writer. Reports false when the connection
// is closed or its buffer is full.
func (c *liveConn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *liveConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
}

// NewLiveHub creates an empty hub.
func NewLiveHub(logger *slog.Logger, metrics *Metrics) *LiveHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveHub{
		logger:       logger,
		metrics:      metrics,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		conns:        make(map[*liveConn]struct{}),
	}
}

// HandleEvents upgrades the request and streams live events until the client
// goes away.
func (h *LiveHub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Live upgrade failed", "error", err)
		return
	}
	conn := &liveConn{ws: ws, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.LiveClients.Inc()
	}

	go h.writePump(conn)
	// Reader only consumes control frames; any read error ends the session.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(conn)
}

// Broadcast delivers an event to every subscriber.
func (h *LiveHub) Broadcast(collection string, action syncstore.Action, rec syncstore.Record) {
	msg, err := json.Marshal(LiveEvent{Event: collection + ":" + string(action), Record: rec})
	if err != nil {
		h.logger.Error("Failed to encode live event", "collection", collection, "error", err)
		return
	}
	h.mu.Lock()
	conns := make([]*liveConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.enqueue(msg) {
			// Slow or gone; drop it so the rest stay live.
			h.drop(c)
		}
	}
}

func (h *LiveHub) writePump(c *liveConn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

func (h *LiveHub) drop(c *liveConn) {
	h.mu.Lock()
	_, tracked := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if !tracked {
		return
	}
	c.close()
	if h.metrics != nil {
		h.metrics.LiveClients.Dec()
	}
}

// Close tears down every subscriber connection.
func (h *LiveHub) Close() {
	h.mu.Lock()
	conns := make([]*liveConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.drop(c)
	}
}
