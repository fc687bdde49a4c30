// Package wsrelay fans a scan session's progress channel out to one or more
// websocket connections, generalized from the teacher's
// ActiveScan.Clients/ClientsMu map in proxy-server/scan.go.
package wsrelay

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// NewUpgrader builds a websocket upgrader whose CheckOrigin is wired to the
// connector's own origin allowlist, so a websocket upgrade is gated the same
// way as any other connector endpoint.
func NewUpgrader(checkOrigin func(r *http.Request) bool) websocket.Upgrader {
	return websocket.Upgrader{CheckOrigin: checkOrigin}
}

// Hub relays one session's progress events to every connection currently
// attached to it. Multiple tabs may watch the same session; each gets every
// event.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	log     *zap.Logger
}

// NewHub creates an empty relay hub for one session.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[*websocket.Conn]bool), log: log}
}

// Attach registers conn to receive future Broadcast calls.
func (h *Hub) Attach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

// Detach removes conn; it no longer receives events.
func (h *Hub) Detach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// Broadcast writes event as JSON to every attached connection, dropping
// (and detaching) any connection whose write fails.
func (h *Hub) Broadcast(event interface{}) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			h.log.Warn("dropping websocket client after write error", zap.Error(err))
			h.Detach(c)
			c.Close()
		}
	}
}

// CloseAll closes and detaches every connection currently attached to the
// hub. Called once the session's progress channel has been fully drained.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}
