package wshub

import (
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Hub tracks every live connection. The shutdown coordinator polls
// LiveCount while draining and falls back to CloseAll at the timeout.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns: make(map[string]*Conn),
		log:   log,
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Debug("hub_register", zap.String("conn_id", c.ID()), zap.Int("live", n))
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Debug("hub_unregister", zap.String("conn_id", id), zap.Int("live", n))
}

func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// LiveCount reports open connections.
func (h *Hub) LiveCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast queues payload on the named connections and reports how many
// accepted it. Unknown ids are skipped.
func (h *Hub) Broadcast(ids []string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Send(payload) {
			sent++
		}
	}
	return sent
}

// BroadcastAll queues payload on every live connection.
func (h *Hub) BroadcastAll(payload []byte) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Send(payload) {
			sent++
		}
	}
	return sent
}

// CloseAll force-closes every connection and empties the hub.
func (h *Hub) CloseAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range targets {
		c.Close(code, reason)
	}
	if len(targets) > 0 {
		h.log.Info("hub_close_all", zap.Int("closed", len(targets)))
	}
}
