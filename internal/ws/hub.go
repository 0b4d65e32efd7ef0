package ws

import (
	"sync"

	"github.com/kapu/chess-arena/pkg/wire"
)

// ErrConnGone reports a send to a connection that already left the hub. The
// arena swallows it; a dropped peer never stalls its session.
var ErrConnGone = connGoneError{}

type connGoneError struct{}

func (connGoneError) Error() string { return "connection gone" }

// Hub tracks live connections and implements the arena's Sender port.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Send delivers one envelope to a connection by id.
func (h *Hub) Send(connID string, env wire.Envelope) error {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return ErrConnGone
	}
	return c.Send(env)
}

// Len reports how many connections are live.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
