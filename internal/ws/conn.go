package ws

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/chess-arena/pkg/wire"
)

// Conn wraps one accepted websocket. Writes serialize on the connection's own
// mutex with a bounded deadline, so a stuck peer can never stall a session's
// broadcast path.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{id: id, ws: ws, writeTimeout: 5 * time.Second}
}

// ID returns the generated connection id.
func (c *Conn) ID() string { return c.id }

// Send writes one envelope to the peer.
func (c *Conn) Send(env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, env)
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	_ = c.ws.Close(code, reason)
}
