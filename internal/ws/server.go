package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/kapu/chess-arena/internal/arena"
	"github.com/kapu/chess-arena/internal/obslog"
)

// Server accepts websocket upgrades and runs one read loop per connection.
type Server struct {
	hub     *Hub
	router  *Router
	games   *arena.Manager
	origins []string
}

func NewServer(hub *Hub, router *Router, games *arena.Manager, allowedOrigins []string) *Server {
	return &Server{hub: hub, router: router, games: games, origins: allowedOrigins}
}

// Handler returns the HTTP mux: /ws upgrades, /healthz answers liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  s.origins,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	id := uuid.NewString()
	conn := newConn(id, c)
	s.hub.add(conn)
	s.games.Register(id)
	obslog.L().Info("ws_connect", zap.String("conn_id", id), zap.String("remote", r.RemoteAddr))

	defer func() {
		s.hub.remove(id)
		s.games.Disconnect(id)
		conn.close(websocket.StatusNormalClosure, "bye")
		obslog.L().Info("ws_disconnect", zap.String("conn_id", id))
	}()

	s.readLoop(r.Context(), conn)
}

// readLoop reads frames until the peer goes away. Frames are read raw so an
// unparsable envelope drops that frame only, not the connection.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			obslog.L().Warn("ws_non_text_frame", zap.String("conn_id", conn.id))
			continue
		}
		s.router.HandleRaw(conn.id, data)
	}
}
