package ws

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/arena"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/pkg/wire"
)

// Router translates inbound wire messages into arena operations. It holds no
// game logic; malformed payloads and unknown types are logged and dropped
// without touching the connection.
type Router struct {
	games *arena.Manager
}

func NewRouter(games *arena.Manager) *Router {
	return &Router{games: games}
}

// HandleRaw decodes one frame and dispatches it.
func (r *Router) HandleRaw(connID string, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		obslog.L().Warn("ws_malformed_frame", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	r.Dispatch(connID, env)
}

// Dispatch routes a decoded envelope. Manager-level rejections are already
// reported to the offending connection, so they only log here.
func (r *Router) Dispatch(connID string, env wire.Envelope) {
	switch env.Type {
	case wire.TypeInitGame:
		var req wire.JoinRequest
		if !r.decode(connID, env, &req) {
			return
		}
		if err := r.games.HandleJoin(connID, req.PlayerID); err != nil {
			obslog.L().Debug("ws_join_rejected", zap.String("conn_id", connID), zap.Error(err))
		}
	case wire.TypeMove:
		var req wire.MoveRequest
		if !r.decode(connID, env, &req) {
			return
		}
		if err := r.games.HandleMove(connID, req.From, req.To); err != nil {
			obslog.L().Debug("ws_move_rejected", zap.String("conn_id", connID), zap.Error(err))
		}
	case wire.TypeSeedMoves:
		var req wire.SeedMovesRequest
		if !r.decode(connID, env, &req) {
			return
		}
		if err := r.games.HandleSeedMoves(connID, req.GameID); err != nil {
			obslog.L().Debug("ws_seed_rejected", zap.String("conn_id", connID), zap.Error(err))
		}
	case wire.TypeOpponentID:
		var req wire.OpponentRequest
		if !r.decode(connID, env, &req) {
			return
		}
		if err := r.games.HandleOpponent(connID, req.GameID, req.PlayerID); err != nil {
			obslog.L().Debug("ws_opponent_rejected", zap.String("conn_id", connID), zap.Error(err))
		}
	default:
		obslog.L().Warn("ws_unknown_message_type", zap.String("conn_id", connID), zap.String("type", env.Type))
	}
}

func (r *Router) decode(connID string, env wire.Envelope, out any) bool {
	if len(env.Payload) == 0 {
		obslog.L().Warn("ws_missing_payload", zap.String("conn_id", connID), zap.String("type", env.Type))
		return false
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		obslog.L().Warn("ws_malformed_payload", zap.String("conn_id", connID), zap.String("type", env.Type), zap.Error(err))
		return false
	}
	return true
}
