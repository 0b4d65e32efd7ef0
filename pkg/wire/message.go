package wire

import "encoding/json"

// Message types exchanged over the websocket. Inbound and outbound share the
// INIT_GAME / MOVE / SEED_MOVES / OPPONENT_ID names; direction decides the
// payload shape.
const (
	TypeInitGame    = "INIT_GAME"
	TypeMove        = "MOVE"
	TypeSeedMoves   = "SEED_MOVES"
	TypeTimerUpdate = "TIMER_UPDATE"
	TypeGameOver    = "GAME_OVER"
	TypeOpponentID  = "OPPONENT_ID"
	TypeError       = "ERROR"
)

// Envelope is the outer frame: {type, payload}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. Marshal errors are
// impossible for our payload structs, so they surface as an empty payload.
func NewEnvelope(msgType string, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: msgType}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{Type: msgType}
	}
	return Envelope{Type: msgType, Payload: raw}
}
