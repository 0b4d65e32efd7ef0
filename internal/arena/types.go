package arena

import (
	"time"

	"github.com/kapu/chess-arena/internal/rules"
)

// Status represents a session lifecycle state.
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
)

// Winner of a finished session.
type Winner string

const (
	WinnerNone  Winner = "none"
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

// Move is one accepted half-turn. Immutable once appended to the log.
type Move struct {
	From  string      `json:"from"`
	To    string      `json:"to"`
	Color rules.Color `json:"color"`
	Seq   int         `json:"seq"`
	SAN   string      `json:"san"`
	UCI   string      `json:"uci"`
}

// Seat binds one side of a session to a connection and a user.
type Seat struct {
	ConnID    string
	UserID    string
	Color     rules.Color
	Remaining int // seconds
}

// Record is the snapshot archived once a session finishes.
type Record struct {
	ID        string      `json:"id"`
	WhiteID   string      `json:"white_id"`
	BlackID   string      `json:"black_id"`
	Moves     []Move      `json:"moves"`
	FEN       string      `json:"fen"`
	Status    Status      `json:"status"`
	Winner    Winner      `json:"winner"`
	Method    string      `json:"method,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	EndedAt   time.Time   `json:"ended_at"`
}

// Errors of the session/registry taxonomy. All are per-request; none ends the
// process.
var (
	ErrInvalidMove  = errf("invalid move")
	ErrNotYourTurn  = errf("not your turn")
	ErrGameOver     = errf("game already over")
	ErrSlotOccupied = errf("session slot already occupied")
	ErrNoSession    = errf("no such session")
	ErrNotInGame    = errf("connection not in a game")
	ErrUnknownConn  = errf("unknown connection")
	ErrQueueBusy    = errf("connection already queued")
	ErrArenaFull    = errf("arena at capacity")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
