package arena

import (
	"errors"
	"sync"
	"time"

	"github.com/kapu/chess-arena/internal/rules"
)

// Session is the state machine for one game. Both seats are filled at
// construction, so WAITING exists only for the instant before the synchronous
// transition to ACTIVE. Every mutation (move, tick, rebind) serializes on the
// session's own mutex; sessions never share a lock.
type Session struct {
	ID string

	mu        sync.Mutex
	white     Seat
	black     Seat
	moves     []Move
	pos       *rules.Position
	status    Status
	winner    Winner
	method    string
	createdAt time.Time
	endedAt   time.Time
}

// MoveResult reports an accepted move and whether it ended the game.
type MoveResult struct {
	Move     Move
	Finished bool
	Winner   Winner
}

// TickResult reports clock state after one scheduler tick.
type TickResult struct {
	Active     bool
	WhiteTimer int
	BlackTimer int
	Finished   bool
	Winner     Winner
}

// NewSession pairs two connections into an active game. The first (earliest
// waiting) connection plays white.
func NewSession(id, whiteConn, whiteUser, blackConn, blackUser string, clockSec int) *Session {
	s := &Session{
		ID:        id,
		white:     Seat{ConnID: whiteConn, UserID: whiteUser, Color: rules.White, Remaining: clockSec},
		black:     Seat{ConnID: blackConn, UserID: blackUser, Color: rules.Black, Remaining: clockSec},
		pos:       rules.NewPosition(),
		status:    StatusWaiting,
		winner:    WinnerNone,
		createdAt: time.Now(),
	}
	s.status = StatusActive
	return s
}

// turnColor derives whose turn it is from move-log parity: white moves on
// even half-turn indexes.
func (s *Session) turnColor() rules.Color {
	if len(s.moves)%2 == 0 {
		return rules.White
	}
	return rules.Black
}

func (s *Session) seatByConn(connID string) *Seat {
	if s.white.ConnID == connID {
		return &s.white
	}
	if s.black.ConnID == connID {
		return &s.black
	}
	return nil
}

// ApplyMove validates and applies a move from the given connection.
// Rejections leave the session untouched and are reported to the mover only;
// the caller broadcasts accepted moves to both seats.
func (s *Session) ApplyMove(connID, from, to string) (MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusFinished {
		return MoveResult{}, ErrGameOver
	}
	seat := s.seatByConn(connID)
	if seat == nil {
		return MoveResult{}, ErrNotInGame
	}
	if seat.Color != s.turnColor() {
		return MoveResult{}, ErrNotYourTurn
	}

	san, uci, err := s.pos.Apply(from, to)
	if err != nil {
		var illegal rules.ErrIllegalMove
		if errors.As(err, &illegal) {
			return MoveResult{}, ErrInvalidMove
		}
		return MoveResult{}, err
	}

	mv := Move{
		From:  from,
		To:    to,
		Color: seat.Color,
		Seq:   len(s.moves),
		SAN:   san,
		UCI:   uci,
	}
	s.moves = append(s.moves, mv)

	res := MoveResult{Move: mv}
	switch s.pos.Outcome() {
	case rules.OutcomeWhiteWon:
		s.finishLocked(WinnerWhite, "checkmate")
	case rules.OutcomeBlackWon:
		s.finishLocked(WinnerBlack, "checkmate")
	case rules.OutcomeDraw:
		s.finishLocked(WinnerDraw, "draw")
	default:
		return res, nil
	}
	res.Finished = true
	res.Winner = s.winner
	return res, nil
}

// Tick decrements the clock of the side on move by elapsed seconds. A clock
// reaching zero finishes the session with the opposite side as winner. Ticks
// and moves serialize on the same mutex, so once a tick drove a clock to
// zero, any move still in flight resolves to ErrGameOver: the timer check
// wins the tie.
func (s *Session) Tick(elapsedSec int) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return TickResult{Active: false, WhiteTimer: s.white.Remaining, BlackTimer: s.black.Remaining, Winner: s.winner}
	}

	seat := &s.white
	if s.turnColor() == rules.Black {
		seat = &s.black
	}
	seat.Remaining -= elapsedSec
	if seat.Remaining <= 0 {
		seat.Remaining = 0
		s.finishLocked(Winner(seat.Color.Other()), "timeout")
		return TickResult{Active: true, WhiteTimer: s.white.Remaining, BlackTimer: s.black.Remaining, Finished: true, Winner: s.winner}
	}
	return TickResult{Active: true, WhiteTimer: s.white.Remaining, BlackTimer: s.black.Remaining}
}

func (s *Session) finishLocked(w Winner, method string) {
	s.status = StatusFinished
	s.winner = w
	s.method = method
	s.endedAt = time.Now()
}

// Moves returns a copy of the ordered move log. Used by the seeding path; a
// reconnecting client replays it to reconstruct board state.
func (s *Session) Moves() []Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Move, len(s.moves))
	copy(out, s.moves)
	return out
}

// ConnIDs returns the two seats' connection ids (white first).
func (s *Session) ConnIDs() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.white.ConnID, s.black.ConnID
}

// OpponentUserID resolves the other seat's user id for the given player.
func (s *Session) OpponentUserID(playerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch playerID {
	case s.white.UserID:
		return s.black.UserID, nil
	case s.black.UserID:
		return s.white.UserID, nil
	default:
		return "", ErrNotInGame
	}
}

// Rebind points a user's seat at a new connection after a reconnect. The
// seat must be free: alive reports whether its current connection is still
// registered, and a live one keeps the seat (ErrSlotOccupied).
func (s *Session) Rebind(userID, newConnID string, alive func(connID string) bool) (rules.Color, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat := &s.white
	if s.black.UserID == userID {
		seat = &s.black
	} else if s.white.UserID != userID {
		return "", ErrNotInGame
	}
	if seat.ConnID != newConnID && alive != nil && alive(seat.ConnID) {
		return "", ErrSlotOccupied
	}
	seat.ConnID = newConnID
	return seat.Color, nil
}

// Status reports the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Winner reports the winner; WinnerNone while the game runs.
func (s *Session) Winner() Winner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner
}

// Clocks reports both remaining-time counters in seconds.
func (s *Session) Clocks() (white, black int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.white.Remaining, s.black.Remaining
}

// Record snapshots the session for archiving. Meant for finished sessions;
// no mutation may follow archival.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	moves := make([]Move, len(s.moves))
	copy(moves, s.moves)
	return Record{
		ID:        s.ID,
		WhiteID:   s.white.UserID,
		BlackID:   s.black.UserID,
		Moves:     moves,
		FEN:       s.pos.FEN(),
		Status:    s.status,
		Winner:    s.winner,
		Method:    s.method,
		CreatedAt: s.createdAt,
		EndedAt:   s.endedAt,
	}
}
