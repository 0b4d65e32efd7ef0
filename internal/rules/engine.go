// Package rules wraps the chess library behind the small surface the arena
// needs: replay a move list, apply a coordinate move, report turn and outcome.
package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Color of a side, as it appears on the wire.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Short returns the single-letter form clients use ("w"/"b").
func (c Color) Short() string {
	if c == White {
		return "w"
	}
	return "b"
}

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Outcome of a position.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeWhiteWon Outcome = "white"
	OutcomeBlackWon Outcome = "black"
	OutcomeDraw     Outcome = "draw"
)

// ErrIllegalMove reports a move the engine refused against the current board.
type ErrIllegalMove struct {
	From string
	To   string
}

func (e ErrIllegalMove) Error() string {
	return fmt.Sprintf("illegal move %s%s", e.From, e.To)
}

// Position is an in-progress game reconstructed from its move log.
type Position struct {
	game *nchess.Game
}

// NewPosition returns the start position.
func NewPosition() *Position {
	return &Position{game: nchess.NewGame()}
}

// Replay reconstructs a position by applying UCI moves from the start
// position. A move the engine rejects fails the whole replay.
func Replay(moves []string) (*Position, error) {
	p := NewPosition()
	for i, mv := range moves {
		if err := p.game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i, mv, err)
		}
	}
	return p, nil
}

// Apply validates and plays a coordinate move. It returns the SAN and UCI
// encodings of the accepted move. A bare from/to that the engine refuses is
// retried as a queen promotion before being rejected. The position is
// untouched on rejection.
func (p *Position) Apply(from, to string) (san, uci string, err error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if len(from) != 2 || len(to) != 2 {
		return "", "", ErrIllegalMove{From: from, To: to}
	}
	pos := p.game.Position()
	notation := nchess.UCINotation{}
	mv, derr := notation.Decode(pos, from+to)
	if derr != nil {
		mv, derr = notation.Decode(pos, from+to+"q")
	}
	if derr != nil {
		return "", "", ErrIllegalMove{From: from, To: to}
	}
	san = nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := p.game.Move(mv, nil); err != nil {
		return "", "", ErrIllegalMove{From: from, To: to}
	}
	return san, mv.String(), nil
}

// Turn reports the color to move.
func (p *Position) Turn() Color {
	if p.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// Outcome reports whether the game has ended and how.
func (p *Position) Outcome() Outcome {
	switch p.game.Outcome() {
	case nchess.WhiteWon:
		return OutcomeWhiteWon
	case nchess.BlackWon:
		return OutcomeBlackWon
	case nchess.Draw:
		return OutcomeDraw
	default:
		return OutcomeNone
	}
}

// FEN renders the current board state.
func (p *Position) FEN() string {
	return p.game.FEN()
}

// MoveCount is the number of completed half-turns.
func (p *Position) MoveCount() int {
	return len(p.game.Moves())
}
