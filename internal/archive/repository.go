package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/kapu/chess-arena/internal/arena"
)

// Repository writes final game results to Postgres. The arena works without
// it; failures here never touch the game flow.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one finished game.
func (r *Repository) SaveResult(ctx context.Context, rec arena.Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	uci := make([]string, len(rec.Moves))
	for i, mv := range rec.Moves {
		uci[i] = mv.UCI
	}
	movesRaw, _ := json.Marshal(uci)
	pgnResult := pgnResultFor(rec.Winner)
	_ = pgnResult
	duration := rec.EndedAt.Sub(rec.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_games (
	    game_id, white_id, black_id,
	    winner, method, moves_uci, final_fen, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    winner=EXCLUDED.winner,
	    method=EXCLUDED.method,
	    moves_uci=EXCLUDED.moves_uci,
	    final_fen=EXCLUDED.final_fen,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.WhiteID, rec.BlackID,
		string(rec.Winner), rec.Method, string(movesRaw), rec.FEN, BuildPGN(rec),
		rec.CreatedAt, rec.EndedAt, duration,
	)
	return err
}

func pgnResultFor(w arena.Winner) string {
	switch w {
	case arena.WinnerWhite:
		return "1-0"
	case arena.WinnerBlack:
		return "0-1"
	case arena.WinnerDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the record's SAN log as PGN text.
func BuildPGN(rec arena.Record) string {
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := pgnResultFor(rec.Winner)
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(rec.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(rec.BlackID)))
	if rec.Method != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(rec.Method)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(rec.Moves); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.Moves[i].SAN)))
		if i+1 < len(rec.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
