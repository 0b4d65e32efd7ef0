package archive

import (
	"context"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/arena"
	"github.com/kapu/chess-arena/internal/obslog"
)

// Sink combines the Redis store (seed recovery) with the optional Postgres
// repository (durable results). Either half may be nil.
type Sink struct {
	store *Store
	repo  *Repository
}

func NewSink(store *Store, repo *Repository) *Sink {
	return &Sink{store: store, repo: repo}
}

// Save writes the record to every configured backend. The repository write is
// best-effort; only the store decides success, since seeding depends on it.
func (s *Sink) Save(ctx context.Context, rec arena.Record) error {
	if s.repo != nil {
		if err := s.repo.SaveResult(ctx, rec); err != nil {
			obslog.L().Error("archive_result_error", zap.String("game_id", rec.ID), zap.Error(err))
		}
	}
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, rec)
}

// Load serves seed requests for archived games.
func (s *Sink) Load(ctx context.Context, id string) (*arena.Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Load(ctx, id)
}
