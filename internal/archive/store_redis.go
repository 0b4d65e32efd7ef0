// Package archive persists finished games: a Redis store that keeps records
// reachable for seeding after the session leaves memory, and an optional
// Postgres repository for durable results.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kapu/chess-arena/internal/arena"
)

// Store keeps finished game records in Redis as JSON blobs with a TTL, plus a
// per-user index of game ids.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore connects to REDIS_URL-style addresses (redis:// or rediss://).
func NewStore(redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func gameKey(id string) string    { return "arena:game:" + strings.TrimSpace(id) }
func userIdxKey(id string) string { return "arena:index:user:" + strings.TrimSpace(id) }

// Save writes a finished game record and indexes both participants.
func (s *Store) Save(ctx context.Context, rec arena.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, gameKey(rec.ID), raw, s.ttl).Err(); err != nil {
		return err
	}
	for _, uid := range []string{rec.WhiteID, rec.BlackID} {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		key := userIdxKey(uid)
		if err := s.rdb.SAdd(ctx, key, rec.ID).Err(); err != nil {
			return err
		}
		_ = s.rdb.Expire(ctx, key, s.ttl).Err()
	}
	return nil
}

// Load returns a record by game id; nil when unknown or expired.
func (s *Store) Load(ctx context.Context, id string) (*arena.Record, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec arena.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GamesByUser lists archived game ids for one user.
func (s *Store) GamesByUser(ctx context.Context, userID string) ([]string, error) {
	return s.rdb.SMembers(ctx, userIdxKey(userID)).Result()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
