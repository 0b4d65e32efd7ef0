package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/archive"
	"github.com/kapu/chess-arena/internal/arena"
	appcfg "github.com/kapu/chess-arena/internal/config"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/profile"
	"github.com/kapu/chess-arena/internal/ws"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	hub := ws.NewHub()
	games := arena.NewManager(hub,
		cfg.ClockInitialSec,
		time.Duration(cfg.ClockTickMs)*time.Millisecond,
		cfg.MaxConcurrentGames,
	)

	// Archive wiring: Redis keeps finished games seedable, Postgres keeps
	// durable results. Both are optional; results alone need the store too.
	var store *archive.Store
	if cfg.RedisURL != "" {
		store, err = archive.NewStore(cfg.RedisURL, time.Duration(cfg.GameTTLSec)*time.Second)
		if err != nil {
			log.Fatalf("archive store init error: %v", err)
		}
		defer func() { _ = store.Close() }()
	}
	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive repository init error: %v", err)
		}
		defer func() { _ = repo.Close() }()
	}
	if store != nil {
		games.AttachArchive(archive.NewSink(store, repo))
	} else if repo != nil {
		obslog.L().Warn("archive_repo_without_store")
	}

	if cfg.ProfileBaseURL != "" {
		games.AttachProfiles(profile.NewClient(cfg.ProfileBaseURL))
	}

	server := ws.NewServer(hub, ws.NewRouter(games), games, cfg.AllowedOrigins)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("arena_listen", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("arena_shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	games.Close()
	_ = obslog.L().Sync()
}
