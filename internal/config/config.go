package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// AppConfig carries everything the server needs at startup. Values come from
// an optional YAML file (ARENA_CONFIG_FILE) overridden by environment
// variables, so containers can tweak single knobs without a file edit.
type AppConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	RedisURL       string `yaml:"redis_url"`
	DatabaseURL    string `yaml:"database_url"`
	ProfileBaseURL string `yaml:"profile_base_url"`

	ClockInitialSec    int `yaml:"clock_initial_sec"`
	ClockTickMs        int `yaml:"clock_tick_ms"`
	GameTTLSec         int `yaml:"game_ttl_sec"`
	MaxConcurrentGames int `yaml:"max_concurrent_games"`
}

// Load builds the config from file and environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8081",
		ClockInitialSec:    600,
		ClockTickMs:        1000,
		GameTTLSec:         86400,
		MaxConcurrentGames: 200,
	}

	if path := strings.TrimSpace(os.Getenv("ARENA_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PROFILE_BASE_URL")); v != "" {
		cfg.ProfileBaseURL = v
	}
	if n, ok := envInt("CLOCK_INITIAL_SEC"); ok {
		cfg.ClockInitialSec = n
	}
	if n, ok := envInt("CLOCK_TICK_MS"); ok {
		cfg.ClockTickMs = n
	}
	if n, ok := envInt("GAME_TTL_SEC"); ok {
		cfg.GameTTLSec = n
	}
	if n, ok := envInt("MAX_CONCURRENT_GAMES"); ok {
		cfg.MaxConcurrentGames = n
	}

	if cfg.ClockInitialSec <= 0 {
		return nil, fmt.Errorf("clock_initial_sec must be positive")
	}
	if cfg.ClockTickMs <= 0 {
		return nil, fmt.Errorf("clock_tick_ms must be positive")
	}
	return cfg, nil
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
