package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the environment-driven server configuration.
type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	// MasterFPS is the target rate of the master broadcast loop.
	MasterFPS int

	// TetraDir is the runtime directory holding per-game bridge configs.
	// TetraSrc is the source tree holding the game_bridge executable.
	// Both may be empty; bridge spawning then fails per request with a
	// bridge.error instead of at startup.
	TetraDir string
	TetraSrc string

	// RedisURL enables the redis-backed score store when set.
	RedisURL string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("QUASAR_PORT", "1985"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		TetraDir:  getEnv("TETRA_DIR", ""),
		TetraSrc:  getEnv("TETRA_SRC", ""),
		RedisURL:  getEnv("REDIS_URL", ""),
	}

	fpsStr := getEnv("MASTER_FPS", "15")
	fps, err := strconv.Atoi(fpsStr)
	if err != nil {
		return nil, fmt.Errorf("MASTER_FPS must be an integer: %w", err)
	}
	if fps < 1 || fps > 120 {
		return nil, fmt.Errorf("MASTER_FPS must be between 1 and 120, got %d", fps)
	}
	cfg.MasterFPS = fps

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("QUASAR_PORT must be numeric: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
