package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AssetsDir string `env:"ASSETS_DIR" default:"web/assets"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int `env:"MAX_CONNECTIONS_PER_IP" default:"20"`

	HubBuffer        int           `env:"CHAT_HUB_BUFFER" default:"128"`
	HistoryQueue     int           `env:"CHAT_HISTORY_QUEUE" default:"32"`
	SnapshotSize     int           `env:"CHAT_SNAPSHOT_SIZE" default:"10"`
	HistoryRetention int           `env:"CHAT_HISTORY_RETENTION" default:"1000"` // 0 keeps everything
	IdentifyTimeout  time.Duration `env:"CHAT_IDENTIFY_TIMEOUT" default:"1m"`     // 0 waits forever
	SnapshotTimeout  time.Duration `env:"CHAT_SNAPSHOT_TIMEOUT" default:"5s"`
}

// IsDevelopment reports whether the server runs with development defaults,
// which relaxes the WebSocket origin check.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	positive := map[string]int{
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CHAT_HUB_BUFFER":           cfg.HubBuffer,
		"CHAT_HISTORY_QUEUE":        cfg.HistoryQueue,
		"CHAT_SNAPSHOT_SIZE":        cfg.SnapshotSize,
	}
	for name, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}

	if cfg.HistoryRetention < 0 {
		return fmt.Errorf("CHAT_HISTORY_RETENTION must not be negative, got %d", cfg.HistoryRetention)
	}
	if cfg.HistoryRetention > 0 && cfg.HistoryRetention < cfg.SnapshotSize {
		return fmt.Errorf("CHAT_HISTORY_RETENTION (%d) must be 0 or at least CHAT_SNAPSHOT_SIZE (%d)", cfg.HistoryRetention, cfg.SnapshotSize)
	}

	if cfg.IdentifyTimeout < 0 {
		return errors.New("CHAT_IDENTIFY_TIMEOUT must not be negative")
	}
	if cfg.SnapshotTimeout <= 0 {
		return errors.New("CHAT_SNAPSHOT_TIMEOUT must be positive")
	}

	u, err := url.Parse(cfg.AppURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
	}

	return nil
}
