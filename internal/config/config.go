// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr        string        `yaml:"listen_addr" env:"LISTEN_ADDR" validate:"required"`
	AllowedOrigins    []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	ConversationLimit int           `yaml:"conversation_limit" env:"CONVERSATION_LIMIT" validate:"gte=1,lte=1000"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
	WS    WSConfig    `yaml:"ws"`
}

// StoreConfig selects and addresses the persistence backend.
type StoreConfig struct {
	Driver     string `yaml:"driver" env:"STORE_DRIVER" validate:"oneof=memory sqlite redis"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" validate:"required_if=Driver sqlite"`
	RedisAddr  string `yaml:"redis_addr" env:"REDIS_ADDR" validate:"required_if=Driver redis"`
	RedisDB    int    `yaml:"redis_db" env:"REDIS_DB" validate:"gte=0"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=text json"`
}

// WSConfig tunes the WebSocket transport.
type WSConfig struct {
	MaxConns           int           `yaml:"max_conns" env:"WS_MAX_CONNS" validate:"gte=0"`
	IdleTimeout        time.Duration `yaml:"idle_timeout" env:"WS_IDLE_TIMEOUT" validate:"gte=0"`
	JoinRateLimit      int           `yaml:"join_rate_limit" env:"WS_JOIN_RATE_LIMIT" validate:"gte=0"`
	JoinRateWindow     time.Duration `yaml:"join_rate_window" env:"WS_JOIN_RATE_WINDOW" validate:"gt=0"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"WS_INSECURE_SKIP_VERIFY"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		ConversationLimit: 100,
		ShutdownTimeout:   10 * time.Second,
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "realchat.db",
			RedisAddr:  "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		WS: WSConfig{
			JoinRateLimit:  30,
			JoinRateWindow: time.Minute,
		},
	}
}

var validate = validator.New()

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and environment variables, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not pass silently.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}
