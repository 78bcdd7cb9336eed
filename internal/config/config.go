package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "ISLANDGAME_CONFIG"

// Config is the server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Messages MessagesConfig `yaml:"messages"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Type     string         `yaml:"type"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	URL             string        `yaml:"url"`
	PoolSize        int           `yaml:"pool_size"`
	MinIdleConns    int           `yaml:"min_idle_conns"`
	FinishedGameTTL time.Duration `yaml:"finished_game_ttl"`
}

type PostgresConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	SessionDuration time.Duration `yaml:"session_duration"`
	// CleanupInterval is how often expired sessions are swept
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MessagesConfig struct {
	// Dir holds YAML files overriding the built-in message catalog
	Dir string `yaml:"dir"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
			Redis: RedisConfig{
				PoolSize:     10,
				MinIdleConns: 2,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    16,
				MaxIdleConns:    8,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Auth: AuthConfig{
			SessionDuration: 24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatJSON,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $ISLANDGAME_CONFIG when path is empty), then environment overrides
func Load(path string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(getenv(EnvConfigPath))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := env("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := env("STORAGE_TYPE"); v != "" {
		c.Storage.Type = strings.ToLower(v)
	}
	if v := env("REDIS_URL"); v != "" {
		c.Storage.Redis.URL = v
	}
	if v := env("DATABASE_URL"); v != "" {
		c.Storage.Postgres.URL = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := env("MESSAGES_DIR"); v != "" {
		c.Messages.Dir = v
	}
	if v := env("SESSION_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_DURATION %q: %w", v, err)
		}
		c.Auth.SessionDuration = d
	}
	return nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage type %q: must be memory, redis or postgres", c.Storage.Type))
	}

	if c.Auth.SessionDuration <= 0 {
		errs = append(errs, errors.New("auth.session_duration must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != LogFormatJSON && c.Log.Format != LogFormatText {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be json or text", c.Log.Format))
	}

	return errors.Join(errs...)
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// NewLogger builds the application logger writing to w
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
