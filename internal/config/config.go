// Package config loads server configuration from an optional YAML file with
// environment variable overrides. Environment always wins over the file so
// container deployments can reconfigure without editing it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	Events  EventsConfig  `yaml:"events"`
	Blob    BlobConfig    `yaml:"blob"`
}

// StorageConfig selects and parameterizes the persistent store.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SearchConfig selects the index backend.
type SearchConfig struct {
	Driver        string   `yaml:"driver"` // memory|elasticsearch
	Addresses     []string `yaml:"addresses"`
	IndexName     string   `yaml:"index_name"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	SkipTLSVerify bool     `yaml:"skip_tls_verify"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	Driver    string `yaml:"driver"` // memory|redis|nop
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Channel   string `yaml:"channel"`
}

// BlobConfig selects the artifact store backend. S3 specifics stay on the
// ANNOTCORE_BLOB_S3_* environment variables.
type BlobConfig struct {
	Driver string `yaml:"driver"` // fs|s3|memory
	FSRoot string `yaml:"fs_root"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
		Storage:         StorageConfig{Driver: "sqlite", SQLitePath: "annotcore.db"},
		Search:          SearchConfig{Driver: "memory", IndexName: "annotations"},
		Events:          EventsConfig{Driver: "memory", Channel: "annotcore.events"},
		Blob:            BlobConfig{Driver: "fs", FSRoot: "./blobdata"},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides. A missing file is an error; pass "" to run on
// defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "ANNOTCORE_LISTEN_ADDR")
	setString(&cfg.LogLevel, "ANNOTCORE_LOG_LEVEL")
	if raw := os.Getenv("ANNOTCORE_SHUTDOWN_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.ShutdownTimeout = d
		}
	}

	setString(&cfg.Storage.Driver, "ANNOTCORE_STORAGE_DRIVER")
	setString(&cfg.Storage.SQLitePath, "ANNOTCORE_SQLITE_PATH")
	setString(&cfg.Storage.PostgresDSN, "ANNOTCORE_POSTGRES_DSN")

	setString(&cfg.Search.Driver, "ANNOTCORE_SEARCH_DRIVER")
	if raw := os.Getenv("ANNOTCORE_SEARCH_ADDRESSES"); raw != "" {
		cfg.Search.Addresses = splitList(raw)
	}
	setString(&cfg.Search.IndexName, "ANNOTCORE_SEARCH_INDEX")
	setString(&cfg.Search.Username, "ANNOTCORE_SEARCH_USERNAME")
	setString(&cfg.Search.Password, "ANNOTCORE_SEARCH_PASSWORD")

	setString(&cfg.Events.Driver, "ANNOTCORE_EVENTS_DRIVER")
	setString(&cfg.Events.RedisAddr, "ANNOTCORE_REDIS_ADDR")
	setString(&cfg.Events.Channel, "ANNOTCORE_EVENTS_CHANNEL")

	setString(&cfg.Blob.Driver, "ANNOTCORE_BLOB_DRIVER")
	setString(&cfg.Blob.FSRoot, "ANNOTCORE_BLOB_FS_ROOT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Search.Driver {
	case "memory", "elasticsearch":
	default:
		return fmt.Errorf("unknown search driver %q", c.Search.Driver)
	}
	switch c.Events.Driver {
	case "memory", "redis", "nop":
	default:
		return fmt.Errorf("unknown events driver %q", c.Events.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr required")
	}
	return nil
}

// NewLogger builds a production zap logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
