package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Storage.Driver != "sqlite" || cfg.Search.Driver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	payload := `
listen_addr: ":9090"
log_level: debug
shutdown_timeout: 30s
storage:
  driver: postgres
  postgres_dsn: postgres://db.internal/annotations
search:
  driver: elasticsearch
  addresses: ["http://es-1:9200", "http://es-2:9200"]
  index_name: annotations-v2
events:
  driver: redis
  redis_addr: redis.internal:6379
blob:
  driver: memory
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.LogLevel != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.PostgresDSN != "postgres://db.internal/annotations" {
		t.Fatalf("storage section lost: %+v", cfg.Storage)
	}
	if len(cfg.Search.Addresses) != 2 || cfg.Search.IndexName != "annotations-v2" {
		t.Fatalf("search section lost: %+v", cfg.Search)
	}
	if cfg.Events.Driver != "redis" || cfg.Blob.Driver != "memory" {
		t.Fatalf("events/blob sections lost: %+v", cfg)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANNOTCORE_LISTEN_ADDR", ":7070")
	t.Setenv("ANNOTCORE_STORAGE_DRIVER", "memory")
	t.Setenv("ANNOTCORE_SEARCH_ADDRESSES", "http://es:9200, http://es-2:9200 ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("env should override file, got %s", cfg.ListenAddr)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("env storage driver not applied: %s", cfg.Storage.Driver)
	}
	if len(cfg.Search.Addresses) != 2 {
		t.Fatalf("address list parsing failed: %v", cfg.Search.Addresses)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("ANNOTCORE_STORAGE_DRIVER", "oracle")
	if _, err := Load(""); err == nil {
		t.Fatalf("unknown storage driver must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("missing config file must error")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	logger, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	_ = logger.Sync()

	cfg.LogLevel = "nope"
	if _, err := cfg.NewLogger(); err == nil {
		t.Fatalf("invalid log level must fail")
	}
}
