// Command annotcored serves the annotation store HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"annotcore/internal/adapters/api"
	"annotcore/internal/adapters/export"
	"annotcore/internal/blob"
	"annotcore/internal/config"
	"annotcore/internal/core"
	"annotcore/internal/events"
	"annotcore/internal/metrics"
	"annotcore/internal/search"
	"annotcore/plugins/fragment"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file (optional)")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// staticSource serves a fixed document address to selector creators, for
// deployments annotating a single document (set ANNOTCORE_DOCUMENT_URL).
type staticSource struct {
	url string
}

func (s staticSource) DocumentURL() string { return s.url }

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var index search.Index
	switch cfg.Search.Driver {
	case "elasticsearch":
		es, err := search.NewElasticIndex(search.ElasticConfig{
			Addresses:     cfg.Search.Addresses,
			Index:         cfg.Search.IndexName,
			Username:      cfg.Search.Username,
			Password:      cfg.Search.Password,
			SkipTLSVerify: cfg.Search.SkipTLSVerify,
		})
		if err != nil {
			return fmt.Errorf("open search index: %w", err)
		}
		if err := es.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("ensure search index: %w", err)
		}
		index = es
	default:
		index = search.NewMemoryIndex()
	}

	var bus events.Bus
	switch cfg.Events.Driver {
	case "redis":
		redisBus, err := events.NewRedisBus(ctx, events.RedisConfig{
			Addr:    cfg.Events.RedisAddr,
			DB:      cfg.Events.RedisDB,
			Channel: cfg.Events.Channel,
		})
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		bus = redisBus
	case "nop":
		bus = events.NopBus{}
	default:
		bus = events.NewMemoryBus()
	}

	recorder, err := metrics.NewPrometheusRecorder(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	svc := core.NewService(store, engine,
		core.WithLogger(logger),
		core.WithIndex(index),
		core.WithEventBus(bus),
		core.WithMetricsRecorder(recorder),
	)

	documentURL := os.Getenv("ANNOTCORE_DOCUMENT_URL")
	if documentURL != "" {
		if _, err := svc.InstallPlugin(fragment.New(staticSource{url: documentURL})); err != nil {
			return fmt.Errorf("install fragment plugin: %w", err)
		}
	}

	if count, err := svc.Reindex(ctx); err != nil {
		return fmt.Errorf("initial index build: %w", err)
	} else {
		logger.Info("index built", zap.Int("annotations", count))
	}

	blobStore, err := blob.Open(ctx, blob.Options{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
	})
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	worker := export.NewWorker(svc, blobStore, logger)
	worker.Start()

	handler := api.NewHandler(svc, api.HeaderAuthenticator{}, logger)
	handler.Exports = worker

	mux := http.NewServeMux()
	mux.Handle("/api", handler)
	mux.Handle("/api/", handler)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("search", cfg.Search.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		logger.Warn("export worker shutdown", zap.Error(err))
	}
	return nil
}
