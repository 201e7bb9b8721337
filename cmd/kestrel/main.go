// Kestrel - Ledger activity monitoring for Stellar accounts.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarwatch/kestrel/internal/api"
	"github.com/stellarwatch/kestrel/internal/bus"
	"github.com/stellarwatch/kestrel/internal/cache"
	"github.com/stellarwatch/kestrel/internal/domain"
	"github.com/stellarwatch/kestrel/internal/engine"
	"github.com/stellarwatch/kestrel/internal/ingest"
	"github.com/stellarwatch/kestrel/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load configuration
	cfg := domain.DefaultConfig()
	if *configPath != "" {
		loaded, err := domain.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	setupLogging(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"engine_enabled", cfg.Engine.Enabled,
		"dry_run", cfg.Engine.DryRun,
		"ingest_enabled", cfg.Ingest.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rules read through the caching decorator; writes go straight to the store.
	data := cache.NewDataPort(store, cacheImpl, cfg.Cache.LocalTTLDuration())

	// Initialize Engine and Scheduler
	eng := engine.New(cfg.Engine, data, store, busImpl)
	slog.Info("rule engine initialized", "rules_count", eng.RulesCount())

	var scheduler *engine.Scheduler
	if cfg.Engine.Enabled {
		scheduler = engine.NewScheduler(eng, cfg.Engine.Interval())
		go scheduler.Start(ctx)
	}

	// Initialize Ingestion
	var ingestSvc *ingest.Service
	if cfg.Ingest.Enabled {
		client := ingest.NewClient(cfg.Ingest.HorizonURL)
		ingestSvc = ingest.NewService(cfg.Ingest, client, store, busImpl)
		go ingestSvc.Run(ctx)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Store:   store,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Engine:  eng,
		Ingest:  ingestSvc,
		Version: Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if scheduler != nil {
		scheduler.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func setupLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
