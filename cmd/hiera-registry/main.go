// Package main is the entry point for the hiera registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opsforge/hiera-registry/internal/admin"
	"github.com/opsforge/hiera-registry/internal/catalog"
	"github.com/opsforge/hiera-registry/internal/config"
	"github.com/opsforge/hiera-registry/internal/engine"
	"github.com/opsforge/hiera-registry/internal/leveltmpl"
	"github.com/opsforge/hiera-registry/internal/metrics"
	"github.com/opsforge/hiera-registry/internal/ops"
	"github.com/opsforge/hiera-registry/internal/storage"
	"github.com/opsforge/hiera-registry/internal/store"
	"github.com/opsforge/hiera-registry/internal/watch"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hiera-registry %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger. The level lives in a LevelVar so a config reload can
	// change it without restart.
	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Logging.Level))

	var logOut io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		logOut = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(logOut, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(logOut, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting hiera registry",
		slog.String("version", version),
		slog.String("storage", cfg.Storage.Type),
		slog.String("address", cfg.Address()),
	)

	m := metrics.New()

	// Create storage backend
	ds, err := storage.Create(cfg, logger)
	if err != nil {
		logger.Error("failed to create storage backend", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ds = store.Instrument(ds, cfg.Storage.Type, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores := store.New(ds)
	if err := stores.EnsureIndexes(ctx); err != nil {
		logger.Error("failed to create indexes", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Projections and their synchronisers
	models := catalog.NewModels()
	keys := catalog.NewKeys()
	levels := catalog.NewLevels()
	groups := catalog.NewGroups()

	watchers := watch.NewSet(stores, models, keys, levels, groups, logger, m)
	watchers.Start(ctx)

	leveltmpl.StartCleanup(ctx, 10*time.Minute, m)

	eng := engine.New(stores, models, keys, levels, groups, logger, m)
	adm := admin.New(eng, logger)

	// Reload the log level on config file changes
	if *configPath != "" {
		err := config.Watch(ctx, *configPath, logger, func(updated *config.Config) {
			level.Set(config.ParseLevel(updated.Logging.Level))
		})
		if err != nil {
			logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		}
	}

	// Operational HTTP listener
	server := ops.New(cfg.Address(), adm, m, logger, ds.IsHealthy, watchers.Ready)

	// Handle shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		cancel()

		if err := ds.Close(); err != nil {
			logger.Error("storage close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("shutdown complete")
}
