package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/csvedit/internal/config"
	"github.com/JonMunkholm/csvedit/internal/core"
	"github.com/JonMunkholm/csvedit/internal/logging"
	"github.com/JonMunkholm/csvedit/internal/storage/fsstore"
	"github.com/JonMunkholm/csvedit/internal/storage/pgstore"
	"github.com/JonMunkholm/csvedit/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage_backend", cfg.Storage.Backend,
		"max_sessions", cfg.Session.MaxSessions,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service := core.NewService(store, core.ServiceConfig{
		MaxSessions:     cfg.Session.MaxSessions,
		MaxConcurrentIO: cfg.Session.MaxConcurrentIO,
		MaxWaitTime:     cfg.Session.MaxWaitTime,
		MaxFileSize:     cfg.Storage.MaxFileSize,
		Controller: core.ControllerOptions{
			Codec:                     core.Codec{Comma: cfg.CSV.Comma(), CRLF: cfg.CSV.CRLF()},
			ReturnToLoadedAfterExport: cfg.Session.ReturnToLoadedAfterExport,
			DefaultExportName:         cfg.Session.ExportName,
			MaxRows:                   cfg.Session.MaxRows,
			MaxColumns:                cfg.Session.MaxColumns,
			QueueWait:                 cfg.Session.QueueWait,
			OpTimeout:                 cfg.Session.OpTimeout,
		},
	})

	// Create server with config
	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartSessionSweeper(jobCtx, core.SweepConfig{
		IdleTimeout:   cfg.Session.IdleTimeout,
		CheckInterval: cfg.Session.SweepInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight loads and exports finish so no export is cut short
		ioStatus := service.IOStatus()
		if ioStatus.Active > 0 {
			slog.Info("waiting for storage operations to complete", "active", ioStatus.Active)
			if err := service.WaitForIO(shutdownCtx); err != nil {
				slog.Warn("storage operations did not complete in time", "error", err)
			} else {
				slog.Info("all storage operations completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore builds the configured document store. The returned func releases
// its resources.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		poolConfig, err := pgxpool.ParseConfig(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.Storage.MaxConns)
		poolConfig.MinConns = int32(cfg.Storage.MinConns)
		poolConfig.MaxConnLifetime = cfg.Storage.MaxConnLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}

		// Log which database we connected to
		if u, err := url.Parse(cfg.Storage.DatabaseURL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			slog.Info("connected to database")
		}

		store := pgstore.New(pool, cfg.Storage.MaxFileSize)
		if cfg.Storage.InitSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("initialize schema: %w", err)
			}
		}
		return store, pool.Close, nil

	default:
		store, err := fsstore.New(fsstore.Options{
			Root:        cfg.Storage.Dir,
			MaxFileSize: cfg.Storage.MaxFileSize,
			Atomic:      cfg.Storage.AtomicWrites,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using filesystem document store", "root", store.Root())
		return store, func() {}, nil
	}
}
