package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/ledgerlab/service/config"
	"github.com/brojonat/ledgerlab/service/db"
	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/brojonat/ledgerlab/service/server"
	"github.com/brojonat/ledgerlab/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Optional submission journal; nil interfaces disable their routes
	var store server.SubmissionStore
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		dbStore := db.NewStore(dbPool, metricsCollector)
		if err := dbStore.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = dbStore
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, submission endpoints disabled")
	}

	// Transfers run on the worker; the server only starts and describes them
	var transfers server.Transfers
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Warn("temporal unavailable, transfer endpoints disabled", "error", err)
	} else {
		defer temporalClient.Close()
		transfers = server.NewTemporalTransfers(temporalClient)
	}

	// Optional receipts stream
	var receipts server.ReceiptSource
	if cfg.NATSURL != "" {
		ssePublisher, err := server.NewSSEPublisher(ctx, cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		defer ssePublisher.Close()
		receipts = ssePublisher
	} else {
		logger.Warn("NATS_URL not set, receipt stream disabled")
	}

	httpServer := server.New(cfg.ServerAddr, store, transfers, receipts, metricsCollector, logger).
		WithMetricsHandler(metrics.Handler(metricsCollector, nil))

	logger.Info("server initialized, all dependencies ready",
		"journal", store != nil,
		"transfers", transfers != nil,
		"receipts", receipts != nil,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
