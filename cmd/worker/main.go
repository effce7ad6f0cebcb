package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/ledgerlab/service/config"
	"github.com/brojonat/ledgerlab/service/db"
	"github.com/brojonat/ledgerlab/service/metrics"
	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/solana"
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
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, metrics.Handler(metricsCollector, nil), logger); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// The worker signs every transfer with this identity
	var payer *solana.Identity
	var err error
	if cfg.SecretMnemonicVar != "" {
		payer, err = solana.LoadIdentityFromMnemonic(cfg.SecretMnemonicVar, "")
	} else {
		payer, err = solana.LoadIdentity(cfg.SecretKeyVar)
	}
	if err != nil {
		logger.Error("failed to load identity", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded identity", "payer", payer)

	network, err := solana.ResolveNetwork(cfg.Network, cfg.RPCURL)
	if err != nil {
		logger.Error("failed to resolve network", "error", err)
		os.Exit(1)
	}
	ledger := solana.NewClient(solana.Dial(network), network.Name, metricsCollector, logger)
	submitter := solana.NewSubmitter(ledger, cfg.SubmitterConfig(), metricsCollector, logger)

	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Submitter:         submitter,
		Payer:             payer,
		Network:           network.Name,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	// Optional submission journal
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
		store := db.NewStore(dbPool, metricsCollector)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		workerConfig.Store = store
		logger.Info("connected to database")
	}

	// Optional receipts stream
	if cfg.NATSURL != "" {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		workerConfig.Publisher = natsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"network", network.Name,
		"payer", payer,
		"journal", workerConfig.Store != nil,
		"receipts", workerConfig.Publisher != nil,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- worker.Start()
	}()

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("shutdown complete")
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
