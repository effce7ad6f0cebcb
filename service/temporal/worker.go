package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/brojonat/ledgerlab/service/solana"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Dependencies
	Submitter SubmitterInterface
	Payer     *solana.Identity
	Network   string
	Store     StoreInterface     // Optional: if nil, submissions are not journaled
	Publisher PublisherInterface // Optional: if nil, no receipts are published
	Metrics   *metrics.Metrics   // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Submitter == nil || config.Payer == nil {
		return nil, fmt.Errorf("worker requires a submitter and a payer identity")
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
		"network", config.Network,
		"payer", config.Payer,
	)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	// One payer signs everything; keep submissions from this worker few and sequential.
	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     4,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(TransferWorkflow)
	logger.Info("registered workflow", "name", "TransferWorkflow")

	activities := NewActivities(
		config.Submitter,
		config.Payer,
		config.Network,
		config.Store,
		config.Publisher,
		config.Metrics,
		logger,
	)

	// Activities are registered by name, matching the ExecuteActivity calls in the workflow
	w.RegisterActivity(activities.CheckFunds)
	w.RegisterActivity(activities.SubmitTransfer)
	w.RegisterActivity(activities.ResolveSignature)

	logger.Info("registered activities",
		"activities", []string{"CheckFunds", "SubmitTransfer", "ResolveSignature"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start begins processing workflows and activities.
// This method blocks until an interrupt signal or an error.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	err := w.worker.Run(worker.InterruptCh())
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
