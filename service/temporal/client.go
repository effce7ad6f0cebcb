package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/google/uuid"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Client starts transfer workflows and waits for their results.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client. If m is nil, no metrics are recorded.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

// StartTransfer starts a TransferWorkflow. An empty id gets a generated one.
//
// Workflow IDs are never reused: if a transfer with the same ID was started
// before, running or closed, its run is returned with existing set and no new
// run is started.
func (c *Client) StartTransfer(ctx context.Context, id string, input TransferInput) (run client.WorkflowRun, existing bool, err error) {
	if id == "" {
		id = TransferWorkflowID(uuid.NewString())
	}

	run, err = c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo: map[string]interface{}{
			"recipient":  input.Recipient,
			"lamports":   input.Lamports,
			"created_by": "ledgerlab",
		},
	}, TransferWorkflow, input)

	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		c.logger.InfoContext(ctx, "transfer workflow already exists",
			"workflow_id", id,
			"run_id", started.RunId,
		)
		return c.client.GetWorkflow(ctx, id, started.RunId), true, nil
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start transfer workflow",
			"workflow_id", id,
			"error", err,
		)
		return nil, false, fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "transfer workflow started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"recipient", input.Recipient,
		"lamports", input.Lamports,
	)
	return run, false, nil
}

// ExecuteTransfer starts a TransferWorkflow and blocks until it completes.
func (c *Client) ExecuteTransfer(ctx context.Context, id string, input TransferInput) (*TransferResult, error) {
	start := time.Now()
	run, _, err := c.StartTransfer(ctx, id, input)
	if err != nil {
		return nil, err
	}

	var result TransferResult
	err = run.Get(ctx, &result)
	if c.metrics != nil {
		status := result.Status
		if err != nil {
			status = "error"
		}
		c.metrics.RecordWorkflowDuration(result.Network, status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("transfer workflow %q failed: %w", run.GetID(), err)
	}
	return &result, nil
}

// TransferStatus is the execution state of a transfer workflow.
type TransferStatus struct {
	WorkflowID string          `json:"workflow_id"`
	RunID      string          `json:"run_id"`
	State      string          `json:"state"` // running, completed, failed, canceled, terminated, timed_out
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	Result     *TransferResult `json:"result,omitempty"`
}

// TransferStatus describes a transfer workflow. Result is filled once the
// workflow has completed.
func (c *Client) TransferStatus(ctx context.Context, id string) (*TransferStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", id, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &TransferStatus{
		WorkflowID: id,
		RunID:      info.GetExecution().GetRunId(),
		State:      workflowState(info.GetStatus()),
	}
	if ts := info.GetStartTime(); ts != nil {
		t := ts.AsTime()
		status.StartedAt = &t
	}
	if ts := info.GetCloseTime(); ts != nil {
		t := ts.AsTime()
		status.ClosedAt = &t
	}

	if info.GetStatus() == enums.WORKFLOW_EXECUTION_STATUS_COMPLETED {
		var result TransferResult
		if err := c.client.GetWorkflow(ctx, id, status.RunID).Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get result of workflow %q: %w", id, err)
		}
		status.Result = &result
	}
	return status, nil
}

func workflowState(s enums.WorkflowExecutionStatus) string {
	switch s {
	case enums.WORKFLOW_EXECUTION_STATUS_RUNNING, enums.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "running"
	case enums.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enums.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enums.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enums.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enums.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	default:
		return "unknown"
	}
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// TransferWorkflowID returns the workflow ID for a transfer request key.
func TransferWorkflowID(key string) string {
	return "transfer-" + key
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
