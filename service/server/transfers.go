package server

import (
	"context"
	"errors"

	"github.com/brojonat/ledgerlab/service/temporal"
	"go.temporal.io/api/serviceerror"
)

// ErrTransferNotFound is returned by Transfers.Status for unknown workflow IDs.
var ErrTransferNotFound = errors.New("transfer workflow not found")

// TransferStarted identifies a started transfer workflow.
type TransferStarted struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`

	// Existing is set when the ID was already used and no new run started.
	Existing bool `json:"existing,omitempty"`
}

// Transfers starts transfer workflows and reports on them.
type Transfers interface {
	Start(ctx context.Context, id string, input temporal.TransferInput) (*TransferStarted, error)
	Status(ctx context.Context, id string) (*temporal.TransferStatus, error)
}

// TemporalTransfers adapts temporal.Client to Transfers.
type TemporalTransfers struct {
	client *temporal.Client
}

// NewTemporalTransfers creates a new transfers adapter.
func NewTemporalTransfers(c *temporal.Client) *TemporalTransfers {
	return &TemporalTransfers{client: c}
}

// Start starts a TransferWorkflow without waiting for it. Reusing an ID
// returns the earlier run instead of moving funds again.
func (t *TemporalTransfers) Start(ctx context.Context, id string, input temporal.TransferInput) (*TransferStarted, error) {
	run, existing, err := t.client.StartTransfer(ctx, id, input)
	if err != nil {
		return nil, err
	}
	return &TransferStarted{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Existing:   existing,
	}, nil
}

// Status describes a TransferWorkflow, mapping Temporal's not-found error to
// ErrTransferNotFound.
func (t *TemporalTransfers) Status(ctx context.Context, id string) (*temporal.TransferStatus, error) {
	status, err := t.client.TransferStatus(ctx, id)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return status, nil
}
