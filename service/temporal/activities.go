package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgerlab/service/db"
	"github.com/brojonat/ledgerlab/service/metrics"
	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Result statuses of a TransferWorkflow.
const (
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
	TransferUnknown   = "unknown"
)

// TransferInput contains the input parameters for a SOL transfer from the
// worker's identity.
type TransferInput struct {
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
	Memo      string `json:"memo,omitempty"`
	Level     string `json:"level"` // "processed", "confirmed" or "finalized"; empty means confirmed

	// ResolveDelay is how long to wait before re-querying a signature whose
	// confirmation was not observed. Zero means DefaultResolveDelay.
	ResolveDelay time.Duration `json:"resolve_delay,omitempty"`
}

// TransferResult contains the outcome of a TransferWorkflow.
type TransferResult struct {
	Signature string  `json:"signature,omitempty"`
	Status    string  `json:"status"` // TransferConfirmed, TransferFailed or TransferUnknown
	Level     string  `json:"level,omitempty"`
	Slot      uint64  `json:"slot,omitempty"`
	Network   string  `json:"network"`
	Link      string  `json:"link,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Error     *string `json:"error,omitempty"`
	Resolved  bool    `json:"resolved"` // true if the status came from a re-query
}

// CheckFundsInput contains parameters for the CheckFunds activity.
type CheckFundsInput struct {
	Lamports uint64 `json:"lamports"`
	Signers  int    `json:"signers"`
}

// CheckFundsResult contains the result of the CheckFunds activity.
type CheckFundsResult struct {
	Payer      string  `json:"payer"`
	Network    string  `json:"network"`
	Balance    uint64  `json:"balance"`
	Sufficient bool    `json:"sufficient"`
	Error      *string `json:"error,omitempty"`
}

// SubmitTransferInput contains parameters for the SubmitTransfer activity.
type SubmitTransferInput struct {
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
	Memo      string `json:"memo,omitempty"`
	Level     string `json:"level"`
}

// SubmitTransferResult contains the outcome of one submission. Classified
// ledger failures are reported here rather than as activity errors.
type SubmitTransferResult struct {
	Signature string  `json:"signature,omitempty"`
	Level     string  `json:"level,omitempty"`
	Slot      uint64  `json:"slot,omitempty"`
	Network   string  `json:"network"`
	Link      string  `json:"link,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// ResolveSignatureInput contains parameters for the ResolveSignature activity.
type ResolveSignatureInput struct {
	Signature string `json:"signature"`
	Level     string `json:"level"`
}

// ResolveSignatureResult contains the re-queried status of a signature.
type ResolveSignatureResult struct {
	Found  bool    `json:"found"`
	Status string  `json:"status"` // TransferConfirmed, TransferFailed or TransferUnknown
	Level  string  `json:"level,omitempty"`
	Slot   uint64  `json:"slot,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// SubmitterInterface defines the ledger operations needed by activities.
// This allows for easy mocking in tests.
type SubmitterInterface interface {
	CheckFunds(ctx context.Context, owner solanago.PublicKey, lamports uint64, numSigners int) (uint64, error)
	Submit(ctx context.Context, req solana.SubmitRequest) (*solana.SubmissionResult, error)
	Status(ctx context.Context, signature string) (*solana.SignatureStatus, error)
}

// StoreInterface defines the journal operations needed by activities.
type StoreInterface interface {
	CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, signature, status string, slot *int64, errMsg *string) (*db.Submission, error)
}

// PublisherInterface defines the receipt publishing operations needed by activities.
type PublisherInterface interface {
	PublishReceipt(ctx context.Context, event *natspkg.ReceiptEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Store and publisher are optional; nil disables journaling or receipts.
type Activities struct {
	submitter SubmitterInterface
	payer     *solana.Identity
	network   string
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	submitter SubmitterInterface,
	payer *solana.Identity,
	network string,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		submitter: submitter,
		payer:     payer,
		network:   network,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "transfer_activities"),
	}
}

func (a *Activities) record(activity string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds(), err)
	}
}

// CheckFunds verifies the worker's identity can pay for the transfer.
// Insufficient funds is reported in the result; network errors are returned so
// the activity is retried.
func (a *Activities) CheckFunds(ctx context.Context, input CheckFundsInput) (result *CheckFundsResult, err error) {
	start := time.Now()
	defer func() { a.record("CheckFunds", start, err) }()

	signers := input.Signers
	if signers < 1 {
		signers = 1
	}

	balance, err := a.submitter.CheckFunds(ctx, a.payer.PublicKey(), input.Lamports, signers)
	result = &CheckFundsResult{
		Payer:      a.payer.String(),
		Network:    a.network,
		Balance:    balance,
		Sufficient: err == nil,
	}
	if errors.Is(err, solana.ErrInsufficientFunds) {
		msg := err.Error()
		result.Error = &msg
		a.logger.WarnContext(ctx, "insufficient funds for transfer",
			"payer", a.payer,
			"balance", balance,
			"lamports", input.Lamports,
		)
		return result, nil
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to check funds",
			"payer", a.payer,
			"error", err,
		)
		return nil, fmt.Errorf("failed to check funds: %w", err)
	}

	a.logger.DebugContext(ctx, "funds sufficient",
		"payer", a.payer,
		"balance", balance,
	)
	return result, nil
}

// SubmitTransfer builds, signs and submits the transfer, then journals and
// publishes the outcome. It must never be retried: a second attempt could
// move funds twice.
func (a *Activities) SubmitTransfer(ctx context.Context, input SubmitTransferInput) (result *SubmitTransferResult, err error) {
	start := time.Now()
	defer func() { a.record("SubmitTransfer", start, err) }()

	level, err := solana.ParseConfirmationLevel(input.Level)
	if err != nil {
		return a.failedSubmission(ctx, input, solana.LevelConfirmed, err), nil
	}

	recipient, err := solana.ParseAddress(input.Recipient)
	if err != nil {
		return a.failedSubmission(ctx, input, level, err), nil
	}

	instructions := []solanago.Instruction{
		solana.TransferSOL(a.payer.PublicKey(), recipient, input.Lamports),
	}
	if input.Memo != "" {
		instructions = append(instructions, solana.Memo(input.Memo, a.payer.PublicKey()))
	}

	a.logger.InfoContext(ctx, "submitting transfer",
		"payer", a.payer,
		"recipient", recipient.String(),
		"lamports", input.Lamports,
		"level", level.String(),
	)

	res, submitErr := a.submitter.Submit(ctx, solana.SubmitRequest{
		Instructions: instructions,
		Payer:        a.payer,
		Signers:      []*solana.Identity{a.payer},
		Level:        level,
	})
	a.journal(ctx, input, level, res, submitErr)

	if submitErr != nil {
		if solana.KindOf(submitErr) == "" {
			return nil, fmt.Errorf("failed to submit transfer: %w", submitErr)
		}
		msg := submitErr.Error()
		result = &SubmitTransferResult{
			Signature: solana.SignatureOf(submitErr),
			Level:     level.String(),
			Network:   a.network,
			ErrorKind: string(solana.KindOf(submitErr)),
			Error:     &msg,
		}
		if result.Signature != "" {
			result.Link = solana.ExplorerLink(solana.LinkTransaction, result.Signature, a.network)
		}
		return result, nil
	}

	return &SubmitTransferResult{
		Signature: res.Signature,
		Level:     res.Status,
		Slot:      res.Slot,
		Network:   a.network,
		Link:      res.Link,
	}, nil
}

func (a *Activities) failedSubmission(ctx context.Context, input SubmitTransferInput, level solana.ConfirmationLevel, err error) *SubmitTransferResult {
	a.journal(ctx, input, level, nil, err)
	msg := err.Error()
	return &SubmitTransferResult{
		Network:   a.network,
		ErrorKind: string(solana.KindOf(err)),
		Error:     &msg,
	}
}

// journal records the submission outcome. Failures here are logged only; the
// ledger outcome is what the workflow reports.
func (a *Activities) journal(ctx context.Context, input SubmitTransferInput, level solana.ConfirmationLevel, res *solana.SubmissionResult, err error) {
	payer := a.payer.String()

	if a.store != nil {
		params := db.SubmissionParams("transfer", a.network, payer, level, res, err)
		if _, jerr := a.store.CreateSubmission(ctx, params); jerr != nil {
			a.logger.WarnContext(ctx, "failed to journal submission",
				"signature", params.Signature,
				"error", jerr,
			)
		}
	}

	if a.publisher != nil {
		event := natspkg.ReceiptFromResult("transfer", a.network, payer, level, res, err)
		event.Recipient = input.Recipient
		event.Amount = input.Lamports
		if perr := a.publisher.PublishReceipt(ctx, event); perr != nil {
			a.logger.WarnContext(ctx, "failed to publish receipt",
				"signature", event.Signature,
				"error", perr,
			)
		}
	}
}

// ResolveSignature re-queries a signature whose confirmation was not observed
// and records the answer. Network errors are returned so the activity is retried.
func (a *Activities) ResolveSignature(ctx context.Context, input ResolveSignatureInput) (result *ResolveSignatureResult, err error) {
	start := time.Now()
	defer func() { a.record("ResolveSignature", start, err) }()

	required, err := solana.ParseConfirmationLevel(input.Level)
	if err != nil {
		required = solana.LevelConfirmed
	}

	status, err := a.submitter.Status(ctx, input.Signature)
	if err != nil {
		if errors.Is(err, solana.ErrConfiguration) {
			msg := err.Error()
			return &ResolveSignatureResult{Status: TransferUnknown, Error: &msg}, nil
		}
		a.logger.ErrorContext(ctx, "failed to resolve signature",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to resolve signature: %w", err)
	}

	result = &ResolveSignatureResult{
		Found: status.Found,
		Level: status.Status,
		Slot:  status.Slot,
		Error: status.Err,
	}
	switch {
	case !status.Found:
		result.Status = TransferUnknown
	case status.Err != nil:
		result.Status = TransferFailed
	case status.Level.Satisfies(required):
		result.Status = TransferConfirmed
	default:
		result.Status = TransferUnknown
	}

	if a.metrics != nil {
		a.metrics.RecordSignatureResolve(a.network, result.Status)
	}

	a.logger.InfoContext(ctx, "resolved signature",
		"signature", input.Signature,
		"found", status.Found,
		"status", result.Status,
	)

	if a.store != nil && result.Status != TransferUnknown {
		var slot *int64
		if status.Slot > 0 {
			s := int64(status.Slot)
			slot = &s
		}
		journalStatus := db.StatusFromSignature(status)
		if _, jerr := a.store.UpdateSubmissionStatus(ctx, input.Signature, journalStatus, slot, status.Err); jerr != nil {
			a.logger.WarnContext(ctx, "failed to update journal",
				"signature", input.Signature,
				"error", jerr,
			)
		}
	}

	return result, nil
}
