package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/ledgerlab/service/solana"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultResolveDelay is how long TransferWorkflow waits before re-querying a
// signature whose confirmation was not observed.
const DefaultResolveDelay = 30 * time.Second

// TransferWorkflow moves SOL from the worker's identity to a recipient.
//
// The workflow performs these steps:
// 1. Check the payer's balance covers amount plus fee (CheckFunds, retried)
// 2. Submit the transfer once (SubmitTransfer, never retried)
// 3. If the outcome of the signed transaction is unknown (confirmation timeout or
//    a failed send), wait and re-query the signature (ResolveSignature)
//
// A timed-out submission is never resubmitted. If the re-query cannot find the
// signature the result status stays "unknown".
func TransferWorkflow(ctx workflow.Context, input TransferInput) (*TransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("TransferWorkflow started",
		"recipient", input.Recipient,
		"lamports", input.Lamports,
	)

	level := input.Level
	if level == "" {
		level = solana.LevelConfirmed.String()
	}
	result := &TransferResult{Level: level}

	readOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	readCtx := workflow.WithActivityOptions(ctx, readOptions)

	// Step 1: balance check
	var funds *CheckFundsResult
	err := workflow.ExecuteActivity(readCtx, a.CheckFunds, CheckFundsInput{
		Lamports: input.Lamports,
		Signers:  1,
	}).Get(ctx, &funds)
	if err != nil {
		return nil, fmt.Errorf("failed to check funds: %w", err)
	}
	if !funds.Sufficient {
		result.Status = TransferFailed
		result.Network = funds.Network
		result.ErrorKind = string(solana.KindInsufficientFunds)
		result.Error = funds.Error
		logger.Warn("TransferWorkflow stopped: insufficient funds",
			"payer", funds.Payer,
			"balance", funds.Balance,
		)
		return result, nil
	}

	// Step 2: submit exactly once
	submitOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	submitCtx := workflow.WithActivityOptions(ctx, submitOptions)

	var submitted *SubmitTransferResult
	err = workflow.ExecuteActivity(submitCtx, a.SubmitTransfer, SubmitTransferInput{
		Recipient: input.Recipient,
		Lamports:  input.Lamports,
		Memo:      input.Memo,
		Level:     level,
	}).Get(ctx, &submitted)
	if err != nil {
		return nil, fmt.Errorf("failed to submit transfer: %w", err)
	}

	result.Signature = submitted.Signature
	result.Network = submitted.Network
	result.Link = submitted.Link
	result.Slot = submitted.Slot
	result.ErrorKind = submitted.ErrorKind
	result.Error = submitted.Error

	switch {
	case submitted.ErrorKind == "":
		result.Status = TransferConfirmed
		result.Level = submitted.Level
		logger.Info("TransferWorkflow completed", "signature", submitted.Signature)
		return result, nil
	case !unresolved(submitted):
		result.Status = TransferFailed
		logger.Warn("TransferWorkflow failed",
			"error_kind", submitted.ErrorKind,
			"signature", submitted.Signature,
		)
		return result, nil
	}

	// Step 3: the outcome is ambiguous; re-query after a delay
	result.Status = TransferUnknown
	delay := input.ResolveDelay
	if delay <= 0 {
		delay = DefaultResolveDelay
	}
	logger.Info("confirmation not observed, resolving signature",
		"signature", submitted.Signature,
		"delay", delay,
	)
	if err := workflow.Sleep(ctx, delay); err != nil {
		return result, err
	}

	var resolved *ResolveSignatureResult
	err = workflow.ExecuteActivity(readCtx, a.ResolveSignature, ResolveSignatureInput{
		Signature: submitted.Signature,
		Level:     level,
	}).Get(ctx, &resolved)
	if err != nil {
		// The signature is still the answer; callers can re-query later.
		logger.Warn("failed to resolve signature", "signature", submitted.Signature, "error", err)
		return result, nil
	}

	result.Resolved = true
	result.Status = resolved.Status
	if resolved.Slot > 0 {
		result.Slot = resolved.Slot
	}
	if resolved.Level != "" {
		result.Level = resolved.Level
	}
	switch resolved.Status {
	case TransferConfirmed:
		result.ErrorKind = ""
		result.Error = nil
	case TransferFailed:
		result.ErrorKind = string(solana.KindSubmission)
		result.Error = resolved.Error
	}

	logger.Info("TransferWorkflow resolved",
		"signature", submitted.Signature,
		"status", result.Status,
	)
	return result, nil
}

// unresolved reports whether a submission left a signed transaction whose
// fate is unknown and must be re-queried.
func unresolved(r *SubmitTransferResult) bool {
	if r.Signature == "" {
		return false
	}
	return r.ErrorKind == string(solana.KindTimeout) || r.ErrorKind == string(solana.KindNetwork)
}
