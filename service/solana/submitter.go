package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// DefaultLamportsPerSignature is the base network fee charged per signature.
const DefaultLamportsPerSignature uint64 = 5000

// SubmitterConfig tunes the confirmation wait and fee estimate.
type SubmitterConfig struct {
	// ConfirmTimeout bounds the confirmation wait when ctx has no earlier deadline.
	ConfirmTimeout time.Duration

	// PollInterval is the delay between signature status queries.
	PollInterval time.Duration

	// LamportsPerSignature is used by Fee and CheckFunds.
	LamportsPerSignature uint64

	// SkipPreflight disables the node-side simulation before broadcast.
	SkipPreflight bool
}

// Submitter is the transaction submission workflow: compose, sign, send,
// and wait for confirmation. It never retries. It holds no mutable state and
// is safe for concurrent use.
type Submitter struct {
	client  *Client
	cfg     SubmitterConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter. Zero config values take defaults
// (60s timeout, 500ms polling, 5000 lamports per signature).
func NewSubmitter(client *Client, cfg SubmitterConfig, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LamportsPerSignature == 0 {
		cfg.LamportsPerSignature = DefaultLamportsPerSignature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "submitter"),
	}
}

// Client returns the connection handle the submitter sends through.
func (s *Submitter) Client() *Client {
	return s.client
}

// Fee estimates the network fee for a transaction with numSigners signatures.
func (s *Submitter) Fee(numSigners int) uint64 {
	if numSigners < 1 {
		numSigners = 1
	}
	return s.cfg.LamportsPerSignature * uint64(numSigners)
}

// CheckFunds verifies owner can pay lamports plus the fee for numSigners
// signatures. It returns the observed balance. Callers run it before Submit;
// Submit itself does not re-derive fees.
func (s *Submitter) CheckFunds(ctx context.Context, owner solana.PublicKey, lamports uint64, numSigners int) (uint64, error) {
	balance, err := s.client.GetBalance(ctx, owner)
	if err != nil {
		return 0, err
	}
	fee := s.Fee(numSigners)
	if lamports > math.MaxUint64-fee {
		return balance, &Error{
			Kind:   KindInsufficientFunds,
			Op:     "check funds",
			Reason: fmt.Sprintf("amount %d lamports plus fee %d exceeds any possible balance", lamports, fee),
		}
	}
	if balance < lamports+fee {
		return balance, &Error{
			Kind: KindInsufficientFunds,
			Op:   "check funds",
			Reason: fmt.Sprintf("balance %d lamports is below required %d (amount %d + fee %d)",
				balance, lamports+fee, lamports, fee),
		}
	}
	return balance, nil
}

// Submit composes the instructions into one transaction paid for by req.Payer,
// signs it with every signer, sends it and blocks until the transaction reaches
// req.Level. All validation happens before the first network call.
//
// Failures are *Error values. A TimeoutError carries the signature: the
// transaction may still land, so re-query with Status rather than resubmitting.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmissionResult, error) {
	start := time.Now()
	result, err := s.submit(ctx, req)
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
		}
		s.metrics.RecordSubmission(s.client.Network(), outcome, time.Since(start).Seconds())
	}
	return result, err
}

func (s *Submitter) submit(ctx context.Context, req SubmitRequest) (*SubmissionResult, error) {
	level := req.Level
	if level == 0 {
		level = LevelConfirmed
	}

	signers, err := validateRequest(req, level)
	if err != nil {
		s.logger.WarnContext(ctx, "rejected submission", "error", err)
		return nil, err
	}

	blockhash, err := s.client.latestBlockhash(ctx, level.Commitment())
	if err != nil {
		return nil, networkError("get latest blockhash", err)
	}

	tx, err := solana.NewTransaction(req.Instructions, blockhash, solana.TransactionPayer(req.Payer.PublicKey()))
	if err != nil {
		return nil, configError("compose", "failed to compose transaction", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if id, ok := signers[key]; ok {
			return id.privateKey()
		}
		return nil
	}); err != nil {
		return nil, configError("sign", "failed to sign transaction", err)
	}

	s.logger.DebugContext(ctx, "sending transaction",
		"payer", req.Payer,
		"instructions", len(req.Instructions),
		"signers", len(tx.Signatures),
		"level", level.String(),
	)

	// The first signature identifies the transaction before it leaves.
	sig := tx.Signatures[0]
	if _, err := s.client.sendTransaction(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       s.cfg.SkipPreflight,
		PreflightCommitment: level.Commitment(),
	}); err != nil {
		sendErr := classifySendError(ctx, err, sig.String())
		s.logger.WarnContext(ctx, "send failed",
			"signature", sig.String(),
			"kind", sendErr.Kind,
			"error", err,
		)
		return nil, sendErr
	}

	s.logger.InfoContext(ctx, "transaction sent, awaiting confirmation",
		"signature", sig.String(),
		"level", level.String(),
	)

	return s.awaitConfirmation(ctx, sig, level)
}

// validateRequest enforces the pre-network invariants and returns the signer
// set keyed by public key.
func validateRequest(req SubmitRequest, level ConfirmationLevel) (map[solana.PublicKey]*Identity, error) {
	const op = "validate"

	if len(req.Instructions) == 0 {
		return nil, configError(op, "transaction must carry at least one instruction", nil)
	}
	if req.Payer == nil {
		return nil, configError(op, "payer identity is required", nil)
	}
	if !level.Valid() {
		return nil, configError(op, fmt.Sprintf("invalid confirmation level %d", level), nil)
	}

	signers := make(map[solana.PublicKey]*Identity, len(req.Signers))
	for _, id := range req.Signers {
		if id == nil {
			return nil, configError(op, "signer set contains a nil identity", nil)
		}
		signers[id.PublicKey()] = id
	}
	if _, ok := signers[req.Payer.PublicKey()]; !ok {
		return nil, configError(op, "signer set must include the payer", nil)
	}

	for i, inst := range req.Instructions {
		if inst == nil {
			return nil, configError(op, fmt.Sprintf("instruction %d is nil", i), nil)
		}
		for _, meta := range inst.Accounts() {
			if meta == nil || !meta.IsSigner {
				continue
			}
			if _, ok := signers[meta.PublicKey]; !ok {
				return nil, configError(op,
					fmt.Sprintf("instruction %d requires a signature from %s", i, meta.PublicKey), nil)
			}
		}
	}
	return signers, nil
}

// classifySendError separates ledger rejections (JSON-RPC errors, which include
// preflight simulation failures) from transport failures. Once signed the
// transaction may have reached the node, so every class carries the signature
// and a cancelled or expired ctx is reported as a timeout.
func classifySendError(ctx context.Context, err error, signature string) *Error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return &Error{Kind: KindSubmission, Op: "send", Signature: signature, Reason: rpcErr.Message, Err: err}
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{
			Kind:      KindTimeout,
			Op:        "send",
			Signature: signature,
			Reason:    "send interrupted; outcome unknown, re-query the signature",
			Err:       err,
		}
	}
	return &Error{Kind: KindNetwork, Op: "send", Signature: signature, Err: err}
}

func (s *Submitter) awaitConfirmation(ctx context.Context, sig solana.Signature, level ConfirmationLevel) (*SubmissionResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordConfirmationWait(s.client.Network(), level.String(), time.Since(start).Seconds())
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, err := s.client.signatureStatus(waitCtx, sig, false)
		switch {
		case err != nil:
			// Status polling is read-only; keep trying until the window closes.
			lastErr = err
			s.logger.DebugContext(ctx, "signature status query failed",
				"signature", sig.String(),
				"error", err,
			)
		case status != nil && status.Err != nil:
			return nil, &Error{
				Kind:      KindSubmission,
				Op:        "confirm",
				Signature: sig.String(),
				Reason:    fmt.Sprintf("transaction failed on chain: %v", status.Err),
			}
		case status != nil:
			reached := levelFromStatus(status)
			if reached.Satisfies(level) {
				s.logger.InfoContext(ctx, "transaction confirmed",
					"signature", sig.String(),
					"level", reached.String(),
					"slot", status.Slot,
				)
				return &SubmissionResult{
					Signature: sig.String(),
					Level:     reached,
					Status:    reached.String(),
					Slot:      status.Slot,
					Network:   s.client.Network(),
					Link:      ExplorerLink(LinkTransaction, sig.String(), s.client.Network()),
				}, nil
			}
		}

		select {
		case <-waitCtx.Done():
			s.logger.WarnContext(ctx, "confirmation not observed in time",
				"signature", sig.String(),
				"level", level.String(),
				"waited", time.Since(start).String(),
			)
			cause := lastErr
			if cause == nil {
				cause = waitCtx.Err()
			}
			return nil, &Error{
				Kind:      KindTimeout,
				Op:        "confirm",
				Signature: sig.String(),
				Reason:    fmt.Sprintf("%s not reached; outcome unknown, re-query the signature", level),
				Err:       cause,
			}
		case <-ticker.C:
		}
	}
}

// Status re-queries a signature independently of any submission, searching the
// node's full transaction history. Use it to resolve a TimeoutError.
func (s *Submitter) Status(ctx context.Context, signature string) (*SignatureStatus, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, configError("status", "malformed signature", err)
	}

	status, err := s.client.signatureStatus(ctx, sig, true)
	if err != nil {
		return nil, networkError("status", err)
	}

	out := &SignatureStatus{
		Signature: signature,
		Link:      ExplorerLink(LinkTransaction, signature, s.client.Network()),
	}
	if status == nil {
		return out, nil
	}

	out.Found = true
	out.Slot = status.Slot
	out.Level = levelFromStatus(status)
	out.Status = out.Level.String()
	if status.Err != nil {
		msg := fmt.Sprintf("%v", status.Err)
		out.Err = &msg
	}
	return out, nil
}
