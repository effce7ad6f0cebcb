package solana

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
	) (*rpc.GetAccountInfoResult, error)

	GetMinimumBalanceForRentExemption(
		ctx context.Context,
		dataSize uint64,
		commitment rpc.CommitmentType,
	) (uint64, error)

	RequestAirdrop(
		ctx context.Context,
		account solana.PublicKey,
		lamports uint64,
		commitment rpc.CommitmentType,
	) (solana.Signature, error)
}

// Client is the ledger connection handle: balance and account lookups plus the
// raw send/status calls used by the Submitter. Every RPC is timed and recorded.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // network name used for metrics labeling (e.g., "devnet")
	commitment rpc.CommitmentType
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "devnet", "localnet").
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:        rpcClient,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
		commitment: rpc.CommitmentConfirmed,
	}
}

// Network returns the name the client was created for.
func (c *Client) Network() string {
	return c.endpoint
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// GetBalance returns the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	c.record("GetBalance", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get balance",
			"account", account.String(),
			"error", err,
		)
		return 0, networkError("get balance", err)
	}
	if out == nil {
		return 0, nil
	}
	return out.Value, nil
}

// AccountExists reports whether an account has been created on chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		c.record("GetAccountInfo", start, nil)
		return false, nil
	}
	c.record("GetAccountInfo", start, err)
	if err != nil {
		return false, networkError("get account info", err)
	}
	return out != nil && out.Value != nil, nil
}

// MinimumBalanceForRentExemption returns the lamports needed to keep an account
// of the given size alive.
func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	start := time.Now()
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	c.record("GetMinimumBalanceForRentExemption", start, err)
	if err != nil {
		return 0, networkError("get rent exemption", err)
	}
	return lamports, nil
}

func (c *Client) latestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, commitment)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("empty blockhash response")
	}
	return out.Value.Blockhash, nil
}

func (c *Client) sendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, opts)
	c.record("SendTransaction", start, err)
	return sig, err
}

func (c *Client) requestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.RequestAirdrop(ctx, account, lamports, c.commitment)
	c.record("RequestAirdrop", start, err)
	return sig, err
}

// signatureStatus returns nil when the node does not know the signature.
func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, searchHistory, sig)
	c.record("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// transaction fetches a landed transaction in base64 so it can be decoded
// locally. Returns rpc.ErrNotFound if the node does not know the signature.
func (c *Client) transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	start := time.Now()
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	})
	c.record("GetTransaction", start, err)
	return res, err
}
