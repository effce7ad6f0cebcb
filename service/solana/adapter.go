package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// This adapter allows us to control the interface and makes testing easier.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://devnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.solana-devnet.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) GetBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetBalanceResult, error) {
	return r.client.GetBalance(ctx, account, commitment)
}

func (r *realRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	return r.client.GetLatestBlockhash(ctx, commitment)
}

func (r *realRPCClient) SendTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	return r.client.SendTransactionWithOpts(ctx, tx, opts)
}

func (r *realRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	signatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	return r.client.GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.client.GetTransaction(ctx, signature, opts)
}

func (r *realRPCClient) GetAccountInfo(
	ctx context.Context,
	account solana.PublicKey,
) (*rpc.GetAccountInfoResult, error) {
	return r.client.GetAccountInfo(ctx, account)
}

func (r *realRPCClient) GetMinimumBalanceForRentExemption(
	ctx context.Context,
	dataSize uint64,
	commitment rpc.CommitmentType,
) (uint64, error) {
	return r.client.GetMinimumBalanceForRentExemption(ctx, dataSize, commitment)
}

func (r *realRPCClient) RequestAirdrop(
	ctx context.Context,
	account solana.PublicKey,
	lamports uint64,
	commitment rpc.CommitmentType,
) (solana.Signature, error) {
	return r.client.RequestAirdrop(ctx, account, lamports, commitment)
}
