package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

// mockLedger implements RPCClient as a tiny in-memory ledger.
// It's behavior-focused: sent transactions must be fully signed, SOL transfers
// move balances and the fee payer is charged per signature.
type mockLedger struct {
	mu sync.Mutex

	balances map[solana.PublicKey]uint64
	accounts map[solana.PublicKey]bool
	fee      uint64
	rent     uint64

	// status is returned for every sent signature; nil means unknown to the node.
	status *rpc.SignatureStatusesResult

	blockhashErr error
	sendErr      error
	statusErr    error
	balanceErr   error

	sent      []*solana.Transaction
	attempted []*solana.Transaction
	calls     int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances: make(map[solana.PublicKey]uint64),
		accounts: make(map[solana.PublicKey]bool),
		fee:      DefaultLamportsPerSignature,
		rent:     1461600,
		status:   confirmedStatus(42),
	}
}

func confirmedStatus(slot uint64) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{
		Slot:               slot,
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}
}

func (m *mockLedger) setStatus(s *rpc.SignatureStatusesResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func (m *mockLedger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockLedger) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockLedger) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return &rpc.GetBalanceResult{Value: m.balances[account]}, nil
}

func (m *mockLedger) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            solana.HashFromBytes(make([]byte, 32)),
			LastValidBlockHeight: 1000,
		},
	}, nil
}

func (m *mockLedger) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.attempted = append(m.attempted, tx)
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("transaction is not signed")
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, err
	}

	transfers, err := DecodeTransfers(tx)
	if err != nil {
		return solana.Signature{}, err
	}
	payer := tx.Message.AccountKeys[0]
	m.balances[payer] -= m.fee * uint64(len(tx.Signatures))
	for _, t := range transfers {
		if t.Kind != TransferKindSOL {
			continue
		}
		m.balances[t.From] -= t.Amount
		m.balances[t.To] += t.Amount
	}

	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockLedger) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	out := &rpc.GetSignatureStatusesResult{}
	for range signatures {
		out.Value = append(out.Value, m.status)
	}
	return out, nil
}

// GetTransaction serves sent transactions back in base64, the way the node
// answers getTransaction with base64 encoding.
func (m *mockLedger) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	for _, tx := range m.sent {
		if !tx.Signatures[0].Equals(signature) {
			continue
		}
		data, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		raw := fmt.Sprintf(`{"slot":42,"blockTime":1700000000,"transaction":[%q,"base64"],"meta":{"fee":%d,"err":null}}`,
			base64.StdEncoding.EncodeToString(data), m.fee*uint64(len(tx.Signatures)))
		var res rpc.GetTransactionResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	return nil, rpc.ErrNotFound
}

func (m *mockLedger) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if !m.accounts[account] {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: solana.TokenProgramID}}, nil
}

func (m *mockLedger) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.rent, nil
}

func (m *mockLedger) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64, commitment rpc.CommitmentType) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.balances[account] += lamports
	var sig solana.Signature
	copy(sig[:], account[:])
	return sig, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSubmitter(ledger *mockLedger) *Submitter {
	client := NewClient(ledger, "devnet", nil, discardLogger())
	return NewSubmitter(client, SubmitterConfig{
		ConfirmTimeout: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}, nil, discardLogger())
}

func newTestIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := GenerateIdentity()
	require.NoError(t, err)
	return id
}
