package solana

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_TransferHalfSOL(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)

	sender := newTestIdentity(t)
	recipient := newTestIdentity(t).PublicKey()
	ledger.balances[sender.PublicKey()] = 1 * LamportsPerSOL

	amount, err := ParseSOL("0.5")
	require.NoError(t, err)

	_, err = s.CheckFunds(ctx, sender.PublicKey(), amount, 1)
	require.NoError(t, err)

	res, err := s.Submit(ctx, SubmitRequest{
		Instructions: []solana.Instruction{TransferSOL(sender.PublicKey(), recipient, amount)},
		Payer:        sender,
		Signers:      []*Identity{sender},
		Level:        LevelConfirmed,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, LevelConfirmed, res.Level)
	assert.Equal(t, "confirmed", res.Status)
	assert.Equal(t, uint64(42), res.Slot)
	assert.Equal(t, "devnet", res.Network)
	assert.Equal(t, "https://explorer.solana.com/tx/"+res.Signature+"?cluster=devnet", res.Link)

	senderBalance, err := s.Client().GetBalance(ctx, sender.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, 1*LamportsPerSOL-500_000_000-DefaultLamportsPerSignature, senderBalance)

	recipientBalance, err := s.Client().GetBalance(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000_000), recipientBalance)
}

func TestCheckFunds_Insufficient(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)

	sender := newTestIdentity(t)
	// Exactly the amount, nothing left for the fee.
	ledger.balances[sender.PublicKey()] = 500_000_000

	balance, err := s.CheckFunds(ctx, sender.PublicKey(), 500_000_000, 1)
	require.Error(t, err)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Equal(t, uint64(500_000_000), balance)
	assert.Equal(t, 0, ledger.sentCount())
}

func TestCheckFunds_FeeScalesWithSigners(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)

	owner := newTestIdentity(t).PublicKey()
	ledger.balances[owner] = 1000 + 2*DefaultLamportsPerSignature

	_, err := s.CheckFunds(ctx, owner, 1000, 2)
	assert.NoError(t, err)

	_, err = s.CheckFunds(ctx, owner, 1000, 3)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
}

func TestSubmit_MalformedRecipient(t *testing.T) {
	ledger := newMockLedger()

	_, err := ParseAddress("not-a-valid-address!")
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 0, ledger.callCount())
}

func TestSubmit_ZeroInstructions(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)

	_, err := s.Submit(context.Background(), SubmitRequest{
		Payer:   payer,
		Signers: []*Identity{payer},
	})
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 0, ledger.callCount(), "no RPC call should be made")
}

func TestSubmit_MissingSigner(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)
	mint := newTestIdentity(t)

	// The new mint account must sign CreateAccount but is left out.
	ixs := CreateMintInstructions(payer.PublicKey(), mint.PublicKey(), payer.PublicKey(), nil, 9, 1461600)

	_, err := s.Submit(context.Background(), SubmitRequest{
		Instructions: ixs,
		Payer:        payer,
		Signers:      []*Identity{payer},
	})
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Contains(t, err.Error(), mint.PublicKey().String())
	assert.Equal(t, 0, ledger.callCount())
}

func TestSubmit_PayerMustSign(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)
	other := newTestIdentity(t)

	_, err := s.Submit(context.Background(), SubmitRequest{
		Instructions: []solana.Instruction{TransferSOL(other.PublicKey(), payer.PublicKey(), 1)},
		Payer:        payer,
		Signers:      []*Identity{other},
	})
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 0, ledger.callCount())
}

func TestSubmit_NilPayerAndBadLevel(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	id := newTestIdentity(t)
	ix := TransferSOL(id.PublicKey(), id.PublicKey(), 1)

	_, err := s.Submit(context.Background(), SubmitRequest{Instructions: []solana.Instruction{ix}})
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = s.Submit(context.Background(), SubmitRequest{
		Instructions: []solana.Instruction{ix},
		Payer:        id,
		Signers:      []*Identity{id},
		Level:        ConfirmationLevel(9),
	})
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 0, ledger.callCount())
}

func TestSubmit_MultipleSigners(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)
	mint := newTestIdentity(t)

	res, err := s.Submit(context.Background(), SubmitRequest{
		Instructions: CreateMintInstructions(payer.PublicKey(), mint.PublicKey(), payer.PublicKey(), nil, 9, 1461600),
		Payer:        payer,
		Signers:      []*Identity{payer, mint},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Signature)

	require.Equal(t, 1, ledger.sentCount())
	sent := ledger.sent[0]
	assert.Len(t, sent.Signatures, 2)
	assert.True(t, sent.Message.AccountKeys[0].Equals(payer.PublicKey()), "payer pays the fee")
}

func TestSubmit_PreflightRejected(t *testing.T) {
	ledger := newMockLedger()
	ledger.sendErr = &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: Attempt to debit an account but found no record of a prior credit.",
	}
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)

	_, err := s.Submit(context.Background(), SubmitRequest{
		Instructions: []solana.Instruction{TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1)},
		Payer:        payer,
		Signers:      []*Identity{payer},
	})
	require.Error(t, err)
	assert.Equal(t, KindSubmission, KindOf(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Reason, "no record of a prior credit")
}

func TestSubmit_TransportFailures(t *testing.T) {
	payer := newTestIdentity(t)
	ix := TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1)
	req := SubmitRequest{Instructions: []solana.Instruction{ix}, Payer: payer, Signers: []*Identity{payer}}

	t.Run("blockhash", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.blockhashErr = errors.New("connection refused")
		_, err := newTestSubmitter(ledger).Submit(context.Background(), req)
		assert.Equal(t, KindNetwork, KindOf(err))
		assert.Equal(t, 0, ledger.sentCount())
	})

	t.Run("send", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.sendErr = errors.New("connection reset by peer")
		_, err := newTestSubmitter(ledger).Submit(context.Background(), req)
		assert.Equal(t, KindNetwork, KindOf(err))
		require.Len(t, ledger.attempted, 1)
		assert.Equal(t, ledger.attempted[0].Signatures[0].String(), SignatureOf(err),
			"a failed send may still have reached the node")
	})
}

func TestSubmit_SendInterrupted(t *testing.T) {
	payer := newTestIdentity(t)
	ix := TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1)
	req := SubmitRequest{Instructions: []solana.Instruction{ix}, Payer: payer, Signers: []*Identity{payer}}

	t.Run("deadline exceeded", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.sendErr = fmt.Errorf("rpc call sendTransaction(): %w", context.DeadlineExceeded)
		_, err := newTestSubmitter(ledger).Submit(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, KindTimeout, KindOf(err))
		assert.True(t, errors.Is(err, ErrTimeout))
		require.Len(t, ledger.attempted, 1)
		assert.Equal(t, ledger.attempted[0].Signatures[0].String(), SignatureOf(err))
		assert.Equal(t, 0, ledger.sentCount())
	})

	t.Run("caller cancelled", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.sendErr = errors.New("use of closed network connection")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestSubmitter(ledger).Submit(ctx, req)
		require.Error(t, err)
		assert.Equal(t, KindTimeout, KindOf(err))
		assert.NotEmpty(t, SignatureOf(err))
	})
}

func TestCheckFunds_AmountOverflow(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	owner := newTestIdentity(t).PublicKey()
	ledger.balances[owner] = LamportsPerSOL

	_, err := s.CheckFunds(context.Background(), owner, math.MaxUint64-1000, 1)
	require.Error(t, err)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))

	_, err = s.CheckFunds(context.Background(), owner, math.MaxUint64, 2)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
	assert.Equal(t, 0, ledger.sentCount())
}

func TestSubmit_OnChainFailure(t *testing.T) {
	ledger := newMockLedger()
	ledger.status = &rpc.SignatureStatusesResult{
		Slot:               7,
		Err:                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)

	_, err := s.Submit(context.Background(), SubmitRequest{
		Instructions: []solana.Instruction{TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1)},
		Payer:        payer,
		Signers:      []*Identity{payer},
	})
	require.Error(t, err)
	assert.Equal(t, KindSubmission, KindOf(err))
	assert.NotEmpty(t, SignatureOf(err))
}

func TestSubmit_TimeoutThenRequery(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	ledger.status = nil // never observed during the wait
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)
	ledger.balances[payer.PublicKey()] = LamportsPerSOL

	start := time.Now()
	_, err := s.Submit(ctx, SubmitRequest{
		Instructions: []solana.Instruction{TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1000)},
		Payer:        payer,
		Signers:      []*Identity{payer},
	})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 1, ledger.sentCount(), "timeout must not resubmit")

	sig := SignatureOf(err)
	require.NotEmpty(t, sig)
	assert.Equal(t, ledger.sent[0].Signatures[0].String(), sig)

	// Unknown to the node so far.
	status, err := s.Status(ctx, sig)
	require.NoError(t, err)
	assert.False(t, status.Found)

	// The transaction landed after all.
	ledger.setStatus(&rpc.SignatureStatusesResult{Slot: 99, ConfirmationStatus: rpc.ConfirmationStatusFinalized})
	status, err = s.Status(ctx, sig)
	require.NoError(t, err)
	assert.True(t, status.Found)
	assert.Equal(t, LevelFinalized, status.Level)
	assert.Equal(t, "finalized", status.Status)
	assert.Equal(t, uint64(99), status.Slot)
	assert.Nil(t, status.Err)

	// Or it was rejected.
	ledger.setStatus(&rpc.SignatureStatusesResult{Slot: 99, Err: "InsufficientFundsForRent", ConfirmationStatus: rpc.ConfirmationStatusConfirmed})
	status, err = s.Status(ctx, sig)
	require.NoError(t, err)
	require.NotNil(t, status.Err)
	assert.Contains(t, *status.Err, "InsufficientFundsForRent")
	assert.Equal(t, 1, ledger.sentCount())
}

func TestSubmit_WaitsForRequestedLevel(t *testing.T) {
	ledger := newMockLedger()
	ledger.status = &rpc.SignatureStatusesResult{Slot: 5, ConfirmationStatus: rpc.ConfirmationStatusProcessed}
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)
	ix := TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1)

	res, err := s.Submit(context.Background(), SubmitRequest{
		Instructions: []solana.Instruction{ix},
		Payer:        payer,
		Signers:      []*Identity{payer},
		Level:        LevelProcessed,
	})
	require.NoError(t, err)
	assert.Equal(t, "processed", res.Status)

	_, err = s.Submit(context.Background(), SubmitRequest{
		Instructions: []solana.Instruction{ix},
		Payer:        payer,
		Signers:      []*Identity{payer},
		Level:        LevelFinalized,
	})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestSubmit_ContextCancelledDuringWait(t *testing.T) {
	ledger := newMockLedger()
	ledger.status = nil
	s := newTestSubmitter(ledger)
	payer := newTestIdentity(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, SubmitRequest{
		Instructions: []solana.Instruction{TransferSOL(payer.PublicKey(), newTestIdentity(t).PublicKey(), 1)},
		Payer:        payer,
		Signers:      []*Identity{payer},
	})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.NotEmpty(t, SignatureOf(err))
}

func TestStatus_MalformedSignature(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)

	_, err := s.Status(context.Background(), "zzz")
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 0, ledger.callCount())
}

func TestAirdropIfRequired(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)
	owner := newTestIdentity(t).PublicKey()

	balance, res, err := s.AirdropIfRequired(ctx, owner, LamportsPerSOL, LamportsPerSOL/2)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, LamportsPerSOL, balance)

	balance, res, err = s.AirdropIfRequired(ctx, owner, LamportsPerSOL, LamportsPerSOL/2)
	require.NoError(t, err)
	assert.Nil(t, res, "balance already above minimum")
	assert.Equal(t, LamportsPerSOL, balance)
}

func TestAirdrop_ZeroAmount(t *testing.T) {
	ledger := newMockLedger()
	s := newTestSubmitter(ledger)

	_, err := s.Airdrop(context.Background(), newTestIdentity(t).PublicKey(), 0, LevelConfirmed)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Equal(t, 0, ledger.callCount())
}

func TestAssociatedTokenAccount_CreatesWhenMissing(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	client := NewClient(ledger, "devnet", nil, discardLogger())

	payer := newTestIdentity(t).PublicKey()
	mint := newTestIdentity(t).PublicKey()

	addr, ix, err := client.AssociatedTokenAccount(ctx, payer, payer, mint)
	require.NoError(t, err)
	require.NotNil(t, ix)
	assert.True(t, ix.ProgramID().Equals(solana.SPLAssociatedTokenAccountProgramID))

	ledger.accounts[addr] = true
	again, ix, err := client.AssociatedTokenAccount(ctx, payer, payer, mint)
	require.NoError(t, err)
	assert.Nil(t, ix)
	assert.Equal(t, addr, again)
}
