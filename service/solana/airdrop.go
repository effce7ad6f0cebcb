package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL uint64 = solana.LAMPORTS_PER_SOL

// Airdrop asks the network faucet for lamports and waits for the credit to
// reach level. Only test networks honor airdrops.
func (s *Submitter) Airdrop(ctx context.Context, owner solana.PublicKey, lamports uint64, level ConfirmationLevel) (*SubmissionResult, error) {
	if lamports == 0 {
		return nil, configError("airdrop", "airdrop amount must be positive", nil)
	}
	if level == 0 {
		level = LevelConfirmed
	}
	if !level.Valid() {
		return nil, configError("airdrop", "invalid confirmation level", nil)
	}

	sig, err := s.client.requestAirdrop(ctx, owner, lamports)
	if err != nil {
		return nil, classifySendError(ctx, err, "")
	}
	s.logger.InfoContext(ctx, "airdrop requested",
		"account", owner.String(),
		"lamports", lamports,
		"signature", sig.String(),
	)
	return s.awaitConfirmation(ctx, sig, level)
}

// AirdropIfRequired tops up owner with lamports when its balance is below
// minimum. It returns the balance afterwards and a nil result when no airdrop
// was needed.
func (s *Submitter) AirdropIfRequired(ctx context.Context, owner solana.PublicKey, lamports, minimum uint64) (uint64, *SubmissionResult, error) {
	balance, err := s.client.GetBalance(ctx, owner)
	if err != nil {
		return 0, nil, err
	}
	if balance >= minimum {
		return balance, nil, nil
	}

	res, err := s.Airdrop(ctx, owner, lamports, LevelConfirmed)
	if err != nil {
		return balance, nil, err
	}

	balance, err = s.client.GetBalance(ctx, owner)
	if err != nil {
		return 0, res, err
	}
	return balance, res, nil
}
