package solana

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// MintAccountSize is the on-chain size of an SPL token mint.
const MintAccountSize = 82

// SPL token instruction tags.
const (
	tokenInstructionTransfer        = 3
	tokenInstructionMintTo          = 7
	tokenInstructionTransferChecked = 12
	tokenInstructionInitializeMint2 = 20
)

// ParseAddress decodes a base58 account address.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, configError("parse address", "address is empty", nil)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, configError("parse address", fmt.Sprintf("invalid address %q", s), err)
	}
	return pk, nil
}

// ParseAmount converts a decimal amount such as "0.5" to base units with the
// given number of decimals, without going through floating point.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	s = strings.TrimSpace(s)
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, configError("parse amount", fmt.Sprintf("invalid amount %q", s), nil)
	}
	if r.Sign() <= 0 {
		return 0, configError("parse amount", "amount must be positive", nil)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return 0, configError("parse amount",
			fmt.Sprintf("amount %q has more than %d decimal places", s, decimals), nil)
	}
	n := r.Num()
	if !n.IsUint64() {
		return 0, configError("parse amount", fmt.Sprintf("amount %q is too large", s), nil)
	}
	return n.Uint64(), nil
}

// ParseSOL converts a SOL amount to lamports.
func ParseSOL(s string) (uint64, error) {
	return ParseAmount(s, 9)
}

// FormatAmount renders base units as a decimal string, trimming trailing zeros.
func FormatAmount(amount uint64, decimals uint8) string {
	r := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(amount),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil),
	)
	out := r.FloatString(int(decimals))
	if strings.Contains(out, ".") {
		out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	}
	return out
}

// FormatSOL renders lamports as SOL.
func FormatSOL(lamports uint64) string {
	return FormatAmount(lamports, 9)
}

// TransferSOL moves lamports between two system accounts. from must sign.
func TransferSOL(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// CreateMintInstructions allocates a rent-exempt mint account owned by the
// token program and initializes it. Both payer and mint must sign. A nil
// freezeAuthority leaves the mint without one.
func CreateMintInstructions(payer, mint, mintAuthority solana.PublicKey, freezeAuthority *solana.PublicKey, decimals uint8, rentLamports uint64) []solana.Instruction {
	return []solana.Instruction{
		system.NewCreateAccountInstruction(
			rentLamports,
			MintAccountSize,
			solana.TokenProgramID,
			payer,
			mint,
		).Build(),
		InitializeMint2(mint, mintAuthority, freezeAuthority, decimals),
	}
}

// InitializeMint2 initializes a mint without requiring the rent sysvar account.
func InitializeMint2(mint, mintAuthority solana.PublicKey, freezeAuthority *solana.PublicKey, decimals uint8) solana.Instruction {
	data := make([]byte, 0, 67)
	data = append(data, tokenInstructionInitializeMint2, decimals)
	data = append(data, mintAuthority.Bytes()...)
	if freezeAuthority == nil {
		data = append(data, 0)
	} else {
		data = append(data, 1)
		data = append(data, freezeAuthority.Bytes()...)
	}
	return solana.NewInstruction(
		solana.TokenProgramID,
		solana.AccountMetaSlice{solana.Meta(mint).WRITE()},
		data,
	)
}

// MintTo mints amount base units into destination. authority must sign.
func MintTo(mint, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	return token.NewMintToInstruction(amount, mint, destination, authority, nil).Build()
}

// TransferChecked moves tokens between token accounts, asserting the mint and
// its decimals. owner must sign.
func TransferChecked(source, mint, destination, owner solana.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	return token.NewTransferCheckedInstruction(amount, decimals, source, mint, destination, owner, nil).Build()
}

// AssociatedTokenAddress derives the canonical token account of owner for mint.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, configError("derive token account", "failed to derive associated token address", err)
	}
	return addr, nil
}

// CreateAssociatedTokenAccount creates owner's associated token account for
// mint, paid for by payer.
func CreateAssociatedTokenAccount(payer, owner, mint solana.PublicKey) solana.Instruction {
	return associatedtokenaccount.NewCreateInstruction(payer, owner, mint).Build()
}

// AssociatedTokenAccount returns owner's associated token account for mint and,
// when it does not exist yet, the instruction that creates it. Callers prepend
// the instruction to the same transaction that first uses the account.
func (c *Client) AssociatedTokenAccount(ctx context.Context, payer, owner, mint solana.PublicKey) (solana.PublicKey, solana.Instruction, error) {
	addr, err := AssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	exists, err := c.AccountExists(ctx, addr)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	if exists {
		return addr, nil, nil
	}
	c.logger.DebugContext(ctx, "associated token account missing, will create",
		"owner", owner.String(),
		"mint", mint.String(),
		"account", addr.String(),
	)
	return addr, CreateAssociatedTokenAccount(payer, owner, mint), nil
}
