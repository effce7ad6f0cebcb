package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Program IDs not exported by solana-go.
var (
	// MemoProgramID is the SPL Memo program (v2).
	MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the v1 memo program.
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	// Token2022ProgramID is the Token Extensions program. Its transfer
	// instructions share the SPL token layout.
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// System Program instruction types
const (
	systemProgramTransferInstruction = uint32(2)
)

// TransferKind distinguishes the decoded value movements.
type TransferKind string

const (
	TransferKindSOL          TransferKind = "sol"
	TransferKindToken        TransferKind = "token"
	TransferKindTokenChecked TransferKind = "token_checked"
	TransferKindMint         TransferKind = "mint"
)

// Transfer is one value movement decoded from a transaction.
// For token transfers From and To are token accounts, not wallets.
type Transfer struct {
	Kind      TransferKind      `json:"kind"`
	From      solana.PublicKey  `json:"from"`
	To        solana.PublicKey  `json:"to"`
	Amount    uint64            `json:"amount"`
	Mint      *solana.PublicKey `json:"mint,omitempty"`
	Decimals  *uint8            `json:"decimals,omitempty"`
	Authority *solana.PublicKey `json:"authority,omitempty"`
}

// Memo builds an SPL memo instruction. Each signer must sign the transaction.
func Memo(text string, signers ...solana.PublicKey) solana.Instruction {
	accounts := make(solana.AccountMetaSlice, 0, len(signers))
	for _, s := range signers {
		accounts = append(accounts, solana.Meta(s).SIGNER())
	}
	return solana.NewInstruction(MemoProgramID, accounts, []byte(text))
}

// DecodeTransaction parses a wire-format transaction, as returned base64
// encoded by the RPC service. The first account key is the fee payer, so a
// message without account keys is rejected.
func DecodeTransaction(data []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("failed to decode transaction: message has no account keys")
	}
	return tx, nil
}

// DecodeTransactionBase64 is DecodeTransaction for base64 input.
func DecodeTransactionBase64(s string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 transaction: %w", err)
	}
	return DecodeTransaction(data)
}

// DecodeTransfers extracts SOL transfers and SPL token transfers and mints
// from a transaction, in instruction order. Instructions of other programs and
// unrecognized instruction types are skipped.
func DecodeTransfers(tx *solana.Transaction) ([]Transfer, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction is nil")
	}
	keys := tx.Message.AccountKeys

	var out []Transfer
	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("instruction %d: program index %d out of bounds", i, inst.ProgramIDIndex)
		}
		programID := keys[inst.ProgramIDIndex]

		accounts := make([]solana.PublicKey, len(inst.Accounts))
		for j, idx := range inst.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("instruction %d: account index %d out of bounds", i, idx)
			}
			accounts[j] = keys[idx]
		}

		var (
			t   *Transfer
			err error
		)
		switch {
		case programID.Equals(solana.SystemProgramID):
			t, err = parseSystemTransfer(inst.Data, accounts)
		case programID.Equals(solana.TokenProgramID) || programID.Equals(Token2022ProgramID):
			t, err = parseTokenTransfer(inst.Data, accounts)
		}
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

// DecodeMemo returns the first memo carried by the transaction, if any.
func DecodeMemo(tx *solana.Transaction) (string, bool) {
	if tx == nil {
		return "", false
	}
	keys := tx.Message.AccountKeys
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			continue
		}
		programID := keys[inst.ProgramIDIndex]
		if programID.Equals(MemoProgramID) || programID.Equals(MemoProgramIDLegacy) {
			return parseMemo(inst.Data), true
		}
	}
	return "", false
}

// parseSystemTransfer decodes a System Program Transfer.
// Returns nil for other system instructions.
func parseSystemTransfer(data []byte, accounts []solana.PublicKey) (*Transfer, error) {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	if len(data) < 4 || binary.LittleEndian.Uint32(data[0:4]) != systemProgramTransferInstruction {
		return nil, nil
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("transfer instruction data too short: %d bytes", len(data))
	}
	if len(accounts) < 2 {
		return nil, fmt.Errorf("transfer instruction missing accounts")
	}
	return &Transfer{
		Kind:   TransferKindSOL,
		From:   accounts[0],
		To:     accounts[1],
		Amount: binary.LittleEndian.Uint64(data[4:12]),
	}, nil
}

// parseTokenTransfer decodes Transfer, TransferChecked and MintTo.
// Returns nil for other token instructions.
func parseTokenTransfer(data []byte, accounts []solana.PublicKey) (*Transfer, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case tokenInstructionTransfer:
		// [0] type, [1..9] amount; accounts: source, destination, authority
		if len(data) < 9 {
			return nil, fmt.Errorf("transfer instruction data too short")
		}
		if len(accounts) < 3 {
			return nil, fmt.Errorf("transfer missing accounts")
		}
		authority := accounts[2]
		return &Transfer{
			Kind:      TransferKindToken,
			From:      accounts[0],
			To:        accounts[1],
			Amount:    binary.LittleEndian.Uint64(data[1:9]),
			Authority: &authority,
		}, nil

	case tokenInstructionTransferChecked:
		// [0] type, [1..9] amount, [9] decimals
		// accounts: source, mint, destination, authority
		if len(data) < 10 {
			return nil, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(accounts) < 4 {
			return nil, fmt.Errorf("transferChecked missing accounts")
		}
		mint, authority, decimals := accounts[1], accounts[3], data[9]
		return &Transfer{
			Kind:      TransferKindTokenChecked,
			From:      accounts[0],
			To:        accounts[2],
			Amount:    binary.LittleEndian.Uint64(data[1:9]),
			Mint:      &mint,
			Decimals:  &decimals,
			Authority: &authority,
		}, nil

	case tokenInstructionMintTo:
		// [0] type, [1..9] amount; accounts: mint, destination, authority
		if len(data) < 9 {
			return nil, fmt.Errorf("mintTo instruction data too short")
		}
		if len(accounts) < 3 {
			return nil, fmt.Errorf("mintTo missing accounts")
		}
		mint, authority := accounts[0], accounts[2]
		return &Transfer{
			Kind:      TransferKindMint,
			From:      mint,
			To:        accounts[1],
			Amount:    binary.LittleEndian.Uint64(data[1:9]),
			Mint:      &mint,
			Authority: &authority,
		}, nil

	default:
		return nil, nil
	}
}

// parseMemo returns memo text exactly as written. Memos that are not valid
// UTF-8 are returned base64 encoded.
func parseMemo(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}
