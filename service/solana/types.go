package solana

import (
	"github.com/gagliardetto/solana-go"
)

// SubmitRequest is the input to Submitter.Submit.
type SubmitRequest struct {
	// Instructions are composed, in order, into a single transaction.
	Instructions []solana.Instruction

	// Payer pays the network fee. It must also appear in Signers.
	Payer *Identity

	// Signers must cover every account flagged as a signer by the instructions.
	Signers []*Identity

	// Level is the confirmation to wait for. Zero means LevelConfirmed.
	Level ConfirmationLevel
}

// SubmissionResult describes a transaction that reached the requested level.
type SubmissionResult struct {
	Signature string            `json:"signature"`
	Level     ConfirmationLevel `json:"-"`
	Status    string            `json:"confirmation_status"`
	Slot      uint64            `json:"slot"`
	Network   string            `json:"network"`
	Link      string            `json:"link"`
}

// SignatureStatus is the answer to a re-query by signature.
type SignatureStatus struct {
	Signature string            `json:"signature"`
	Found     bool              `json:"found"`
	Level     ConfirmationLevel `json:"-"`
	Status    string            `json:"confirmation_status,omitempty"`
	Slot      uint64            `json:"slot,omitempty"`
	Err       *string           `json:"error,omitempty"` // nil if the transaction succeeded
	Link      string            `json:"link"`
}
