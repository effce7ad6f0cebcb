package solana

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
)

// ConfirmationLevel is the durability guarantee requested for a submitted
// transaction. Levels are ordered from least to most durable.
type ConfirmationLevel int

const (
	// LevelProcessed is reached once a node has processed the transaction.
	// This is the "submitted" tier.
	LevelProcessed ConfirmationLevel = iota + 1
	LevelConfirmed
	LevelFinalized
)

// ParseConfirmationLevel accepts "processed" (or "submitted"), "confirmed" and "finalized".
func ParseConfirmationLevel(s string) (ConfirmationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processed", "submitted":
		return LevelProcessed, nil
	case "confirmed", "":
		return LevelConfirmed, nil
	case "finalized", "finalised":
		return LevelFinalized, nil
	default:
		return 0, configError("parse confirmation level", fmt.Sprintf("unknown confirmation level %q", s), nil)
	}
}

func (l ConfirmationLevel) String() string {
	switch l {
	case LevelProcessed:
		return "processed"
	case LevelConfirmed:
		return "confirmed"
	case LevelFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Valid reports whether l is one of the defined levels.
func (l ConfirmationLevel) Valid() bool {
	return l >= LevelProcessed && l <= LevelFinalized
}

// Satisfies reports whether l is at least as durable as required.
func (l ConfirmationLevel) Satisfies(required ConfirmationLevel) bool {
	return l.Valid() && l >= required
}

// Commitment maps the level to the RPC commitment used for preflight and queries.
func (l ConfirmationLevel) Commitment() rpc.CommitmentType {
	switch l {
	case LevelProcessed:
		return rpc.CommitmentProcessed
	case LevelFinalized:
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// levelFromStatus converts a signature status to a level. A status with no
// confirmation status and no confirmation count has been rooted.
func levelFromStatus(status *rpc.SignatureStatusesResult) ConfirmationLevel {
	if status == nil {
		return 0
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusProcessed:
		return LevelProcessed
	case rpc.ConfirmationStatusConfirmed:
		return LevelConfirmed
	case rpc.ConfirmationStatusFinalized:
		return LevelFinalized
	}
	if status.Confirmations == nil {
		return LevelFinalized
	}
	return LevelProcessed
}
