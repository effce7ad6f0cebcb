package nats

import (
	"time"

	"github.com/brojonat/ledgerlab/service/solana"
)

// ReceiptEvent is published once per submission, whatever the outcome.
// It goes to the subject "submissions.{network}.{kind}" in JetStream.
type ReceiptEvent struct {
	// Submission identifiers
	Signature string `json:"signature,omitempty"` // empty if nothing was sent
	Network   string `json:"network"`
	Kind      string `json:"kind"`
	Payer     string `json:"payer"`

	// Outcome
	Level     string `json:"level"`
	Status    string `json:"status"` // confirmation level reached, "failed" or "unknown"
	Slot      uint64 `json:"slot,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Link      string `json:"link,omitempty"`

	// Transfer details, when the submission moved value
	Recipient string `json:"recipient,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Mint      string `json:"mint,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject the event is published to.
func (e *ReceiptEvent) Subject() string {
	return SubjectFor(e.Network, e.Kind)
}

// ReceiptFromResult converts the outcome of one Submit call into a receipt.
// Exactly one of res and err is expected to be non-nil.
func ReceiptFromResult(kind, network, payer string, level solana.ConfirmationLevel, res *solana.SubmissionResult, err error) *ReceiptEvent {
	event := &ReceiptEvent{
		Network:     network,
		Kind:        kind,
		Payer:       payer,
		Level:       level.String(),
		PublishedAt: time.Now().UTC(),
	}

	if err == nil && res != nil {
		event.Signature = res.Signature
		event.Status = res.Status
		event.Slot = res.Slot
		event.Link = res.Link
		return event
	}

	event.Status = "failed"
	if err != nil {
		event.ErrorKind = string(solana.KindOf(err))
		event.Error = err.Error()
		event.Signature = solana.SignatureOf(err)
		if solana.Unresolved(err) {
			event.Status = "unknown"
		}
	}
	if event.Signature != "" {
		event.Link = solana.ExplorerLink(solana.LinkTransaction, event.Signature, network)
	}
	return event
}
