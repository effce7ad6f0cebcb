package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TransactionDetails is a landed transaction decoded locally: the value it
// moved and the memo it carried.
type TransactionDetails struct {
	Signature string     `json:"signature"`
	Found     bool       `json:"found"`
	Slot      uint64     `json:"slot,omitempty"`
	BlockTime *time.Time `json:"block_time,omitempty"`
	Fee       uint64     `json:"fee,omitempty"`
	Transfers []Transfer `json:"transfers,omitempty"`
	Memo      string     `json:"memo,omitempty"`
	Err       *string    `json:"error,omitempty"`
	Link      string     `json:"link"`
}

// Details fetches a transaction by signature and decodes its transfers and
// memo. An unknown signature is reported with Found false, not an error.
func (s *Submitter) Details(ctx context.Context, signature string) (*TransactionDetails, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, configError("details", "malformed signature", err)
	}

	out := &TransactionDetails{
		Signature: signature,
		Link:      ExplorerLink(LinkTransaction, signature, s.client.Network()),
	}

	res, err := s.client.transaction(ctx, sig)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Transaction == nil)) {
		return out, nil
	}
	if err != nil {
		return nil, networkError("details", err)
	}

	tx, err := DecodeTransaction(res.Transaction.GetBinary())
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "details", Signature: signature, Reason: "undecodable transaction", Err: err}
	}
	transfers, err := DecodeTransfers(tx)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "details", Signature: signature, Reason: "undecodable instructions", Err: err}
	}

	out.Found = true
	out.Slot = res.Slot
	out.Transfers = transfers
	if memo, ok := DecodeMemo(tx); ok {
		out.Memo = memo
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time().UTC()
		out.BlockTime = &t
	}
	if res.Meta != nil {
		out.Fee = res.Meta.Fee
		if res.Meta.Err != nil {
			msg := fmt.Sprintf("%v", res.Meta.Err)
			out.Err = &msg
		}
	}
	return out, nil
}
