package main

import (
	"fmt"
	"strconv"
	"time"

	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Print the SOL balance of an address or of the identity",
		ArgsUsage: "[ADDRESS]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "airdrop",
				Usage: "Request 1 SOL first if the balance is below 1 SOL",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: address")
			}

			if addr := c.Args().First(); addr != "" {
				if _, err := solana.ParseAddress(addr); err != nil {
					return err
				}
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			owner, err := targetAddress(r, c.Args().First())
			if err != nil {
				return err
			}

			var (
				lamports uint64
				airdrop  *solana.SubmissionResult
			)
			if c.Bool("airdrop") {
				lamports, airdrop, err = r.submitter.AirdropIfRequired(c.Context, owner, solana.LamportsPerSOL, solana.LamportsPerSOL)
				if airdrop != nil || err != nil {
					r.record(c.Context, "airdrop", owner.String(), solana.LevelConfirmed, airdrop, err, nil)
				}
			} else {
				lamports, err = r.client.GetBalance(c.Context, owner)
			}
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if r.json {
				out := map[string]interface{}{
					"address":  owner.String(),
					"network":  r.network.Name,
					"lamports": lamports,
					"sol":      solana.FormatSOL(lamports),
				}
				if airdrop != nil {
					out["airdrop_signature"] = airdrop.Signature
				}
				return r.outputJSON(out)
			}

			if airdrop != nil {
				r.printf("💸 Airdrop confirmed: %s\n", airdrop.Link)
			}
			r.printf("%s has balance %s\n", owner.String(), r.balance(lamports))
			return nil
		},
	}
}

func airdropCommand() *cli.Command {
	return &cli.Command{
		Name:      "airdrop",
		Usage:     "Request lamports from the cluster faucet and wait for the credit",
		ArgsUsage: "[LAMPORTS]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Account to credit (default: the identity)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: lamports")
			}

			lamports := solana.LamportsPerSOL
			if c.NArg() == 1 {
				n, err := strconv.ParseUint(c.Args().First(), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid lamports %q: %w", c.Args().First(), err)
				}
				lamports = n
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			owner, err := targetAddress(r, c.String("address"))
			if err != nil {
				return err
			}

			res, err := r.submitter.Airdrop(c.Context, owner, lamports, r.level)
			r.record(c.Context, "airdrop", owner.String(), r.level, res, err, func(e *natspkg.ReceiptEvent) {
				e.Recipient = owner.String()
				e.Amount = lamports
			})
			if err != nil {
				return fmt.Errorf("airdrop failed: %w", err)
			}

			if r.json {
				return r.outputJSON(res)
			}
			r.printf("✅ Airdropped %s to %s\n", r.balance(lamports), owner.String())
			r.printf("Signature: %s\n", res.Signature)
			r.printf("Link:      %s\n", res.Link)
			return nil
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Send SOL from the identity to a recipient",
		ArgsUsage: "RECIPIENT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount in SOL",
				Value: "0.5",
			},
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Attach a memo instruction to the transfer",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: recipient address")
			}

			recipient, err := solana.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}
			lamports, err := solana.ParseSOL(c.String("amount"))
			if err != nil {
				return err
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			payer, err := r.identity()
			if err != nil {
				return err
			}

			if _, err := r.submitter.CheckFunds(c.Context, payer.PublicKey(), lamports, 1); err != nil {
				r.record(c.Context, "transfer", payer.String(), r.level, nil, err, nil)
				return err
			}

			ixs := []solanago.Instruction{solana.TransferSOL(payer.PublicKey(), recipient, lamports)}
			if memo := c.String("memo"); memo != "" {
				ixs = append(ixs, solana.Memo(memo, payer.PublicKey()))
			}

			res, err := r.submit(c.Context, "transfer", solana.SubmitRequest{
				Instructions: ixs,
				Payer:        payer,
				Signers:      []*solana.Identity{payer},
			}, func(e *natspkg.ReceiptEvent) {
				e.Recipient = recipient.String()
				e.Amount = lamports
			})
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}

			// Final balances are informational; a failed lookup does not fail
			// a transfer that already landed.
			senderBalance, serr := r.client.GetBalance(c.Context, payer.PublicKey())
			recipientBalance, rerr := r.client.GetBalance(c.Context, recipient)
			if serr != nil || rerr != nil {
				r.logger.WarnContext(c.Context, "failed to read final balances",
					"sender_error", serr,
					"recipient_error", rerr,
				)
			}

			if r.json {
				out := map[string]interface{}{
					"signature":           res.Signature,
					"confirmation_status": res.Status,
					"slot":                res.Slot,
					"network":             res.Network,
					"link":                res.Link,
					"lamports":            lamports,
				}
				if serr == nil {
					out["sender_balance"] = senderBalance
				}
				if rerr == nil {
					out["recipient_balance"] = recipientBalance
				}
				return r.outputJSON(out)
			}

			r.printf("✅ Transaction confirmed, signature: %s\n", res.Signature)
			r.printf("Sent %s from %s to %s\n", r.balance(lamports), payer.String(), recipient.String())
			if serr == nil {
				r.printf("Sender balance:    %s\n", r.balance(senderBalance))
			}
			if rerr == nil {
				r.printf("Recipient balance: %s\n", r.balance(recipientBalance))
			}
			r.printf("Link: %s\n", res.Link)
			return nil
		},
	}
}

func txStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Re-query a transaction signature",
		ArgsUsage: "SIGNATURE",
		Description: `Looks up a signature in the node's full history. Use it after a submission
timed out: the transaction may still have landed, and it must not be resubmitted.
With --details the landed transaction is fetched and its transfers and memo
are decoded.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "details",
				Aliases: []string{"d"},
				Usage:   "Decode the transfers and memo of the landed transaction",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			if _, err := solanago.SignatureFromBase58(c.Args().First()); err != nil {
				return fmt.Errorf("invalid signature %q: %w", c.Args().First(), err)
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			st, err := r.submitter.Status(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if !c.Bool("details") || !st.Found {
				if r.json {
					return r.outputJSON(st)
				}
				printSignatureStatus(r, st)
				return nil
			}

			details, err := r.submitter.Details(c.Context, st.Signature)
			if err != nil {
				return err
			}
			if r.json {
				return r.outputJSON(map[string]interface{}{
					"status":  st,
					"details": details,
				})
			}
			printSignatureStatus(r, st)
			printDetails(r, details)
			return nil
		},
	}
}

func printDetails(r *runtime, d *solana.TransactionDetails) {
	if !d.Found {
		r.printf("Details:   not available\n")
		return
	}
	if d.BlockTime != nil {
		r.printf("Time:      %s\n", d.BlockTime.Format(time.RFC3339))
	}
	r.printf("Fee:       %s\n", r.balance(d.Fee))
	if d.Memo != "" {
		r.printf("Memo:      %s\n", d.Memo)
	}
	for _, t := range d.Transfers {
		switch t.Kind {
		case solana.TransferKindSOL:
			r.printf("Transfer:  %s SOL %s -> %s\n", solana.FormatSOL(t.Amount), t.From, t.To)
		case solana.TransferKindMint:
			r.printf("Mint:      %d units -> %s\n", t.Amount, t.To)
		default:
			r.printf("Token:     %d units %s -> %s\n", t.Amount, t.From, t.To)
		}
	}
}

func printSignatureStatus(r *runtime, st *solana.SignatureStatus) {
	r.printf("Signature: %s\n", st.Signature)
	switch {
	case !st.Found:
		r.printf("Status:    not found\n")
	case st.Err != nil:
		r.printf("Status:    failed (%s)\n", *st.Err)
		r.printf("Slot:      %d\n", st.Slot)
	default:
		r.printf("Status:    %s\n", st.Status)
		r.printf("Slot:      %d\n", st.Slot)
	}
	r.printf("Link:      %s\n", st.Link)
}

// targetAddress parses addr, or falls back to the identity's address when
// addr is empty.
func targetAddress(r *runtime, addr string) (solanago.PublicKey, error) {
	if addr != "" {
		return solana.ParseAddress(addr)
	}
	id, err := r.identity()
	if err != nil {
		return solanago.PublicKey{}, err
	}
	return id.PublicKey(), nil
}

func txDecodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a base64 wire transaction offline",
		ArgsUsage: "BASE64",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: base64 transaction")
			}

			tx, err := solana.DecodeTransactionBase64(c.Args().First())
			if err != nil {
				return err
			}
			transfers, err := solana.DecodeTransfers(tx)
			if err != nil {
				return err
			}
			memo, _ := solana.DecodeMemo(tx)

			out := c.App.Writer
			if c.Bool("json") {
				var sigs []string
				for _, s := range tx.Signatures {
					sigs = append(sigs, s.String())
				}
				return outputJSON(out, map[string]interface{}{
					"signatures": sigs,
					"fee_payer":  tx.Message.AccountKeys[0].String(),
					"transfers":  transfers,
					"memo":       memo,
				})
			}

			for _, s := range tx.Signatures {
				fmt.Fprintf(out, "Signature: %s\n", s)
			}
			fmt.Fprintf(out, "Fee payer: %s\n", tx.Message.AccountKeys[0])
			if memo != "" {
				fmt.Fprintf(out, "Memo:      %s\n", memo)
			}
			for _, t := range transfers {
				fmt.Fprintf(out, "%-10s %d %s -> %s\n", string(t.Kind)+":", t.Amount, t.From, t.To)
			}
			return nil
		},
	}
}
