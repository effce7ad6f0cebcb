package main

import (
	"fmt"

	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func mintFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "mint",
		Usage:   "Token mint address",
		EnvVars: []string{"MINT_ADDRESS"},
	}
}

func decimalsFlag() cli.Flag {
	return &cli.UintFlag{
		Name:  "decimals",
		Usage: "Token decimals",
		Value: 9,
	}
}

func decimals(c *cli.Context) (uint8, error) {
	d := c.Uint("decimals")
	if d > 18 {
		return 0, fmt.Errorf("decimals must be at most 18, got %d", d)
	}
	return uint8(d), nil
}

func createMintCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-mint",
		Usage: "Create a new token mint with the identity as mint authority",
		Flags: []cli.Flag{
			decimalsFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return fmt.Errorf("takes no arguments")
			}
			dec, err := decimals(c)
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
			mint, err := solana.GenerateIdentity()
			if err != nil {
				return err
			}
			rent, err := r.client.MinimumBalanceForRentExemption(c.Context, solana.MintAccountSize)
			if err != nil {
				return fmt.Errorf("failed to get rent exemption: %w", err)
			}

			ixs := solana.CreateMintInstructions(payer.PublicKey(), mint.PublicKey(), payer.PublicKey(), nil, dec, rent)
			res, err := r.submit(c.Context, "create-mint", solana.SubmitRequest{
				Instructions: ixs,
				Payer:        payer,
				Signers:      []*solana.Identity{payer, mint},
			}, func(e *natspkg.ReceiptEvent) {
				e.Mint = mint.String()
			})
			if err != nil {
				return fmt.Errorf("failed to create mint: %w", err)
			}

			link := solana.ExplorerLink(solana.LinkAddress, mint.String(), r.network.Name)
			if r.json {
				return r.outputJSON(map[string]interface{}{
					"mint":      mint.String(),
					"decimals":  dec,
					"signature": res.Signature,
					"link":      link,
				})
			}
			r.printf("✅ Mint created: %s\n", link)
			return nil
		},
	}
}

func mintTokensCommand() *cli.Command {
	return &cli.Command{
		Name:      "mint",
		Usage:     "Mint tokens into an owner's associated token account",
		ArgsUsage: "[MINT]",
		Flags: []cli.Flag{
			mintFlag(),
			decimalsFlag(),
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount in whole tokens",
				Value: "10",
			},
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Owner of the receiving token account (default: the identity)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: mint address")
			}
			dec, err := decimals(c)
			if err != nil {
				return err
			}

			mint, err := mintAddress(c)
			if err != nil {
				return err
			}
			amount, err := solana.ParseAmount(c.String("amount"), dec)
			if err != nil {
				return err
			}
			var owner solanago.PublicKey
			if c.String("owner") != "" {
				if owner, err = solana.ParseAddress(c.String("owner")); err != nil {
					return err
				}
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
			if owner.IsZero() {
				owner = payer.PublicKey()
			}

			ata, createATA, err := r.client.AssociatedTokenAccount(c.Context, payer.PublicKey(), owner, mint)
			if err != nil {
				return err
			}
			var ixs []solanago.Instruction
			if createATA != nil {
				ixs = append(ixs, createATA)
			}
			ixs = append(ixs, solana.MintTo(mint, ata, payer.PublicKey(), amount))

			res, err := r.submit(c.Context, "mint", solana.SubmitRequest{
				Instructions: ixs,
				Payer:        payer,
				Signers:      []*solana.Identity{payer},
			}, func(e *natspkg.ReceiptEvent) {
				e.Mint = mint.String()
				e.Recipient = ata.String()
				e.Amount = amount
			})
			if err != nil {
				return fmt.Errorf("failed to mint tokens: %w", err)
			}

			if r.json {
				return r.outputJSON(map[string]interface{}{
					"mint":          mint.String(),
					"token_account": ata.String(),
					"amount":        amount,
					"signature":     res.Signature,
					"link":          res.Link,
				})
			}
			r.printf("Minted %s tokens of %s to %s\n", solana.FormatAmount(amount, dec), mint.String(), ata.String())
			r.printf("✅ Done with link: %s\n", res.Link)
			return nil
		},
	}
}

func transferTokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Transfer tokens from the identity to a recipient",
		ArgsUsage: "RECIPIENT",
		Flags: []cli.Flag{
			mintFlag(),
			decimalsFlag(),
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount in whole tokens",
				Value: "1",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: recipient address")
			}
			dec, err := decimals(c)
			if err != nil {
				return err
			}

			recipient, err := solana.ParseAddress(c.Args().First())
			if err != nil {
				return err
			}
			if c.String("mint") == "" {
				return fmt.Errorf("--mint is required (or set MINT_ADDRESS)")
			}
			mint, err := solana.ParseAddress(c.String("mint"))
			if err != nil {
				return err
			}
			amount, err := solana.ParseAmount(c.String("amount"), dec)
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

			source, err := solana.AssociatedTokenAddress(payer.PublicKey(), mint)
			if err != nil {
				return err
			}
			dest, createATA, err := r.client.AssociatedTokenAccount(c.Context, payer.PublicKey(), recipient, mint)
			if err != nil {
				return err
			}
			var ixs []solanago.Instruction
			if createATA != nil {
				ixs = append(ixs, createATA)
			}
			ixs = append(ixs, solana.TransferChecked(source, mint, dest, payer.PublicKey(), amount, dec))

			res, err := r.submit(c.Context, "token-transfer", solana.SubmitRequest{
				Instructions: ixs,
				Payer:        payer,
				Signers:      []*solana.Identity{payer},
			}, func(e *natspkg.ReceiptEvent) {
				e.Mint = mint.String()
				e.Recipient = recipient.String()
				e.Amount = amount
			})
			if err != nil {
				return fmt.Errorf("failed to transfer tokens: %w", err)
			}

			if r.json {
				return r.outputJSON(map[string]interface{}{
					"mint":      mint.String(),
					"source":    source.String(),
					"dest":      dest.String(),
					"amount":    amount,
					"signature": res.Signature,
					"link":      res.Link,
				})
			}
			r.printf("Transferred %s tokens of %s to %s\n", solana.FormatAmount(amount, dec), mint.String(), recipient.String())
			r.printf("✅ Done with link: %s\n", res.Link)
			return nil
		},
	}
}

// mintAddress reads the mint from the first argument or --mint.
func mintAddress(c *cli.Context) (solanago.PublicKey, error) {
	s := c.Args().First()
	if s == "" {
		s = c.String("mint")
	}
	if s == "" {
		return solanago.PublicKey{}, fmt.Errorf("mint address is required (argument, --mint or MINT_ADDRESS)")
	}
	return solana.ParseAddress(s)
}
