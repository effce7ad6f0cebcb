package main

import (
	"fmt"
	"os"
	"path/filepath"

	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/nft"
	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/brojonat/ledgerlab/service/upload"
	"github.com/urfave/cli/v2"
)

func uploadImageCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload-image",
		Usage:     "Upload an image and print its URI",
		ArgsUsage: "[PATH]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "content-type",
				Usage: "Content type (default: detected from the file)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: image path")
			}
			path := c.Args().First()
			if path == "" {
				path = "./rug.png"
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			signer, err := r.identity()
			if err != nil {
				return err
			}
			up, err := r.uploader(signer)
			if err != nil {
				return err
			}

			r.printf("🕣 Uploading image...\n")
			uris, err := up.Upload(c.Context, upload.File{
				Name:        filepath.Base(path),
				ContentType: c.String("content-type"),
				Data:        data,
			})
			if err != nil {
				return fmt.Errorf("failed to upload image: %w", err)
			}

			if r.json {
				return r.outputJSON(map[string]string{"uri": uris[0]})
			}
			r.printf("✅ Done with URI: %s\n", uris[0])
			return nil
		},
	}
}

func uploadMetadataCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload-metadata",
		Usage:     "Render an NFT definition as token metadata JSON and upload it",
		ArgsUsage: "[DEFINITION]",
		Description: `Reads a YAML definition (name, symbol, description, image, attributes,
seller_fee_basis_points, files) and uploads the rendered metadata document.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "image",
				Usage: "Image URI, overriding the definition's",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Print the rendered document without uploading",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: definition file")
			}
			path := c.Args().First()
			if path == "" {
				path = "./nft.yaml"
			}

			def, err := nft.LoadDefinition(path)
			if err != nil {
				return err
			}
			if image := c.String("image"); image != "" {
				def.Image = image
			}
			md, err := def.Metadata()
			if err != nil {
				return fmt.Errorf("invalid definition %s: %w", path, err)
			}

			if c.Bool("dry-run") {
				return outputJSON(c.App.Writer, md)
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			signer, err := r.identity()
			if err != nil {
				return err
			}
			up, err := r.uploader(signer)
			if err != nil {
				return err
			}

			uri, err := up.UploadJSON(c.Context, md)
			if err != nil {
				return fmt.Errorf("failed to upload metadata: %w", err)
			}

			if r.json {
				return r.outputJSON(map[string]string{"uri": uri})
			}
			r.printf("✅ Done with URI: %s\n", uri)
			return nil
		},
	}
}

func createNFTCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a one-of-one NFT pointing at an uploaded metadata document",
		ArgsUsage: "METADATA_URI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "definition",
				Usage: "YAML definition supplying name, symbol and seller fee",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Token name, overriding the definition's",
			},
			&cli.StringFlag{
				Name:  "symbol",
				Usage: "Token symbol, overriding the definition's",
			},
			&cli.UintFlag{
				Name:  "seller-fee-bps",
				Usage: "Secondary sale royalty in basis points",
				Value: solana.MaxSellerFeeBasisPoints,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: metadata URI")
			}
			if c.Uint("seller-fee-bps") > solana.MaxSellerFeeBasisPoints {
				return fmt.Errorf("--seller-fee-bps must be at most %d", solana.MaxSellerFeeBasisPoints)
			}

			def := &nft.Definition{SellerFeeBasisPoints: uint16(c.Uint("seller-fee-bps"))}
			if path := c.String("definition"); path != "" {
				loaded, err := nft.LoadDefinition(path)
				if err != nil {
					return err
				}
				def = loaded
				if c.IsSet("seller-fee-bps") {
					def.SellerFeeBasisPoints = uint16(c.Uint("seller-fee-bps"))
				}
			}
			if c.IsSet("name") {
				def.Name = c.String("name")
			}
			if c.IsSet("symbol") {
				def.Symbol = c.String("symbol")
			}

			md, err := def.TokenMetadata(c.Args().First())
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

			var maxSupply uint64
			ixs, err := solana.CreateNFTInstructions(solana.NFTRequest{
				Payer:     payer.PublicKey(),
				Mint:      mint.PublicKey(),
				Owner:     payer.PublicKey(),
				Metadata:  md,
				MaxSupply: &maxSupply,
			}, rent)
			if err != nil {
				return err
			}

			r.printf("🕣 Creating NFT %q...\n", md.Name)
			res, err := r.submit(c.Context, "nft", solana.SubmitRequest{
				Instructions: ixs,
				Payer:        payer,
				Signers:      []*solana.Identity{payer, mint},
			}, func(e *natspkg.ReceiptEvent) {
				e.Mint = mint.String()
				e.Recipient = payer.String()
				e.Amount = 1
			})
			if err != nil {
				return fmt.Errorf("failed to create NFT: %w", err)
			}

			link := solana.ExplorerLink(solana.LinkAddress, mint.String(), r.network.Name)
			if r.json {
				return r.outputJSON(map[string]interface{}{
					"mint":      mint.String(),
					"signature": res.Signature,
					"uri":       md.URI,
					"link":      link,
				})
			}
			r.printf("✅ Created NFT, signature: %s\n", res.Signature)
			r.printf("Mint: %s\n", link)
			return nil
		},
	}
}
