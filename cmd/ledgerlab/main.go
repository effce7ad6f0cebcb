package main

import (
	"fmt"
	"os"

	"github.com/brojonat/ledgerlab/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ledgerlab",
		Usage: "Signed transaction submission against a Solana test cluster",
		Description: `Each command composes one transaction, signs it with the configured identity,
submits it and waits for the requested confirmation level.

The identity's secret key is read from the environment variable named by
--secret-key-var (SECRET_KEY by default). A .env file in the working directory
is loaded first if present.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before: func(c *cli.Context) error {
			return config.LoadDotEnv(c.String("env-file"))
		},
		Commands: []*cli.Command{
			balanceCommand(),
			airdropCommand(),
			transferCommand(),
			{
				Name:  "token",
				Usage: "SPL token commands",
				Subcommands: []*cli.Command{
					createMintCommand(),
					mintTokensCommand(),
					transferTokenCommand(),
				},
			},
			{
				Name:  "nft",
				Usage: "NFT asset upload and creation commands",
				Subcommands: []*cli.Command{
					uploadImageCommand(),
					uploadMetadataCommand(),
					createNFTCommand(),
				},
			},
			{
				Name:  "tx",
				Usage: "Transaction inspection commands",
				Subcommands: []*cli.Command{
					txStatusCommand(),
					txDecodeCommand(),
				},
			},
			{
				Name:  "journal",
				Usage: "Submission journal commands",
				Subcommands: []*cli.Command{
					journalListCommand(),
					journalGetCommand(),
					journalResolveCommand(),
				},
			},
			{
				Name:  "receipts",
				Usage: "Submission receipt streaming commands",
				Subcommands: []*cli.Command{
					watchReceiptsCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Durable transfer workflow commands",
				Subcommands: []*cli.Command{
					temporalTransferCommand(),
				},
			},
			apiCommands(),
		},
		// Global flags available to all commands. Each mirrors an environment
		// variable read by config.Load; a flag set on the command line wins.
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Optional dotenv file loaded before reading configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Cluster name: devnet, testnet, mainnet-beta or localnet",
				EnvVars: []string{"SOLANA_NETWORK"},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "RPC endpoint overriding the cluster's public one",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "commitment",
				Usage:   "Confirmation level to wait for: submitted, confirmed or finalized",
				EnvVars: []string{"COMMITMENT"},
			},
			&cli.DurationFlag{
				Name:    "confirm-timeout",
				Usage:   "How long to wait for confirmation before reporting a timeout",
				EnvVars: []string{"CONFIRM_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "secret-key-var",
				Usage:   "Name of the environment variable holding the secret key",
				EnvVars: []string{"SECRET_KEY_VAR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn or error",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL of the submission journal (optional)",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS URL receipts are published to (optional)",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address while the command runs",
				EnvVars: []string{"METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
