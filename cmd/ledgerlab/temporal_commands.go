package main

import (
	"fmt"

	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/brojonat/ledgerlab/service/temporal"
	"github.com/urfave/cli/v2"
)

func temporalTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Run a SOL transfer as a durable workflow on the worker",
		ArgsUsage: "RECIPIENT",
		Description: `Starts a TransferWorkflow on the configured task queue. The worker checks its
identity's balance, submits the transfer once and, if confirmation is not
observed in time, re-queries the signature after --resolve-delay.`,
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
			&cli.StringFlag{
				Name:  "id",
				Usage: "Workflow ID; reusing one makes the request idempotent (default: generated)",
			},
			&cli.DurationFlag{
				Name:  "resolve-delay",
				Usage: "Wait before re-querying an unconfirmed signature",
				Value: temporal.DefaultResolveDelay,
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the workflow completes and print its result",
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

			tc, err := temporal.NewClient(
				r.cfg.TemporalHost,
				r.cfg.TemporalNamespace,
				r.cfg.TemporalTaskQueue,
				r.metrics,
				r.logger,
			)
			if err != nil {
				return err
			}
			defer tc.Close()

			input := temporal.TransferInput{
				Recipient:    recipient.String(),
				Lamports:     lamports,
				Memo:         c.String("memo"),
				Level:        r.level.String(),
				ResolveDelay: c.Duration("resolve-delay"),
			}

			if !c.Bool("wait") {
				run, existing, err := tc.StartTransfer(c.Context, c.String("id"), input)
				if err != nil {
					return err
				}
				if r.json {
					return r.outputJSON(map[string]interface{}{
						"workflow_id": run.GetID(),
						"run_id":      run.GetRunID(),
						"existing":    existing,
					})
				}
				if existing {
					r.printf("Workflow %s already exists (run %s); not started again\n", run.GetID(), run.GetRunID())
					return nil
				}
				r.printf("✅ Workflow started: %s (run %s)\n", run.GetID(), run.GetRunID())
				return nil
			}

			result, err := tc.ExecuteTransfer(c.Context, c.String("id"), input)
			if err != nil {
				return err
			}
			if r.json {
				return r.outputJSON(result)
			}

			r.printf("Status:    %s\n", result.Status)
			r.printf("Signature: %s\n", orNone(result.Signature))
			if result.Link != "" {
				r.printf("Link:      %s\n", result.Link)
			}
			if result.Error != nil {
				r.printf("Error:     %s: %s\n", result.ErrorKind, *result.Error)
			}
			if result.Status != temporal.TransferConfirmed {
				return fmt.Errorf("transfer %s", result.Status)
			}
			return nil
		},
	}
}
