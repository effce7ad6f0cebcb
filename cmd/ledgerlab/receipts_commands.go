package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func watchReceiptsCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream submission receipts from NATS JetStream",
		Description: `Receipts are published to the subject submissions.{network}.{kind} whenever a
command or the transfer worker submits a transaction.

Example:
  ledgerlab receipts watch --kind transfer --jq 'select(.status == "failed")'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only receipts of this kind",
			},
			&cli.BoolFlag{
				Name:  "all-networks",
				Usage: "Receipts from every network",
			},
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to each receipt; outputs are printed as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			if r.cfg.NATSURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}
			nc, err := natspkg.Connect(r.cfg.NATSURL, "ledgerlab-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := natspkg.EnsureStream(ctx, js, r.logger); err != nil {
				return err
			}

			opts := natspkg.WatchOptions{
				Kind:    c.String("kind"),
				Durable: c.String("durable"),
			}
			if !c.Bool("all-networks") {
				opts.Network = r.network.Name
			}

			fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", natspkg.SubjectFor(opts.Network, opts.Kind))
			err = natspkg.WatchReceipts(ctx, js, opts, r.logger, func(event *natspkg.ReceiptEvent) error {
				return printReceipt(r, filter, event)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func printReceipt(r *runtime, filter *jqFilter, event *natspkg.ReceiptEvent) error {
	if filter != nil {
		return writeFiltered(r, filter, []*natspkg.ReceiptEvent{event})
	}
	if r.json {
		return r.outputJSON(event)
	}

	sig := event.Signature
	if sig == "" {
		sig = "(not sent)"
	}
	r.printf("[%s] %s %s %s %s\n",
		event.PublishedAt.Format("15:04:05"),
		event.Network,
		event.Kind,
		event.Status,
		sig,
	)
	if event.Error != "" {
		r.printf("    %s: %s\n", event.ErrorKind, event.Error)
	}
	return nil
}

