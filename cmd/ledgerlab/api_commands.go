package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgerlab/client"
	"github.com/urfave/cli/v2"
)

func serverFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"LEDGERLAB_SERVER_URL"},
	}
}

func apiClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server"), &http.Client{Timeout: 30 * time.Second}, logger)
}

func apiCommands() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Talk to a running ledgerlab server over HTTP",
		Subcommands: []*cli.Command{
			apiSubmissionsCommand(),
			apiTransferCommand(),
			apiTransferStatusCommand(),
			apiAwaitReceiptCommand(),
		},
	}
}

func apiSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "submissions",
		Usage:     "List journaled submissions, or show one by signature",
		ArgsUsage: "[SIGNATURE]",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{Name: "network", Usage: "Only this network"},
			&cli.StringFlag{Name: "kind", Usage: "Only this kind, e.g. transfer or mint"},
			&cli.StringFlag{Name: "status", Usage: "Only this status"},
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum entries"},
		},
		Action: func(c *cli.Context) error {
			cl := apiClient(c)
			out := c.App.Writer

			if c.NArg() > 0 {
				sub, err := cl.GetSubmission(c.Context, c.Args().First())
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(out, sub)
				}
				fmt.Fprintf(out, "Signature: %s\n", orNone(sub.Signature))
				fmt.Fprintf(out, "Kind:      %s\n", sub.Kind)
				fmt.Fprintf(out, "Network:   %s\n", sub.Network)
				fmt.Fprintf(out, "Status:    %s\n", sub.Status)
				if sub.Error != nil {
					fmt.Fprintf(out, "Error:     %s\n", *sub.Error)
				}
				return nil
			}

			subs, err := cl.ListSubmissions(c.Context, client.ListFilter{
				Network: c.String("network"),
				Kind:    c.String("kind"),
				Status:  c.String("status"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(out, subs)
			}
			printAPISubmissions(out, subs)
			return nil
		},
	}
}

func printAPISubmissions(out io.Writer, subs []*client.Submission) {
	if len(subs) == 0 {
		fmt.Fprintln(out, "No submissions.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tNETWORK\tKIND\tSTATUS\tSIGNATURE")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.CreatedAt.Format(time.RFC3339), s.Network, s.Kind, s.Status, orNone(s.Signature))
	}
	tw.Flush()
}

func apiTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Ask the server to run a SOL transfer workflow",
		ArgsUsage: "RECIPIENT",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{Name: "amount", Value: "0.5", Usage: "Amount in SOL"},
			&cli.StringFlag{Name: "memo", Usage: "Attach a memo instruction"},
			&cli.StringFlag{Name: "level", Usage: "Confirmation level (default: the server's)"},
			&cli.StringFlag{Name: "id", Usage: "Idempotency key for the workflow"},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Poll until the workflow completes"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "How long --wait polls"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: recipient address")
			}

			cl := apiClient(c)
			started, err := cl.StartTransfer(c.Context, client.TransferRequest{
				Recipient: c.Args().First(),
				Amount:    c.String("amount"),
				Memo:      c.String("memo"),
				Level:     c.String("level"),
				ID:        c.String("id"),
			})
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(c.App.Writer, started)
				}
				if started.Existing {
					fmt.Fprintf(c.App.Writer, "Workflow %s already exists (run %s); not started again\n", started.WorkflowID, started.RunID)
					return nil
				}
				fmt.Fprintf(c.App.Writer, "Started workflow %s (run %s)\n", started.WorkflowID, started.RunID)
				return nil
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			status, err := cl.AwaitTransfer(ctx, started.WorkflowID, 2*time.Second)
			if err != nil {
				return err
			}
			return printTransferStatus(c, status)
		},
	}
}

func apiTransferStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of a transfer workflow",
		ArgsUsage: "WORKFLOW_ID",
		Flags:     []cli.Flag{serverFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow id")
			}
			status, err := apiClient(c).TransferStatus(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return printTransferStatus(c, status)
		},
	}
}

func printTransferStatus(c *cli.Context, status *client.TransferStatus) error {
	out := c.App.Writer
	if c.Bool("json") {
		return outputJSON(out, status)
	}
	fmt.Fprintf(out, "Workflow: %s\n", status.WorkflowID)
	fmt.Fprintf(out, "State:    %s\n", status.State)
	if res := status.Result; res != nil {
		fmt.Fprintf(out, "Status:   %s\n", res.Status)
		fmt.Fprintf(out, "Signature: %s\n", orNone(res.Signature))
		if res.Link != "" {
			fmt.Fprintf(out, "Explorer: %s\n", res.Link)
		}
		if res.Error != nil {
			fmt.Fprintf(out, "Error:    %s: %s\n", res.ErrorKind, *res.Error)
		}
	}
	return nil
}

func apiAwaitReceiptCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Block until a receipt matching the criteria is published",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.StringFlag{Name: "network", Usage: "Only this network"},
			&cli.StringFlag{Name: "kind", Usage: "Only this kind"},
			&cli.StringFlag{Name: "signature", Usage: "Wait for this exact signature"},
			&cli.StringFlag{Name: "recipient", Usage: "Wait for a receipt paying this recipient"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 5 * time.Minute, Usage: "How long to wait"},
		},
		Action: func(c *cli.Context) error {
			signature := c.String("signature")
			recipient := c.String("recipient")
			if signature == "" && recipient == "" {
				return fmt.Errorf("must specify --signature or --recipient")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			fmt.Fprintf(c.App.ErrWriter, "Waiting for receipt (timeout %v)...\n", c.Duration("timeout"))
			receipt, err := apiClient(c).AwaitReceipt(ctx, c.String("network"), c.String("kind"), func(r *client.Receipt) bool {
				return (signature == "" || r.Signature == signature) &&
					(recipient == "" || r.Recipient == recipient)
			})
			if err != nil {
				return fmt.Errorf("failed to await receipt: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, receipt)
			}
			fmt.Fprintf(c.App.Writer, "✅ %s %s %s %s\n", receipt.Network, receipt.Kind, receipt.Status, orNone(receipt.Signature))
			return nil
		},
	}
}
