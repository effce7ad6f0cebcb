package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brojonat/ledgerlab/service/db"
	"github.com/jackc/pgx/v5"
	"github.com/urfave/cli/v2"
)

func journalListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List journaled submissions, most recent first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Filter by kind (transfer, airdrop, create-mint, mint, token-transfer, nft)",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (confirmed, finalized, failed, unknown, ...)",
			},
			&cli.BoolFlag{
				Name:  "all-networks",
				Usage: "Include submissions from every network",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of submissions",
				Value: 50,
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to each submission; outputs are printed as JSON",
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

			store, err := r.journal()
			if err != nil {
				return err
			}

			params := db.ListSubmissionsParams{
				Kind:   c.String("kind"),
				Status: c.String("status"),
				Limit:  int32(c.Int("limit")),
			}
			if !c.Bool("all-networks") {
				params.Network = r.network.Name
			}
			subs, err := store.ListSubmissions(c.Context, params)
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			if filter != nil {
				return writeFiltered(r, filter, subs)
			}
			if r.json {
				return r.outputJSON(subs)
			}

			w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tKIND\tSTATUS\tNETWORK\tSIGNATURE")
			for _, s := range subs {
				sig := s.Signature
				if sig == "" {
					sig = "(not sent)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.CreatedAt.Format(time.RFC3339),
					s.Kind,
					s.Status,
					s.Network,
					sig,
				)
			}
			w.Flush()
			r.printf("\nTotal: %d submissions\n", len(subs))
			return nil
		},
	}
}

func journalGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one journaled submission",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			store, err := r.journal()
			if err != nil {
				return err
			}

			sub, err := store.GetSubmission(c.Context, c.Args().First())
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("signature %s is not in the journal", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get submission: %w", err)
			}

			if r.json {
				return r.outputJSON(sub)
			}
			printSubmission(r, sub)
			return nil
		},
	}
}

func journalResolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Re-query a journaled signature and record its status",
		ArgsUsage: "SIGNATURE",
		Description: `Use after a submission timed out. The journal entry is only updated once the
signature is found; an unknown status leaves it untouched.`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			signature := c.Args().First()

			r, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer r.Close()

			store, err := r.journal()
			if err != nil {
				return err
			}

			st, err := r.submitter.Status(c.Context, signature)
			if err != nil {
				return err
			}
			status := db.StatusFromSignature(st)
			if status == db.StatusUnknown {
				r.logger.InfoContext(c.Context, "signature not found, journal unchanged", "signature", signature)
				if r.json {
					return r.outputJSON(st)
				}
				printSignatureStatus(r, st)
				return nil
			}

			slot := int64(st.Slot)
			sub, err := store.UpdateSubmissionStatus(c.Context, signature, status, &slot, st.Err)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("signature %s is not in the journal", signature)
			}
			if err != nil {
				return fmt.Errorf("failed to update submission: %w", err)
			}

			if r.json {
				return r.outputJSON(sub)
			}
			printSubmission(r, sub)
			return nil
		},
	}
}

// journal returns the store or an error telling the user how to enable it.
func (r *runtime) journal() (*db.Store, error) {
	if r.store == nil {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}
	return r.store, nil
}

func printSubmission(r *runtime, s *db.Submission) {
	r.printf("Signature: %s\n", orNone(s.Signature))
	r.printf("Kind:      %s\n", s.Kind)
	r.printf("Network:   %s\n", s.Network)
	r.printf("Payer:     %s\n", s.Payer)
	r.printf("Level:     %s\n", s.Level)
	r.printf("Status:    %s\n", s.Status)
	if s.Slot != nil {
		r.printf("Slot:      %d\n", *s.Slot)
	}
	if s.Error != nil {
		r.printf("Error:     %s\n", *s.Error)
	}
	r.printf("Created:   %s\n", s.CreatedAt.Format(time.RFC3339))
	r.printf("Updated:   %s\n", s.UpdatedAt.Format(time.RFC3339))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// writeFiltered applies filter to each item and prints the outputs as JSON.
func writeFiltered[T any](r *runtime, filter *jqFilter, items []T) error {
	for _, item := range items {
		outs, err := filter.Run(item)
		if err != nil {
			return err
		}
		for _, out := range outs {
			if err := r.outputJSON(out); err != nil {
				return err
			}
		}
	}
	return nil
}
