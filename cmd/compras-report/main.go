// Command compras-report prints the budget snapshot of every category and
// manages categories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"compras/internal/backend"
	"compras/internal/cli"
	"compras/internal/core"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	outputJSON bool
	at         string
	noRollover bool
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "compras-report [category-id]",
		Short: "Print budget snapshots",
		Long: `Print the current budget snapshot of every category, or of one category.

Stale windows are rolled forward first, and the ledger entries of every
rolled category are refreshed, unless --no-rollover is given.

Examples:
  compras-report                        # All categories
  compras-report 3                      # One category
  compras-report --json                 # Machine readable output
  compras-report --at 2024-02-01T00:00:00Z
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *backend.Engine) error {
				now, err := reportTime(opts.at)
				if err != nil {
					return err
				}
				categories, err := selectCategories(ctx, engine, args)
				if err != nil {
					return err
				}
				if !opts.noRollover {
					if _, err := engine.Categories.RollAll(ctx, now); err != nil {
						fmt.Fprintf(os.Stderr, "warning: rollover: %v\n", err)
					}
					if categories, err = selectCategories(ctx, engine, args); err != nil {
						return err
					}
				}

				snapshots := make([]core.BudgetSnapshot, 0, len(categories))
				for _, c := range categories {
					s, err := engine.Projector.Project(ctx, c, now)
					if err != nil {
						return fmt.Errorf("project category %d: %w", c.ID, err)
					}
					snapshots = append(snapshots, s)
				}
				if opts.outputJSON {
					return writeSnapshotsJSON(cmd.OutOrStdout(), snapshots)
				}
				return writeSnapshotsTable(cmd.OutOrStdout(), snapshots)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "Output snapshots as JSON")
	cmd.Flags().StringVar(&opts.at, "at", "", "Report as of this RFC3339 time instead of now")
	cmd.Flags().BoolVar(&opts.noRollover, "no-rollover", false, "Do not persist window rollovers")

	cmd.AddCommand(ledgerCmd(), categoryCmd(), publishCmd())
	return cmd
}

func ledgerCmd() *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "ledger <category-id>",
		Short: "List the ledger entries of a category, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *backend.Engine) error {
				filter := core.LedgerFilter{CategoryID: &id}
				if activeOnly {
					filter.Active = &activeOnly
				}
				entries, err := engine.Ledger.ListLedger(ctx, filter)
				if err != nil {
					return err
				}
				return writeLedgerTable(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active entries")
	return cmd
}

func withEngine(fn func(ctx context.Context, engine *backend.Engine) error) error {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, closeStore := cli.OpenEngine(ctx, logger, cfg)
	defer closeStore()

	return fn(ctx, engine)
}

func reportTime(at string) (time.Time, error) {
	if at == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", at, err)
	}
	return t.UTC(), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func selectCategories(ctx context.Context, engine *backend.Engine, args []string) ([]core.Category, error) {
	if len(args) == 0 {
		return engine.Store.ListCategories(ctx)
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	c, err := engine.Store.LoadCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	return []core.Category{c}, nil
}
