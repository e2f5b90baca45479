package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"compras/internal/backend"
	"compras/internal/core"
	"compras/internal/services"
)

type categoryFlags struct {
	name     string
	budget   string
	currency string
	days     int
	period   string
	start    string
}

func (f *categoryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Category name")
	cmd.Flags().StringVar(&f.budget, "budget", "", "Total budget per period, e.g. 15000.50")
	cmd.Flags().StringVar(&f.currency, "currency", "MXN", "Budget currency: MXN, USD or EUR")
	cmd.Flags().IntVar(&f.days, "days", core.DefaultPeriodLengthDays, "Period length in days")
	cmd.Flags().StringVar(&f.period, "period", "", "Named period (week, fortnight, month, several months) or days")
	cmd.Flags().StringVar(&f.start, "start", "", "First day of the period, YYYY-MM-DD or RFC3339 (default today)")
}

func categoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Create, update, reset or delete categories",
	}
	cmd.AddCommand(categoryAddCmd(), categoryUpdateCmd(), categoryResetCmd(), categoryDeleteCmd())
	return cmd
}

func categoryAddCmd() *cobra.Command {
	var f categoryFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a category",
		Example: `  compras-report category add --name Papeleria --budget 15000 --currency MXN --days 30 --start 2024-01-01
  compras-report category add --name Viajes --budget 2000 --currency USD --period month`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.category(time.Now().UTC())
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *backend.Engine) error {
				saved, err := engine.Categories.Create(ctx, c)
				if err != nil {
					return err
				}
				return writeCategory(cmd.OutOrStdout(), saved)
			})
		},
	}
	f.register(cmd)
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("budget")
	return cmd
}

func categoryUpdateCmd() *cobra.Command {
	var f categoryFlags

	cmd := &cobra.Command{
		Use:   "update <category-id>",
		Short: "Change a category; a new period or start re-derives the window end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			upd, err := f.update(cmd)
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *backend.Engine) error {
				saved, err := engine.Categories.Update(ctx, id, upd, time.Now().UTC())
				if err != nil {
					return err
				}
				return writeCategory(cmd.OutOrStdout(), saved)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func categoryResetCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "reset <category-id>",
		Short: "Start a fresh period today, whatever the current window is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			now, err := reportTime(at)
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *backend.Engine) error {
				c, err := engine.Categories.Reset(ctx, id, now)
				if err != nil {
					return err
				}
				return writeCategory(cmd.OutOrStdout(), c)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Reset as of this RFC3339 time instead of now")
	return cmd
}

func categoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <category-id>",
		Short: "Delete a category and deactivate its ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *backend.Engine) error {
				if err := engine.Categories.Delete(ctx, id, time.Now().UTC()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Category %d deleted\n", id)
				return nil
			})
		},
	}
}

// category builds a new category from the flags. An empty start means the
// UTC day of now.
func (f *categoryFlags) category(now time.Time) (core.Category, error) {
	budget, err := parseBudget(f.budget)
	if err != nil {
		return core.Category{}, err
	}
	currency, err := core.ParseCurrency(f.currency)
	if err != nil {
		return core.Category{}, fmt.Errorf("%w: %q", err, f.currency)
	}
	period, err := parsePeriod(f.period)
	if err != nil {
		return core.Category{}, err
	}
	start := now
	if f.start != "" {
		if start, err = parseStart(f.start); err != nil {
			return core.Category{}, err
		}
	}

	c, err := core.NewCategory(f.name, budget, currency, f.days, start)
	if err != nil || period == "" {
		return c, err
	}
	c.PeriodName = period
	return c.WithPeriodStart(start)
}

// update turns the flags the user set into an update.
func (f *categoryFlags) update(cmd *cobra.Command) (services.CategoryUpdate, error) {
	var upd services.CategoryUpdate
	changed := cmd.Flags().Changed

	if changed("name") {
		upd.Name = &f.name
	}
	if changed("budget") {
		budget, err := parseBudget(f.budget)
		if err != nil {
			return upd, err
		}
		upd.TotalBudget = &budget
	}
	if changed("currency") {
		currency, err := core.ParseCurrency(f.currency)
		if err != nil {
			return upd, fmt.Errorf("%w: %q", err, f.currency)
		}
		upd.Currency = &currency
	}
	if changed("period") {
		period, err := parsePeriod(f.period)
		if err != nil {
			return upd, err
		}
		upd.PeriodName = &period
	}
	if changed("days") {
		upd.PeriodLengthDays = &f.days
	}
	if changed("start") {
		start, err := parseStart(f.start)
		if err != nil {
			return upd, err
		}
		upd.PeriodStart = &start
	}
	return upd, nil
}

func parseBudget(s string) (decimal.Decimal, error) {
	budget, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid budget %q: %w", s, err)
	}
	return budget, nil
}

// parsePeriod maps "" and "days" to day-count periods.
func parsePeriod(s string) (core.NamedPeriod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "days":
		return "", nil
	}
	return core.ParseNamedPeriod(s)
}

func parseStart(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}
