package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"compras/internal/amqp"
	"compras/internal/cli"
	"compras/internal/log"
)

// publisher is the part of the AMQP client the publish commands use.
type publisher interface {
	PublishReconcile(ctx context.Context, requisitionID int64, actingUser string) error
	PublishRollover(ctx context.Context, categoryID int64) error
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Enqueue work for compras-worker",
	}

	var actingUser string
	reconcile := &cobra.Command{
		Use:   "reconcile <requisition-id>...",
		Short: "Ask the worker to reconcile requisitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withPublisher(func(ctx context.Context, p publisher) error {
				return publishAll(ctx, ids, func(id int64) error {
					return p.PublishReconcile(ctx, id, actingUser)
				})
			})
		},
	}
	reconcile.Flags().StringVar(&actingUser, "user", "", "Acting user recorded on the ledger entry")

	rollover := &cobra.Command{
		Use:   "rollover <category-id>...",
		Short: "Ask the worker to roll categories and refresh their ledger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withPublisher(func(ctx context.Context, p publisher) error {
				return publishAll(ctx, ids, func(id int64) error {
					return p.PublishRollover(ctx, id)
				})
			})
		},
	}

	cmd.AddCommand(reconcile, rollover)
	return cmd
}

func withPublisher(fn func(ctx context.Context, p publisher) error) error {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connect to AMQP: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", log.FieldError, err)
		}
	}()
	return fn(ctx, client)
}

// publishAll stops at the first failure.
func publishAll(ctx context.Context, ids []int64, publish func(id int64) error) error {
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := publish(id); err != nil {
			return fmt.Errorf("publish %d: %w", id, err)
		}
	}
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, fmt.Errorf("invalid id %q: must be positive", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
