package main

import (
	"context"
	"errors"
	"os"
	"time"

	"compras/internal/amqp"
	"compras/internal/cli"
	"compras/internal/log"
	"compras/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting compras-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	engine, closeStore := cli.OpenEngine(context.Background(), logger, cfg)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
		amqp.WithLogger(logger),
		amqp.WithPrefetch(cfg.ReconcileConcurrency))
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		closeStore()
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", log.FieldError, err)
		}
		if err := closeStore(); err != nil {
			logger.Warn("Failed to close store", log.FieldError, err)
		}
	})

	w := worker.NewReconcileWorker(engine.Store, engine.Ledger, engine.Roller, logger)

	go w.RunSweeps(ctx, cfg.RolloverInterval)

	if sweeper := engine.Sweeper(cfg, logger); sweeper != nil {
		go sweeper.Run(ctx)
	}

	go func() {
		if err := amqpClient.Consume(ctx, w.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	logger.Info("compras-worker running",
		"backend", cfg.DataBackend,
		"queue", cfg.AMQPQueue,
		"rollover_interval", cfg.RolloverInterval,
		"mirror", cfg.MirrorEnabled())

	cli.WaitForShutdown(ctx, done)
}
