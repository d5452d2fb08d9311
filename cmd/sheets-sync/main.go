package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	"bilancio/internal/config"
	"bilancio/internal/log"
	gsheet "bilancio/internal/sheets/google"
	"bilancio/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, false).WithComponent(log.ComponentWorker)

	if err := cfg.ValidateSheets(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sheets-sync stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("sheets-sync shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	sheets, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		SheetName:          cfg.GoogleSheetName,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return err
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer client.Close()
	client.SetPrefetch(cfg.SyncBatchSize)

	syncWorker := worker.NewOccurrenceSyncWorker(sheets)

	logger.Info("Starting sheets-sync",
		log.FieldOperation, log.OpStartup,
		"queue", cfg.AMQPQueue,
		"spreadsheet", cfg.GoogleSpreadsheetID,
		"prefetch", cfg.SyncBatchSize)

	err = client.ConsumeOccurrences(ctx, syncWorker.HandleOccurrenceMessage)
	if errors.Is(err, context.Canceled) {
		slog.Info("Consumer stopped", log.FieldOperation, log.OpShutdown)
		return nil
	}
	return err
}
