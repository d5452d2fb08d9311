package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"time"

	"bilancio/internal/cli"
	apphttp "bilancio/internal/http"
	"bilancio/internal/log"
	"bilancio/internal/worker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run passes on RECURRING_SCHEDULE and serve the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	sched, err := cli.NewScheduler(ctx, cfg)
	if err != nil {
		return err
	}
	defer sched.Close()

	runner, err := worker.NewCronRunner(sched.Processor, cfg.RecurringSchedule, sched.Location)
	if err != nil {
		return err
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:      ":" + cfg.Port,
		Processor: sched.Processor,
		Store:     sched.Store,
		Location:  sched.Location,
		Logger:    log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), Component: log.ComponentHTTP}),
	})

	slog.InfoContext(ctx, "Starting recurring-worker",
		log.FieldComponent, log.ComponentApp,
		log.FieldOperation, log.OpStartup,
		"backend", cfg.DataBackend,
		"addr", srv.Addr,
		log.FieldSchedule, cfg.RecurringSchedule)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(gctx)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down recurring-worker", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Recurring-worker shutdown complete")
	return nil
}
