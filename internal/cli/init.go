// Package cli provides the initialization shared by cmd/recurring-worker and
// cmd/sheets-sync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/backend"
	"bilancio/internal/config"
	"bilancio/internal/log"
	"bilancio/internal/services"
	"bilancio/internal/storage"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from LOG_LEVEL and installs it as the
// slog default.
func SetupLogger(level string, json bool) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	cfg.JSON = json
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Scheduler bundles a processor with the resources it holds.
type Scheduler struct {
	Processor *services.RecurringProcessor
	Store     storage.Repository
	Location  *time.Location

	cleanup []func() error
}

// Close releases the store and the publisher.
func (s *Scheduler) Close() error {
	var first error
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		if err := s.cleanup[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewScheduler opens the configured store and, when AMQP_URL is set, a lazy
// publisher for committed occurrences.
func NewScheduler(ctx context.Context, cfg *config.Config) (*Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(slog.Default()).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{Store: res.Store, Location: loc}
	if res.Cleanup != nil {
		s.cleanup = append(s.cleanup, res.Cleanup)
	}

	var publisher services.OccurrencePublisher
	if cfg.AMQPURL != "" {
		client := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		s.cleanup = append(s.cleanup, client.Close)
		publisher = client
		slog.InfoContext(ctx, "AMQP publishing enabled",
			log.FieldComponent, log.ComponentAMQP,
			"exchange", cfg.AMQPExchange,
			"queue", cfg.AMQPQueue)
	} else {
		slog.InfoContext(ctx, "AMQP disabled, occurrences will not be announced",
			log.FieldComponent, log.ComponentAMQP)
	}

	s.Processor = services.NewRecurringProcessor(res.Store, publisher, services.ProcessorConfig{
		MaxCatchUp: cfg.RecurringMaxCatchUp,
		Location:   loc,
	})
	return s, nil
}
