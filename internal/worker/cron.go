package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/config"
	"bilancio/internal/log"
	"bilancio/internal/services"

	"github.com/robfig/cron/v3"
)

// PassRunner runs one due-selection pass.
type PassRunner interface {
	ProcessDue(ctx context.Context, now time.Time) (*services.PassSummary, error)
}

// CronRunner triggers scheduler passes on a cron schedule. A tick that fires
// while the previous pass is still running is skipped.
type CronRunner struct {
	runner   PassRunner
	schedule cron.Schedule
	spec     string
	loc      *time.Location
	logger   *slog.Logger

	// now is the clock handed to each pass.
	now func() time.Time
}

// NewCronRunner parses spec (five-field cron or a descriptor like "@every 1h").
func NewCronRunner(runner PassRunner, spec string, loc *time.Location) (*CronRunner, error) {
	schedule, err := config.ScheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronRunner{
		runner:   runner,
		schedule: schedule,
		spec:     spec,
		loc:      loc,
		logger:   slog.Default().With(log.FieldComponent, log.ComponentScheduler),
		now:      time.Now,
	}, nil
}

// Next returns the first tick after t.
func (r *CronRunner) Next(t time.Time) time.Time {
	return r.schedule.Next(t.In(r.loc))
}

// Run performs a pass immediately, then one per tick until ctx is cancelled.
// It waits for a running pass to finish before returning.
func (r *CronRunner) Run(ctx context.Context) error {
	r.RunOnce(ctx)

	c := cron.New(
		cron.WithLocation(r.loc),
		cron.WithChain(
			cron.Recover(cronLogger{r.logger}),
			cron.SkipIfStillRunning(cronLogger{r.logger}),
		),
	)
	c.Schedule(r.schedule, cron.FuncJob(func() { r.RunOnce(ctx) }))
	c.Start()

	r.logger.InfoContext(ctx, "Recurring scheduler started",
		log.FieldSchedule, r.spec,
		"timezone", r.loc.String(),
		"next_run", r.Next(r.now()))

	<-ctx.Done()
	<-c.Stop().Done()

	r.logger.Info("Recurring scheduler stopped", log.FieldOperation, log.OpShutdown)
	return nil
}

// RunOnce runs a single pass and logs its summary. Errors are logged, not
// returned, so a failing pass does not stop the schedule.
func (r *CronRunner) RunOnce(ctx context.Context) *services.PassSummary {
	if ctx.Err() != nil {
		return nil
	}

	start := time.Now()
	summary, err := r.runner.ProcessDue(ctx, r.now())
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "Recurring pass failed",
			log.FieldError, err,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
	if summary == nil {
		return nil
	}

	level := slog.LevelInfo
	if summary.HasFailures() {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "Recurring pass complete",
		log.FieldNow, summary.Now,
		log.FieldChecked, summary.Checked,
		log.FieldDue, summary.Due,
		log.FieldMaterialized, summary.Materialized,
		log.FieldDuplicates, summary.Duplicates,
		log.FieldSkipped, len(summary.Skipped),
		log.FieldWarnings, len(summary.Warnings),
		log.FieldFailures, len(summary.Failures),
		log.FieldDuration, time.Since(start).Milliseconds())

	return summary
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, log.FieldError, err)...)
}
