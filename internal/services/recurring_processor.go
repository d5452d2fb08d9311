// Package services runs the recurring transaction scheduler passes.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/log"
	"bilancio/internal/storage"
)

// ErrPersistenceUnavailable is returned by ProcessDue when the recurring
// transactions cannot be listed at all. Every other failure is per record.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// OccurrencePublisher announces committed occurrences to downstream consumers.
type OccurrencePublisher interface {
	PublishOccurrence(ctx context.Context, o core.Occurrence) error
}

// ProcessorConfig tunes the due-selection pass.
type ProcessorConfig struct {
	MaxCatchUp int
	Location   *time.Location
}

// PassSummary reports the outcome of one pass.
type PassSummary struct {
	Now          time.Time
	Checked      int
	Due          int
	Materialized int
	// Duplicates counts occurrences that already existed; their bookkeeping
	// was still advanced.
	Duplicates  int
	Occurrences []core.Occurrence
	Skipped     []RecordIssue
	Warnings    []RecordIssue
	Failures    []RecordIssue
}

// HasFailures reports whether any record failed to persist.
func (s *PassSummary) HasFailures() bool {
	return len(s.Failures) > 0
}

// RecurringProcessor turns due recurring transactions into expenses and incomes.
type RecurringProcessor struct {
	store     storage.Store
	publisher OccurrencePublisher
	cfg       ProcessorConfig
}

// NewRecurringProcessor creates a processor. publisher may be nil.
func NewRecurringProcessor(store storage.Store, publisher OccurrencePublisher, cfg ProcessorConfig) *RecurringProcessor {
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = DefaultMaxCatchUp
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &RecurringProcessor{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Preview runs the selection without writing anything.
func (p *RecurringProcessor) Preview(ctx context.Context, now time.Time) (*PassSummary, error) {
	records, err := p.store.ListActiveRecurringTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	sel := p.selectDue(records, now)
	slog.InfoContext(ctx, "Recurring preview computed",
		log.FieldComponent, log.ComponentScheduler,
		log.FieldOperation, log.OpPreview,
		log.FieldNow, core.FormatDate(sel.Today),
		log.FieldChecked, sel.Checked,
		log.FieldDue, sel.DueRecords,
		"occurrences", len(sel.Occurrences))

	return &PassSummary{
		Now:         sel.Today,
		Checked:     sel.Checked,
		Due:         sel.DueRecords,
		Occurrences: sel.Occurrences,
		Skipped:     sel.Skipped,
		Warnings:    sel.Warnings,
	}, nil
}

// ProcessDue materializes every occurrence owed at now. Each occurrence is
// written in its own transaction together with the record's bookkeeping, in
// increasing date order per record. A failing record is abandoned for the rest
// of the pass while the others continue.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (*PassSummary, error) {
	records, err := p.store.ListActiveRecurringTransactions(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list recurring transactions",
			log.FieldComponent, log.ComponentScheduler,
			log.FieldOperation, log.OpList,
			log.FieldError, err)
		return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}

	sel := p.selectDue(records, now)
	summary := &PassSummary{
		Now:      sel.Today,
		Checked:  sel.Checked,
		Due:      sel.DueRecords,
		Skipped:  sel.Skipped,
		Warnings: sel.Warnings,
	}

	for _, issue := range sel.Skipped {
		slog.WarnContext(ctx, "Skipping misconfigured recurring transaction",
			log.FieldComponent, log.ComponentScheduler,
			log.FieldRecurringID, issue.RecurringTransactionID,
			log.FieldError, issue.Err)
	}
	for _, issue := range sel.Warnings {
		slog.WarnContext(ctx, "Catch-up limit reached, backlog continues next pass",
			log.FieldComponent, log.ComponentScheduler,
			log.FieldRecurringID, issue.RecurringTransactionID,
			log.FieldError, issue.Err)
	}

	// lastProcessed as this pass has left it, used as the claim guard.
	progress := make(map[string]*time.Time, len(records))
	byID := make(map[string]core.RecurringTransaction, len(records))
	for _, rt := range records {
		progress[rt.ID] = rt.LastProcessed
		byID[rt.ID] = rt
	}
	abandoned := make(map[string]bool)

	for _, occ := range sel.Occurrences {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("recurring pass interrupted: %w", err)
		}
		if abandoned[occ.RecurringTransactionID] {
			continue
		}

		rt := byID[occ.RecurringTransactionID]
		duplicate, err := p.materialize(ctx, rt, occ, progress[rt.ID])
		switch {
		case errors.Is(err, storage.ErrStaleSchedule):
			// Another pass claimed this record first; it owns the backlog now.
			abandoned[rt.ID] = true
			slog.InfoContext(ctx, "Recurring transaction advanced concurrently, skipping",
				log.NewFields().
					WithComponent(log.ComponentScheduler).
					WithOccurrence(occ).
					ToSlice()...)
			continue
		case err != nil:
			abandoned[rt.ID] = true
			summary.Failures = append(summary.Failures, RecordIssue{RecurringTransactionID: rt.ID, Err: err})
			slog.ErrorContext(ctx, "Failed to materialize occurrence",
				log.NewFields().
					WithComponent(log.ComponentScheduler).
					WithOperation(log.OpMaterialize).
					WithOccurrence(occ).
					WithError(err).
					ToSlice()...)
			continue
		}

		progress[rt.ID] = core.TimePtr(occ.Date)
		if duplicate {
			summary.Duplicates++
			slog.InfoContext(ctx, "Occurrence already materialized, bookkeeping advanced",
				log.NewFields().
					WithComponent(log.ComponentScheduler).
					WithOccurrence(occ).
					ToSlice()...)
			continue
		}

		summary.Materialized++
		summary.Occurrences = append(summary.Occurrences, occ)
		slog.InfoContext(ctx, "Materialized recurring occurrence",
			log.NewFields().
				WithComponent(log.ComponentScheduler).
				WithOperation(log.OpMaterialize).
				WithOccurrence(occ).
				ToSlice()...)

		p.publish(ctx, occ)
	}

	for _, rt := range records {
		if abandoned[rt.ID] || !sameDate(progress[rt.ID], rt.LastProcessed) {
			continue
		}
		p.refreshNextDue(ctx, rt)
	}

	slog.InfoContext(ctx, "Recurring pass complete",
		log.FieldComponent, log.ComponentScheduler,
		log.FieldNow, core.FormatDate(summary.Now),
		log.FieldChecked, summary.Checked,
		log.FieldDue, summary.Due,
		log.FieldMaterialized, summary.Materialized,
		log.FieldDuplicates, summary.Duplicates,
		log.FieldSkipped, len(summary.Skipped),
		log.FieldWarnings, len(summary.Warnings),
		log.FieldFailures, len(summary.Failures))

	return summary, nil
}

func (p *RecurringProcessor) selectDue(records []core.RecurringTransaction, now time.Time) Selection {
	return SelectDue(records, now, SelectionOptions{
		MaxCatchUp: p.cfg.MaxCatchUp,
		Location:   p.cfg.Location,
	})
}

// materialize claims the occurrence by advancing the record's bookkeeping and
// then inserts the row, both in one transaction. It reports duplicate=true
// when the row already existed.
func (p *RecurringProcessor) materialize(ctx context.Context, rt core.RecurringTransaction, occ core.Occurrence, previous *time.Time) (duplicate bool, err error) {
	next, err := core.NextOccurrence(rt, occ.Date)
	if err != nil {
		return false, &core.ConfigurationError{RecurringTransactionID: rt.ID, Reason: err.Error()}
	}

	err = p.store.WithinTx(ctx, func(tx storage.Tx) error {
		duplicate = false

		err := tx.UpdateRecurringTransaction(ctx, rt.ID, storage.ScheduleUpdate{
			Previous:      previous,
			LastProcessed: occ.Date,
			NextDue:       next,
		})
		if errors.Is(err, storage.ErrStaleSchedule) {
			return err
		}
		if err != nil {
			return &core.PersistenceError{RecurringTransactionID: rt.ID, Op: log.OpAdvance, Err: err}
		}

		switch occ.Type {
		case core.TypeIncome:
			_, err = tx.CreateIncome(ctx, occ.Income())
		default:
			_, err = tx.CreateExpense(ctx, occ.Expense())
		}
		if errors.Is(err, storage.ErrDuplicateOccurrence) {
			duplicate = true
			return nil
		}
		if err != nil {
			return &core.PersistenceError{RecurringTransactionID: rt.ID, Op: log.OpMaterialize, Err: err}
		}
		return nil
	})
	if err != nil {
		var perr *core.PersistenceError
		if errors.Is(err, storage.ErrStaleSchedule) || errors.As(err, &perr) {
			return false, err
		}
		return false, &core.PersistenceError{RecurringTransactionID: rt.ID, Op: "commit", Err: err}
	}
	return duplicate, nil
}

// refreshNextDue stores the derived nextDue of a record this pass did not
// advance, so records that are not yet due, or were never processed, still
// carry it.
func (p *RecurringProcessor) refreshNextDue(ctx context.Context, rt core.RecurringTransaction) {
	want := core.WithNextDue(rt).NextDue
	if want == nil || sameDate(rt.NextDue, want) {
		return
	}

	err := p.store.RefreshNextDue(ctx, rt.ID, rt.LastProcessed, *want)
	if err == nil || errors.Is(err, storage.ErrStaleSchedule) {
		return
	}
	slog.WarnContext(ctx, "Failed to refresh next due date",
		log.FieldComponent, log.ComponentScheduler,
		log.FieldOperation, log.OpAdvance,
		log.FieldRecurringID, rt.ID,
		log.FieldError, err)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return core.DateOf(*a).Equal(core.DateOf(*b))
}

func (p *RecurringProcessor) publish(ctx context.Context, occ core.Occurrence) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishOccurrence(ctx, occ); err != nil {
		slog.WarnContext(ctx, "Failed to publish occurrence, row is stored",
			log.NewFields().
				WithComponent(log.ComponentScheduler).
				WithOperation(log.OpPublish).
				WithOccurrence(occ).
				WithError(err).
				ToSlice()...)
	}
}
