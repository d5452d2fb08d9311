package services

import (
	"sort"
	"time"

	"bilancio/internal/core"
)

// DefaultMaxCatchUp bounds how many occurrences one record may produce in a
// single pass: a year of daily occurrences.
const DefaultMaxCatchUp = 366

// SelectionOptions configures the due-selection pass.
type SelectionOptions struct {
	// MaxCatchUp is the per-record cap on occurrences per pass (default: 366)
	MaxCatchUp int

	// Location decides which calendar day "now" falls on (default: UTC)
	Location *time.Location
}

// RecordIssue ties a per-record error to the record it concerns.
type RecordIssue struct {
	RecurringTransactionID string
	Err                    error
}

// Selection is the outcome of a due-selection pass.
type Selection struct {
	Today   time.Time
	Checked int
	// DueRecords counts records with at least one occurrence selected.
	DueRecords  int
	Occurrences []core.Occurrence
	Skipped     []RecordIssue
	Warnings    []RecordIssue
}

// SelectDue computes every occurrence owed at now across the given records,
// catching up on all missed dates up to the per-record cap. Inactive records
// are ignored and invalid ones are reported in Skipped. The result is ordered
// by occurrence date, then by record id, and depends only on its inputs.
func SelectDue(records []core.RecurringTransaction, now time.Time, opts SelectionOptions) Selection {
	if opts.MaxCatchUp <= 0 {
		opts.MaxCatchUp = DefaultMaxCatchUp
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	sel := Selection{Today: core.DateOf(now.In(opts.Location))}

	for _, rt := range records {
		if !rt.Active {
			continue
		}
		sel.Checked++

		if err := rt.Validate(); err != nil {
			sel.Skipped = append(sel.Skipped, RecordIssue{RecurringTransactionID: rt.ID, Err: err})
			continue
		}

		occurrences, warning := catchUp(rt, sel.Today, opts.MaxCatchUp)
		if warning != nil {
			sel.Warnings = append(sel.Warnings, RecordIssue{RecurringTransactionID: rt.ID, Err: warning})
		}
		if len(occurrences) > 0 {
			sel.DueRecords++
			sel.Occurrences = append(sel.Occurrences, occurrences...)
		}
	}

	sort.SliceStable(sel.Occurrences, func(i, j int) bool {
		a, b := sel.Occurrences[i], sel.Occurrences[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.RecurringTransactionID < b.RecurringTransactionID
	})

	return sel
}

// catchUp walks the series from its next due date up to today.
func catchUp(rt core.RecurringTransaction, today time.Time, limit int) ([]core.Occurrence, error) {
	cursor, err := core.NextDueDate(rt)
	if err != nil {
		return nil, &core.ConfigurationError{RecurringTransactionID: rt.ID, Reason: err.Error()}
	}

	var out []core.Occurrence
	for isOwed(rt, cursor, today) {
		if len(out) == limit {
			return out, &core.CatchUpLimitExceeded{
				RecurringTransactionID: rt.ID,
				Limit:                  limit,
				ResumeFrom:             cursor,
			}
		}
		out = append(out, rt.Occurrence(cursor))

		// Strategies always move forward; err was ruled out above.
		cursor, _ = core.NextOccurrence(rt, cursor)
	}
	return out, nil
}

func isOwed(rt core.RecurringTransaction, date, today time.Time) bool {
	if date.After(today) {
		return false
	}
	if rt.EndDate != nil && date.After(core.DateOf(*rt.EndDate)) {
		return false
	}
	return true
}
