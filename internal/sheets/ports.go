package sheets

import (
	"context"

	"bilancio/internal/core"
)

// Ports for outbound adapters.
type (
	// OccurrenceWriter appends one row per materialized occurrence. Writing
	// the same occurrence twice must not create a second row.
	OccurrenceWriter interface {
		AppendOccurrence(ctx context.Context, o core.Occurrence) (rowRef string, err error)
	}
)

// OccurrenceKey identifies an occurrence across redeliveries.
func OccurrenceKey(o core.Occurrence) string {
	return o.RecurringTransactionID + ":" + core.FormatDate(o.Date)
}

// OccurrenceRow renders o in sheet column order:
// Date, Type, Description, Amount, Category, Source, Account, Key.
func OccurrenceRow(o core.Occurrence) []any {
	return []any{
		core.FormatDate(o.Date),
		o.Type.String(),
		o.Description,
		core.FormatAmount(o.Amount),
		o.Category,
		o.Source,
		o.AccountID,
		OccurrenceKey(o),
	}
}
