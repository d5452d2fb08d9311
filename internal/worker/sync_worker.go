package worker

import (
	"context"
	"fmt"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/log"
	"bilancio/internal/sheets"
)

// OccurrenceSyncWorker exports materialized occurrences to a spreadsheet.
type OccurrenceSyncWorker struct {
	sheets sheets.OccurrenceWriter
}

func NewOccurrenceSyncWorker(writer sheets.OccurrenceWriter) *OccurrenceSyncWorker {
	return &OccurrenceSyncWorker{sheets: writer}
}

// HandleOccurrenceMessage appends the occurrence carried by msg. Returning an
// error makes the broker redeliver the message; the writer ignores repeats.
func (w *OccurrenceSyncWorker) HandleOccurrenceMessage(ctx context.Context, msg *amqp.OccurrenceMessage) error {
	occ, err := msg.Occurrence()
	if err != nil {
		// Malformed payloads never succeed on retry.
		slog.ErrorContext(ctx, "Dropping invalid occurrence message",
			log.FieldComponent, log.ComponentWorker,
			log.FieldMessageID, msg.Key(),
			log.FieldError, err)
		return nil
	}

	ref, err := w.sheets.AppendOccurrence(ctx, occ)
	if err != nil {
		return fmt.Errorf("append occurrence %s: %w", msg.Key(), err)
	}

	slog.InfoContext(ctx, "Synced occurrence to sheet",
		log.NewFields().
			WithComponent(log.ComponentWorker).
			WithOperation(log.OpAppend).
			WithOccurrence(occ).
			ToSlice()...)
	slog.DebugContext(ctx, "Sheet row reference",
		log.FieldComponent, log.ComponentWorker,
		log.FieldSheetsRef, ref)

	return nil
}
