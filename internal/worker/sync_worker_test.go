package worker

import (
	"context"
	"errors"
	"testing"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/sheets/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{ err error }

func (f failingWriter) AppendOccurrence(context.Context, core.Occurrence) (string, error) {
	return "", f.err
}

func validMessage() *amqp.OccurrenceMessage {
	return &amqp.OccurrenceMessage{
		RecurringTransactionID: "rt-1",
		AccountID:              "acct-1",
		Type:                   "expense",
		Date:                   "2024-03-01",
		Amount:                 "850.00",
		Category:               "Casa",
		Description:            "Affitto",
	}
}

func TestHandleOccurrenceMessage_AppendsRow(t *testing.T) {
	writer := memory.New()
	w := NewOccurrenceSyncWorker(writer)

	require.NoError(t, w.HandleOccurrenceMessage(context.Background(), validMessage()))

	rows := writer.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"2024-03-01", "expense", "Affitto", "850.00", "Casa", "", "acct-1", "rt-1:2024-03-01"}, rows[0])
}

func TestHandleOccurrenceMessage_Redelivery(t *testing.T) {
	writer := memory.New()
	w := NewOccurrenceSyncWorker(writer)

	require.NoError(t, w.HandleOccurrenceMessage(context.Background(), validMessage()))
	require.NoError(t, w.HandleOccurrenceMessage(context.Background(), validMessage()))

	assert.Len(t, writer.Rows(), 1)
}

func TestHandleOccurrenceMessage_InvalidMessageDropped(t *testing.T) {
	writer := memory.New()
	w := NewOccurrenceSyncWorker(writer)

	msg := validMessage()
	msg.Amount = "not-a-number"

	assert.NoError(t, w.HandleOccurrenceMessage(context.Background(), msg))
	assert.Empty(t, writer.Rows())
}

func TestHandleOccurrenceMessage_WriterErrorRequeues(t *testing.T) {
	boom := errors.New("quota exceeded")
	w := NewOccurrenceSyncWorker(failingWriter{err: boom})

	err := w.HandleOccurrenceMessage(context.Background(), validMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "rt-1:2024-03-01")
}
