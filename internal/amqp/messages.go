package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"bilancio/internal/core"
)

// OccurrenceMessage announces one materialized occurrence of a recurring
// transaction. It carries the full row so consumers never read the database.
type OccurrenceMessage struct {
	RecurringTransactionID string    `json:"recurring_transaction_id"`
	AccountID              string    `json:"account_id"`
	Type                   string    `json:"type"`
	Date                   string    `json:"date"`
	Amount                 string    `json:"amount"`
	Category               string    `json:"category,omitempty"`
	Source                 string    `json:"source,omitempty"`
	Description            string    `json:"description,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
}

// NewOccurrenceMessage creates a message for o stamped with the current time.
func NewOccurrenceMessage(o core.Occurrence) *OccurrenceMessage {
	return &OccurrenceMessage{
		RecurringTransactionID: o.RecurringTransactionID,
		AccountID:              o.AccountID,
		Type:                   o.Type.String(),
		Date:                   core.FormatDate(o.Date),
		Amount:                 core.FormatAmount(o.Amount),
		Category:               o.Category,
		Source:                 o.Source,
		Description:            o.Description,
		Timestamp:              time.Now().UTC(),
	}
}

// Key identifies the occurrence; redeliveries of the same occurrence share it.
func (m *OccurrenceMessage) Key() string {
	return m.RecurringTransactionID + ":" + m.Date
}

// Occurrence converts the message back into the domain type.
func (m *OccurrenceMessage) Occurrence() (core.Occurrence, error) {
	date, err := core.ParseDate(m.Date)
	if err != nil {
		return core.Occurrence{}, err
	}
	amount, err := core.ParseAmount(m.Amount)
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("amount %q: %w", m.Amount, err)
	}
	typ := core.TransactionType(m.Type)
	if !typ.IsValid() {
		return core.Occurrence{}, fmt.Errorf("unknown transaction type %q", m.Type)
	}

	return core.Occurrence{
		RecurringTransactionID: m.RecurringTransactionID,
		AccountID:              m.AccountID,
		Type:                   typ,
		Date:                   core.DateOf(date),
		Amount:                 amount,
		Category:               m.Category,
		Source:                 m.Source,
		Description:            m.Description,
	}, nil
}

// ToJSON converts the message to JSON bytes
func (m *OccurrenceMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccurrenceMessageFromJSON creates a message from JSON bytes
func OccurrenceMessageFromJSON(data []byte) (*OccurrenceMessage, error) {
	var msg OccurrenceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.RecurringTransactionID == "" || msg.Date == "" {
		return nil, fmt.Errorf("occurrence message missing recurring_transaction_id or date")
	}
	return &msg, nil
}
