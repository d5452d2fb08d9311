package core

import (
	"fmt"
	"time"
)

// ConfigurationError marks a recurring transaction whose fields cannot be
// scheduled (e.g. weekly without a dayOfWeek). The record is skipped.
type ConfigurationError struct {
	RecurringTransactionID string
	Reason                 string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("recurring transaction %s: invalid configuration: %s", e.RecurringTransactionID, e.Reason)
}

// CatchUpLimitExceeded is a warning: the record had more missed occurrences
// than a single pass may materialize. The remainder is picked up next pass.
type CatchUpLimitExceeded struct {
	RecurringTransactionID string
	Limit                  int
	// ResumeFrom is the first occurrence left for the next pass.
	ResumeFrom time.Time
}

func (e *CatchUpLimitExceeded) Error() string {
	return fmt.Sprintf("recurring transaction %s: catch-up limit of %d occurrences reached, resuming from %s",
		e.RecurringTransactionID, e.Limit, FormatDate(e.ResumeFrom))
}

// PersistenceError wraps a failed call to the persistence layer while
// processing one record.
type PersistenceError struct {
	RecurringTransactionID string
	Op                     string
	Err                    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recurring transaction %s: %s: %v", e.RecurringTransactionID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
