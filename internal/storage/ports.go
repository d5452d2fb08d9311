package storage

import (
	"context"
	"errors"
	"time"

	"bilancio/internal/core"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrStaleSchedule is returned by UpdateRecurringTransaction when the
	// record's lastProcessed no longer matches the value the caller read,
	// meaning another pass advanced it first.
	ErrStaleSchedule = errors.New("recurring transaction schedule changed concurrently")

	// ErrDuplicateOccurrence is returned when an Expense or Income already
	// exists for the same (recurringTransactionId, date).
	ErrDuplicateOccurrence = errors.New("occurrence already materialized")
)

// ScheduleUpdate advances a recurring transaction's bookkeeping.
type ScheduleUpdate struct {
	// Previous is the lastProcessed value the caller read; the update applies
	// only while the stored value still equals it (nil = never processed).
	Previous      *time.Time
	LastProcessed time.Time
	NextDue       time.Time
}

// Tx holds the operations the scheduler runs for a single occurrence.
type Tx interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	CreateIncome(ctx context.Context, i core.Income) (core.Income, error)
	UpdateRecurringTransaction(ctx context.Context, id string, upd ScheduleUpdate) error
}

// Store is the persistence collaborator used by the recurring scheduler.
type Store interface {
	Tx

	ListActiveRecurringTransactions(ctx context.Context) ([]core.RecurringTransaction, error)

	// RefreshNextDue stores a recomputed nextDue and leaves lastProcessed
	// alone. It applies only while lastProcessed still equals the given
	// value and returns ErrStaleSchedule otherwise.
	RefreshNextDue(ctx context.Context, id string, lastProcessed *time.Time, nextDue time.Time) error

	// WithinTx runs fn in a single transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Repository extends Store with the record management used by the CLI and tests.
type Repository interface {
	Store

	CreateAccount(ctx context.Context, a core.Account) (core.Account, error)
	CreateRecurringTransaction(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error)
	GetRecurringTransaction(ctx context.Context, id string) (core.RecurringTransaction, error)
	ListExpensesByRecurring(ctx context.Context, recurringID string) ([]core.Expense, error)
	ListIncomesByRecurring(ctx context.Context, recurringID string) ([]core.Income, error)
}
