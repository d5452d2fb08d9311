package storage

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row models. Dates are stored as YYYY-MM-DD text, audit timestamps as
// RFC 3339 text and amounts as decimal text.

type Account struct {
	ID        string
	Name      string
	Type      string
	Currency  string
	CreatedAt string
	UpdatedAt string
}

type RecurringTransaction struct {
	ID            string
	AccountID     string
	Amount        decimal.Decimal
	Type          string
	Category      sql.NullString
	Source        sql.NullString
	Description   sql.NullString
	Frequency     string
	StartDate     string
	EndDate       sql.NullString
	DayOfMonth    sql.NullInt64
	DayOfWeek     sql.NullInt64
	LastProcessed sql.NullString
	NextDue       sql.NullString
	Active        bool
	CreatedAt     string
	UpdatedAt     string
}

type Expense struct {
	ID                     string
	AccountID              string
	RecurringTransactionID sql.NullString
	Amount                 decimal.Decimal
	Category               sql.NullString
	Description            sql.NullString
	Date                   string
	CreatedAt              string
}

type Income struct {
	ID                     string
	AccountID              string
	RecurringTransactionID sql.NullString
	Amount                 decimal.Decimal
	Source                 sql.NullString
	Description            sql.NullString
	Date                   string
	CreatedAt              string
}

const createAccount = `
INSERT INTO accounts (id, name, type, currency, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateAccountParams struct {
	ID        string
	Name      string
	Type      string
	Currency  string
	CreatedAt string
}

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) error {
	_, err := q.db.ExecContext(ctx, createAccount,
		arg.ID, arg.Name, arg.Type, arg.Currency, arg.CreatedAt, arg.CreatedAt)
	return err
}

const recurringColumns = `id, account_id, amount, type, category, source, description, frequency,
    start_date, end_date, day_of_month, day_of_week, last_processed, next_due, active,
    created_at, updated_at`

const createRecurringTransaction = `
INSERT INTO recurring_transactions (` + recurringColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateRecurringTransaction(ctx context.Context, arg RecurringTransaction) error {
	_, err := q.db.ExecContext(ctx, createRecurringTransaction,
		arg.ID,
		arg.AccountID,
		arg.Amount,
		arg.Type,
		arg.Category,
		arg.Source,
		arg.Description,
		arg.Frequency,
		arg.StartDate,
		arg.EndDate,
		arg.DayOfMonth,
		arg.DayOfWeek,
		arg.LastProcessed,
		arg.NextDue,
		arg.Active,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getRecurringTransaction = `
SELECT ` + recurringColumns + `
FROM recurring_transactions
WHERE id = ?
`

func (q *Queries) GetRecurringTransaction(ctx context.Context, id string) (RecurringTransaction, error) {
	row := q.db.QueryRowContext(ctx, getRecurringTransaction, id)
	return scanRecurringTransaction(row)
}

const listActiveRecurringTransactions = `
SELECT ` + recurringColumns + `
FROM recurring_transactions
WHERE active = 1
ORDER BY id
`

func (q *Queries) ListActiveRecurringTransactions(ctx context.Context) ([]RecurringTransaction, error) {
	rows, err := q.db.QueryContext(ctx, listActiveRecurringTransactions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RecurringTransaction
	for rows.Next() {
		i, err := scanRecurringTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// advanceRecurringSchedule only matches while last_processed still holds the
// value the caller read. IS compares NULLs as equal.
const advanceRecurringSchedule = `
UPDATE recurring_transactions
SET last_processed = ?, next_due = ?, updated_at = ?
WHERE id = ? AND last_processed IS ?
`

type AdvanceRecurringScheduleParams struct {
	ID                    string
	PreviousLastProcessed sql.NullString
	LastProcessed         string
	NextDue               string
	UpdatedAt             string
}

func (q *Queries) AdvanceRecurringSchedule(ctx context.Context, arg AdvanceRecurringScheduleParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, advanceRecurringSchedule,
		arg.LastProcessed,
		arg.NextDue,
		arg.UpdatedAt,
		arg.ID,
		arg.PreviousLastProcessed,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const refreshNextDue = `
UPDATE recurring_transactions
SET next_due = ?, updated_at = ?
WHERE id = ? AND last_processed IS ?
`

type RefreshNextDueParams struct {
	ID            string
	LastProcessed sql.NullString
	NextDue       string
	UpdatedAt     string
}

func (q *Queries) RefreshNextDue(ctx context.Context, arg RefreshNextDueParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, refreshNextDue,
		arg.NextDue,
		arg.UpdatedAt,
		arg.ID,
		arg.LastProcessed,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createExpense = `
INSERT INTO expenses (id, account_id, recurring_transaction_id, amount, category, description, date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateExpense(ctx context.Context, arg Expense) error {
	_, err := q.db.ExecContext(ctx, createExpense,
		arg.ID,
		arg.AccountID,
		arg.RecurringTransactionID,
		arg.Amount,
		arg.Category,
		arg.Description,
		arg.Date,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const createIncome = `
INSERT INTO incomes (id, account_id, recurring_transaction_id, amount, source, description, date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateIncome(ctx context.Context, arg Income) error {
	_, err := q.db.ExecContext(ctx, createIncome,
		arg.ID,
		arg.AccountID,
		arg.RecurringTransactionID,
		arg.Amount,
		arg.Source,
		arg.Description,
		arg.Date,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const listExpensesByRecurring = `
SELECT id, account_id, recurring_transaction_id, amount, category, description, date, created_at
FROM expenses
WHERE recurring_transaction_id = ?
ORDER BY date
`

func (q *Queries) ListExpensesByRecurring(ctx context.Context, recurringID string) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByRecurring, recurringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Expense
	for rows.Next() {
		var i Expense
		if err := rows.Scan(
			&i.ID,
			&i.AccountID,
			&i.RecurringTransactionID,
			&i.Amount,
			&i.Category,
			&i.Description,
			&i.Date,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listIncomesByRecurring = `
SELECT id, account_id, recurring_transaction_id, amount, source, description, date, created_at
FROM incomes
WHERE recurring_transaction_id = ?
ORDER BY date
`

func (q *Queries) ListIncomesByRecurring(ctx context.Context, recurringID string) ([]Income, error) {
	rows, err := q.db.QueryContext(ctx, listIncomesByRecurring, recurringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Income
	for rows.Next() {
		var i Income
		if err := rows.Scan(
			&i.ID,
			&i.AccountID,
			&i.RecurringTransactionID,
			&i.Amount,
			&i.Source,
			&i.Description,
			&i.Date,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecurringTransaction(row rowScanner) (RecurringTransaction, error) {
	var i RecurringTransaction
	err := row.Scan(
		&i.ID,
		&i.AccountID,
		&i.Amount,
		&i.Type,
		&i.Category,
		&i.Source,
		&i.Description,
		&i.Frequency,
		&i.StartDate,
		&i.EndDate,
		&i.DayOfMonth,
		&i.DayOfWeek,
		&i.LastProcessed,
		&i.NextDue,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
