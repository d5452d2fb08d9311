package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bilancio/internal/core"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timestampLayout is used for the created_at/updated_at audit columns.
const timestampLayout = time.RFC3339Nano

type SQLiteRepository struct {
	sqliteOps
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies the embedded migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		sqliteOps: sqliteOps{queries: New(db)},
		db:        db,
	}, nil
}

// DSN adds the connection pragmas the scheduler relies on. Write transactions
// take the database lock up front so two passes never interleave.
func DSN(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WithinTx runs fn inside a database transaction. The transaction is rolled
// back when fn returns an error or panics.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(sqliteOps{queries: r.queries.WithTx(tx)}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListActiveRecurringTransactions(ctx context.Context) ([]core.RecurringTransaction, error) {
	rows, err := r.queries.ListActiveRecurringTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active recurring transactions: %w", err)
	}

	items := make([]core.RecurringTransaction, 0, len(rows))
	for _, row := range rows {
		rt, err := recurringFromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, rt)
	}
	return items, nil
}

func (r *SQLiteRepository) RefreshNextDue(ctx context.Context, id string, lastProcessed *time.Time, nextDue time.Time) error {
	var previous sql.NullString
	if lastProcessed != nil {
		previous = nullString(core.FormatDate(*lastProcessed))
	}

	affected, err := r.queries.RefreshNextDue(ctx, RefreshNextDueParams{
		ID:            id,
		LastProcessed: previous,
		NextDue:       core.FormatDate(nextDue),
		UpdatedAt:     time.Now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return fmt.Errorf("refresh next due %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.queries.GetRecurringTransaction(ctx, id); errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("refresh next due %s: %w", id, err)
	}
	return ErrStaleSchedule
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Currency == "" {
		a.Currency = "EUR"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	err := r.queries.CreateAccount(ctx, CreateAccountParams{
		ID:        a.ID,
		Name:      a.Name,
		Type:      "checking",
		Currency:  a.Currency,
		CreatedAt: a.CreatedAt.UTC().Format(timestampLayout),
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) CreateRecurringTransaction(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	rt = core.WithNextDue(rt)
	now := time.Now().UTC()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = now
	}
	rt.UpdatedAt = now

	if err := r.queries.CreateRecurringTransaction(ctx, recurringToRow(rt)); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("create recurring transaction: %w", err)
	}

	slog.InfoContext(ctx, "Recurring transaction saved to SQLite",
		"id", rt.ID,
		"frequency", rt.Frequency,
		"amount", rt.Amount.String())

	return rt, nil
}

func (r *SQLiteRepository) GetRecurringTransaction(ctx context.Context, id string) (core.RecurringTransaction, error) {
	row, err := r.queries.GetRecurringTransaction(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTransaction{}, ErrNotFound
	}
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("get recurring transaction %s: %w", id, err)
	}
	return recurringFromRow(row)
}

func (r *SQLiteRepository) ListExpensesByRecurring(ctx context.Context, recurringID string) ([]core.Expense, error) {
	rows, err := r.queries.ListExpensesByRecurring(ctx, recurringID)
	if err != nil {
		return nil, fmt.Errorf("list expenses for %s: %w", recurringID, err)
	}

	items := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		date, err := core.ParseDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("expense %s: %w", row.ID, err)
		}
		items = append(items, core.Expense{
			ID:                     row.ID,
			AccountID:              row.AccountID,
			RecurringTransactionID: row.RecurringTransactionID.String,
			Amount:                 row.Amount,
			Category:               row.Category.String,
			Description:            row.Description.String,
			Date:                   date,
			CreatedAt:              parseTimestamp(row.CreatedAt),
		})
	}
	return items, nil
}

func (r *SQLiteRepository) ListIncomesByRecurring(ctx context.Context, recurringID string) ([]core.Income, error) {
	rows, err := r.queries.ListIncomesByRecurring(ctx, recurringID)
	if err != nil {
		return nil, fmt.Errorf("list incomes for %s: %w", recurringID, err)
	}

	items := make([]core.Income, 0, len(rows))
	for _, row := range rows {
		date, err := core.ParseDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("income %s: %w", row.ID, err)
		}
		items = append(items, core.Income{
			ID:                     row.ID,
			AccountID:              row.AccountID,
			RecurringTransactionID: row.RecurringTransactionID.String,
			Amount:                 row.Amount,
			Source:                 row.Source.String,
			Description:            row.Description.String,
			Date:                   date,
			CreatedAt:              parseTimestamp(row.CreatedAt),
		})
	}
	return items, nil
}

// sqliteOps implements Tx on top of either the pool or an open transaction.
type sqliteOps struct {
	queries *Queries
}

func (o sqliteOps) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Date = core.DateOf(e.Date)

	err := o.queries.CreateExpense(ctx, Expense{
		ID:                     e.ID,
		AccountID:              e.AccountID,
		RecurringTransactionID: nullString(e.RecurringTransactionID),
		Amount:                 e.Amount,
		Category:               nullString(e.Category),
		Description:            nullString(e.Description),
		Date:                   core.FormatDate(e.Date),
		CreatedAt:              e.CreatedAt.UTC().Format(timestampLayout),
	})
	if isUniqueViolation(err) {
		return core.Expense{}, ErrDuplicateOccurrence
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	return e, nil
}

func (o sqliteOps) CreateIncome(ctx context.Context, in core.Income) (core.Income, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	in.Date = core.DateOf(in.Date)

	err := o.queries.CreateIncome(ctx, Income{
		ID:                     in.ID,
		AccountID:              in.AccountID,
		RecurringTransactionID: nullString(in.RecurringTransactionID),
		Amount:                 in.Amount,
		Source:                 nullString(in.Source),
		Description:            nullString(in.Description),
		Date:                   core.FormatDate(in.Date),
		CreatedAt:              in.CreatedAt.UTC().Format(timestampLayout),
	})
	if isUniqueViolation(err) {
		return core.Income{}, ErrDuplicateOccurrence
	}
	if err != nil {
		return core.Income{}, fmt.Errorf("create income: %w", err)
	}
	return in, nil
}

func (o sqliteOps) UpdateRecurringTransaction(ctx context.Context, id string, upd ScheduleUpdate) error {
	var previous sql.NullString
	if upd.Previous != nil {
		previous = nullString(core.FormatDate(*upd.Previous))
	}

	affected, err := o.queries.AdvanceRecurringSchedule(ctx, AdvanceRecurringScheduleParams{
		ID:                    id,
		PreviousLastProcessed: previous,
		LastProcessed:         core.FormatDate(upd.LastProcessed),
		NextDue:               core.FormatDate(upd.NextDue),
		UpdatedAt:             time.Now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return fmt.Errorf("update recurring transaction %s: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := o.queries.GetRecurringTransaction(ctx, id); errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("update recurring transaction %s: %w", id, err)
	}
	return ErrStaleSchedule
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func recurringToRow(rt core.RecurringTransaction) RecurringTransaction {
	row := RecurringTransaction{
		ID:          rt.ID,
		AccountID:   rt.AccountID,
		Amount:      rt.Amount,
		Type:        string(rt.Type),
		Category:    nullString(rt.Category),
		Source:      nullString(rt.Source),
		Description: nullString(rt.Description),
		Frequency:   string(rt.Frequency),
		StartDate:   core.FormatDate(rt.StartDate),
		Active:      rt.Active,
		CreatedAt:   rt.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:   rt.UpdatedAt.UTC().Format(timestampLayout),
	}
	if rt.EndDate != nil {
		row.EndDate = nullString(core.FormatDate(*rt.EndDate))
	}
	if rt.DayOfMonth != nil {
		row.DayOfMonth = sql.NullInt64{Int64: int64(*rt.DayOfMonth), Valid: true}
	}
	if rt.DayOfWeek != nil {
		row.DayOfWeek = sql.NullInt64{Int64: int64(*rt.DayOfWeek), Valid: true}
	}
	if rt.LastProcessed != nil {
		row.LastProcessed = nullString(core.FormatDate(*rt.LastProcessed))
	}
	if rt.NextDue != nil {
		row.NextDue = nullString(core.FormatDate(*rt.NextDue))
	}
	return row
}

func recurringFromRow(row RecurringTransaction) (core.RecurringTransaction, error) {
	rt := core.RecurringTransaction{
		ID:          row.ID,
		AccountID:   row.AccountID,
		Amount:      row.Amount,
		Type:        core.TransactionType(row.Type),
		Category:    row.Category.String,
		Source:      row.Source.String,
		Description: row.Description.String,
		Frequency:   core.Frequency(row.Frequency),
		Active:      row.Active,
		CreatedAt:   parseTimestamp(row.CreatedAt),
		UpdatedAt:   parseTimestamp(row.UpdatedAt),
	}

	var err error
	if rt.StartDate, err = core.ParseDate(row.StartDate); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %s start_date: %w", row.ID, err)
	}
	if rt.EndDate, err = parseNullDate(row.EndDate); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %s end_date: %w", row.ID, err)
	}
	if rt.LastProcessed, err = parseNullDate(row.LastProcessed); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %s last_processed: %w", row.ID, err)
	}
	if rt.NextDue, err = parseNullDate(row.NextDue); err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %s next_due: %w", row.ID, err)
	}
	if row.DayOfMonth.Valid {
		rt.DayOfMonth = core.IntPtr(int(row.DayOfMonth.Int64))
	}
	if row.DayOfWeek.Valid {
		rt.DayOfWeek = core.IntPtr(int(row.DayOfWeek.Int64))
	}
	return rt, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
