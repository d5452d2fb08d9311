// Package memory is an in-process storage.Repository used by tests and the
// DATA_BACKEND=memory mode. Transactions hold the store lock and restore a
// snapshot when they fail.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"

	"github.com/google/uuid"
)

type Store struct {
	mu    sync.Mutex
	state state

	listErr  error
	failures map[string]error
}

type state struct {
	accounts  map[string]core.Account
	recurring map[string]core.RecurringTransaction
	expenses  []core.Expense
	incomes   []core.Income
}

func New() *Store {
	return &Store{
		state: state{
			accounts:  map[string]core.Account{},
			recurring: map[string]core.RecurringTransaction{},
		},
		failures: map[string]error{},
	}
}

var _ storage.Repository = (*Store)(nil)

// FailListWith makes ListActiveRecurringTransactions return err until reset with nil.
func (s *Store) FailListWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// FailOccurrenceWith makes the insert for (recurringID, date) return err.
func (s *Store) FailOccurrenceWith(recurringID string, date time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[occurrenceKey(recurringID, date)] = err
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&tx{store: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) ListActiveRecurringTransactions(_ context.Context) ([]core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	out := make([]core.RecurringTransaction, 0, len(s.state.recurring))
	for _, rt := range s.state.recurring {
		if rt.Active {
			out = append(out, rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{store: s}).CreateExpense(ctx, e)
}

func (s *Store) CreateIncome(ctx context.Context, in core.Income) (core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{store: s}).CreateIncome(ctx, in)
}

func (s *Store) UpdateRecurringTransaction(ctx context.Context, id string, upd storage.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{store: s}).UpdateRecurringTransaction(ctx, id, upd)
}

func (s *Store) RefreshNextDue(_ context.Context, id string, lastProcessed *time.Time, nextDue time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.state.recurring[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !sameDate(rt.LastProcessed, lastProcessed) {
		return storage.ErrStaleSchedule
	}
	rt.NextDue = core.TimePtr(core.DateOf(nextDue))
	rt.UpdatedAt = time.Now().UTC()
	s.state.recurring[id] = rt
	return nil
}

func (s *Store) CreateAccount(_ context.Context, a core.Account) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Currency == "" {
		a.Currency = "EUR"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.state.accounts[a.ID] = a
	return a, nil
}

func (s *Store) CreateRecurringTransaction(_ context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	if _, ok := s.state.recurring[rt.ID]; ok {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %s already exists", rt.ID)
	}
	rt = core.WithNextDue(rt)
	now := time.Now().UTC()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = now
	}
	rt.UpdatedAt = now
	s.state.recurring[rt.ID] = rt
	return rt, nil
}

func (s *Store) GetRecurringTransaction(_ context.Context, id string) (core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.state.recurring[id]
	if !ok {
		return core.RecurringTransaction{}, storage.ErrNotFound
	}
	return rt, nil
}

func (s *Store) ListExpensesByRecurring(_ context.Context, recurringID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.state.expenses {
		if e.RecurringTransactionID == recurringID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) ListIncomesByRecurring(_ context.Context, recurringID string) ([]core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Income
	for _, in := range s.state.incomes {
		if in.RecurringTransactionID == recurringID {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// tx operates on the store's state; the caller already holds the lock.
type tx struct {
	store *Store
}

func (t *tx) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	e.Date = core.DateOf(e.Date)
	if err := t.store.failures[occurrenceKey(e.RecurringTransactionID, e.Date)]; err != nil {
		return core.Expense{}, err
	}
	if e.RecurringTransactionID != "" {
		for _, existing := range t.store.state.expenses {
			if existing.RecurringTransactionID == e.RecurringTransactionID && existing.Date.Equal(e.Date) {
				return core.Expense{}, storage.ErrDuplicateOccurrence
			}
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.store.state.expenses = append(t.store.state.expenses, e)
	return e, nil
}

func (t *tx) CreateIncome(_ context.Context, in core.Income) (core.Income, error) {
	in.Date = core.DateOf(in.Date)
	if err := t.store.failures[occurrenceKey(in.RecurringTransactionID, in.Date)]; err != nil {
		return core.Income{}, err
	}
	if in.RecurringTransactionID != "" {
		for _, existing := range t.store.state.incomes {
			if existing.RecurringTransactionID == in.RecurringTransactionID && existing.Date.Equal(in.Date) {
				return core.Income{}, storage.ErrDuplicateOccurrence
			}
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	t.store.state.incomes = append(t.store.state.incomes, in)
	return in, nil
}

func (t *tx) UpdateRecurringTransaction(_ context.Context, id string, upd storage.ScheduleUpdate) error {
	rt, ok := t.store.state.recurring[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !sameDate(rt.LastProcessed, upd.Previous) {
		return storage.ErrStaleSchedule
	}
	rt.LastProcessed = core.TimePtr(core.DateOf(upd.LastProcessed))
	rt.NextDue = core.TimePtr(core.DateOf(upd.NextDue))
	rt.UpdatedAt = time.Now().UTC()
	t.store.state.recurring[id] = rt
	return nil
}

func (st state) clone() state {
	out := state{
		accounts:  make(map[string]core.Account, len(st.accounts)),
		recurring: make(map[string]core.RecurringTransaction, len(st.recurring)),
		expenses:  append([]core.Expense(nil), st.expenses...),
		incomes:   append([]core.Income(nil), st.incomes...),
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.recurring {
		out.recurring[k] = v
	}
	return out
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return core.DateOf(*a).Equal(core.DateOf(*b))
}

func occurrenceKey(recurringID string, date time.Time) string {
	return recurringID + "|" + core.FormatDate(date)
}
