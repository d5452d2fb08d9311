package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

type (
	Frequency string

	TransactionType string

	// RecurringTransaction is a template that produces one Expense or Income
	// per due occurrence. LastProcessed and NextDue are advanced only by the
	// scheduler.
	RecurringTransaction struct {
		ID          string
		AccountID   string
		Amount      decimal.Decimal
		Type        TransactionType
		Category    string // expense classification
		Source      string // income classification
		Description string
		Frequency   Frequency
		StartDate   time.Time
		EndDate     *time.Time
		DayOfMonth  *int // 1-31, monthly and yearly
		DayOfWeek   *int // 0-6 (Sunday-Saturday), weekly and biweekly

		LastProcessed *time.Time
		NextDue       *time.Time
		Active        bool

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Expense struct {
		ID                     string
		AccountID              string
		RecurringTransactionID string
		Amount                 decimal.Decimal
		Category               string
		Description            string
		Date                   time.Time
		CreatedAt              time.Time
	}

	Income struct {
		ID                     string
		AccountID              string
		RecurringTransactionID string
		Amount                 decimal.Decimal
		Source                 string
		Description            string
		Date                   time.Time
		CreatedAt              time.Time
	}

	// Occurrence is one concrete due instance of a recurring transaction.
	Occurrence struct {
		RecurringTransactionID string
		AccountID              string
		Type                   TransactionType
		Date                   time.Time
		Amount                 decimal.Decimal
		Category               string
		Source                 string
		Description            string
	}

	Account struct {
		ID        string
		Name      string
		Currency  string
		CreatedAt time.Time
	}
)

// IsValid reports whether f is a known frequency.
func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

func (f Frequency) String() string {
	return string(f)
}

func (t TransactionType) IsValid() bool {
	return t == TypeExpense || t == TypeIncome
}

func (t TransactionType) String() string {
	return string(t)
}

// Validate checks the scheduling-relevant fields and returns a
// *ConfigurationError for the first invalid combination found.
func (rt RecurringTransaction) Validate() error {
	invalid := func(format string, args ...any) error {
		return &ConfigurationError{
			RecurringTransactionID: rt.ID,
			Reason:                 fmt.Sprintf(format, args...),
		}
	}

	if strings.TrimSpace(rt.ID) == "" {
		return invalid("missing id")
	}
	if err := ValidateAmount(rt.Amount); err != nil {
		return invalid("amount must be positive, got %s", rt.Amount.String())
	}
	if !rt.Type.IsValid() {
		return invalid("unknown type %q", rt.Type)
	}
	if !rt.Frequency.IsValid() {
		return invalid("unknown frequency %q", rt.Frequency)
	}
	if rt.StartDate.IsZero() {
		return invalid("missing start date")
	}
	if rt.EndDate != nil && DateOf(*rt.EndDate).Before(DateOf(rt.StartDate)) {
		return invalid("end date %s is before start date %s", FormatDate(*rt.EndDate), FormatDate(rt.StartDate))
	}

	switch rt.Frequency {
	case Weekly, Biweekly:
		if rt.DayOfWeek == nil {
			return invalid("frequency %s requires dayOfWeek", rt.Frequency)
		}
		if *rt.DayOfWeek < 0 || *rt.DayOfWeek > 6 {
			return invalid("dayOfWeek %d out of range 0-6", *rt.DayOfWeek)
		}
	case Monthly:
		if rt.DayOfMonth == nil {
			return invalid("frequency %s requires dayOfMonth", rt.Frequency)
		}
		if *rt.DayOfMonth < 1 || *rt.DayOfMonth > 31 {
			return invalid("dayOfMonth %d out of range 1-31", *rt.DayOfMonth)
		}
	case Yearly:
		// dayOfMonth is optional for yearly series; the start date's day is used otherwise.
		if rt.DayOfMonth != nil && (*rt.DayOfMonth < 1 || *rt.DayOfMonth > 31) {
			return invalid("dayOfMonth %d out of range 1-31", *rt.DayOfMonth)
		}
	}

	return nil
}

// Occurrence builds the occurrence of rt falling on date.
func (rt RecurringTransaction) Occurrence(date time.Time) Occurrence {
	return Occurrence{
		RecurringTransactionID: rt.ID,
		AccountID:              rt.AccountID,
		Type:                   rt.Type,
		Date:                   DateOf(date),
		Amount:                 rt.Amount,
		Category:               rt.Category,
		Source:                 rt.Source,
		Description:            rt.Description,
	}
}

// Expense converts an expense occurrence into the row to persist.
func (o Occurrence) Expense() Expense {
	return Expense{
		AccountID:              o.AccountID,
		RecurringTransactionID: o.RecurringTransactionID,
		Amount:                 o.Amount,
		Category:               o.Category,
		Description:            o.Description,
		Date:                   o.Date,
	}
}

// Income converts an income occurrence into the row to persist.
func (o Occurrence) Income() Income {
	return Income{
		AccountID:              o.AccountID,
		RecurringTransactionID: o.RecurringTransactionID,
		Amount:                 o.Amount,
		Source:                 o.Source,
		Description:            o.Description,
		Date:                   o.Date,
	}
}

// IntPtr is a small helper for the optional day anchors.
func IntPtr(v int) *int {
	return &v
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
