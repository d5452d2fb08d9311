// Due-date strategies. Each frequency has its own strategy computing the
// next occurrence strictly after a given date. Strategies are pure: they
// never read the wall clock.

package core

import (
	"fmt"
	"time"
)

// DueDateStrategy computes occurrences for a single frequency type.
type DueDateStrategy interface {
	// Next returns the earliest occurrence of rt strictly after from.
	// Both the argument and the result are civil dates (midnight UTC).
	Next(rt RecurringTransaction, from time.Time) time.Time
}

// DailyStrategy implements DueDateStrategy for daily series.
type DailyStrategy struct{}

// Next returns the following day.
func (DailyStrategy) Next(_ RecurringTransaction, from time.Time) time.Time {
	return AddDays(from, 1)
}

// WeeklyStrategy implements DueDateStrategy for weekly series.
type WeeklyStrategy struct{}

// Next returns the first day after from that falls on the series' weekday.
func (WeeklyStrategy) Next(rt RecurringTransaction, from time.Time) time.Time {
	d := AddDays(from, 1)
	delta := (weekdayOf(rt) - int(d.Weekday()) + 7) % 7
	return AddDays(d, delta)
}

// BiweeklyStrategy implements DueDateStrategy for biweekly series.
//
// The cadence is anchored to the first matching weekday on or after the start
// date and always steps 14 days from that anchor, so a late or irregular
// lastProcessed never shifts the series.
type BiweeklyStrategy struct{}

// Next returns the first anchor+14k date strictly after from.
func (BiweeklyStrategy) Next(rt RecurringTransaction, from time.Time) time.Time {
	anchor := biweeklyAnchor(rt)
	from = DateOf(from)
	if from.Before(anchor) {
		return anchor
	}
	days := int(from.Sub(anchor).Hours() / 24)
	return AddDays(anchor, (days/14+1)*14)
}

// MonthlyStrategy implements DueDateStrategy for monthly series.
type MonthlyStrategy struct{}

// Next returns the target day in from's month if still ahead, otherwise in
// the following month. The target day is clamped to the month's length.
func (MonthlyStrategy) Next(rt RecurringTransaction, from time.Time) time.Time {
	from = DateOf(from)
	day := dayOfMonthOf(rt)

	candidate := ClampDay(from.Year(), from.Month(), day)
	if candidate.After(from) {
		return candidate
	}

	year, month := from.Year(), from.Month()+1
	if month > time.December {
		month = time.January
		year++
	}
	return ClampDay(year, month, day)
}

// YearlyStrategy implements DueDateStrategy for yearly series.
type YearlyStrategy struct{}

// Next returns the start date's month and target day in from's year if still
// ahead, otherwise in the following year, with the same clamping rule.
func (YearlyStrategy) Next(rt RecurringTransaction, from time.Time) time.Time {
	from = DateOf(from)
	month := DateOf(rt.StartDate).Month()
	day := dayOfMonthOf(rt)

	candidate := ClampDay(from.Year(), month, day)
	if candidate.After(from) {
		return candidate
	}
	return ClampDay(from.Year()+1, month, day)
}

// dueDateStrategies maps frequencies to their corresponding strategies.
var dueDateStrategies = map[Frequency]DueDateStrategy{
	Daily:    DailyStrategy{},
	Weekly:   WeeklyStrategy{},
	Biweekly: BiweeklyStrategy{},
	Monthly:  MonthlyStrategy{},
	Yearly:   YearlyStrategy{},
}

// GetDueDateStrategy returns the strategy for a frequency.
// Returns an error if the frequency is not supported.
func GetDueDateStrategy(frequency Frequency) (DueDateStrategy, error) {
	strategy, ok := dueDateStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return strategy, nil
}

// RegisterDueDateStrategy registers a strategy for a new frequency type.
// It is not safe to call concurrently with a running pass.
func RegisterDueDateStrategy(frequency Frequency, strategy DueDateStrategy) {
	dueDateStrategies[frequency] = strategy
}

// NextOccurrence returns the earliest occurrence of rt strictly after from.
func NextOccurrence(rt RecurringTransaction, from time.Time) (time.Time, error) {
	strategy, err := GetDueDateStrategy(rt.Frequency)
	if err != nil {
		return time.Time{}, err
	}
	return strategy.Next(rt, DateOf(from)), nil
}

// FirstOccurrence returns the earliest occurrence on or after the start date.
func FirstOccurrence(rt RecurringTransaction) (time.Time, error) {
	return NextOccurrence(rt, AddDays(rt.StartDate, -1))
}

// NextDueDate returns the occurrence owed next: the first one after lastProcessed,
// or the first one on or after the start date when nothing was processed yet.
func NextDueDate(rt RecurringTransaction) (time.Time, error) {
	if rt.LastProcessed == nil {
		return FirstOccurrence(rt)
	}
	next, err := NextOccurrence(rt, *rt.LastProcessed)
	if err != nil {
		return time.Time{}, err
	}
	// A lastProcessed earlier than the start date never yields occurrences
	// before the series is active.
	if first, _ := FirstOccurrence(rt); next.Before(first) {
		return first, nil
	}
	return next, nil
}

func weekdayOf(rt RecurringTransaction) int {
	if rt.DayOfWeek != nil {
		return *rt.DayOfWeek
	}
	return int(DateOf(rt.StartDate).Weekday())
}

func dayOfMonthOf(rt RecurringTransaction) int {
	if rt.DayOfMonth != nil {
		return *rt.DayOfMonth
	}
	return DateOf(rt.StartDate).Day()
}

func biweeklyAnchor(rt RecurringTransaction) time.Time {
	start := DateOf(rt.StartDate)
	delta := (weekdayOf(rt) - int(start.Weekday()) + 7) % 7
	return AddDays(start, delta)
}

// WithNextDue returns rt with NextDue derived from its schedule and
// lastProcessed. Invalid records are returned unchanged.
func WithNextDue(rt RecurringTransaction) RecurringTransaction {
	if rt.Validate() != nil {
		return rt
	}
	next, err := NextDueDate(rt)
	if err != nil {
		return rt
	}
	rt.NextDue = TimePtr(next)
	return rt
}
