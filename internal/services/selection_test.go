package services

import (
	"errors"
	"testing"
	"time"

	"bilancio/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dates(occs []core.Occurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = core.FormatDate(o.Date)
	}
	return out
}

func TestSelectDueMonthlyClamping(t *testing.T) {
	rt := recurring(core.Monthly, core.NewDate(2024, 1, 31))
	rt.DayOfMonth = core.IntPtr(31)

	sel := SelectDue([]core.RecurringTransaction{rt}, core.NewDate(2024, 3, 1), SelectionOptions{})

	assert.Equal(t, []string{"2024-01-31", "2024-02-29"}, dates(sel.Occurrences))
	assert.Equal(t, 1, sel.Checked)
	assert.Equal(t, 1, sel.DueRecords)
	assert.Empty(t, sel.Warnings)
}

func TestSelectDueBiweeklyCatchUp(t *testing.T) {
	rt := recurring(core.Biweekly, core.NewDate(2024, 1, 1))
	rt.DayOfWeek = core.IntPtr(int(time.Monday))

	sel := SelectDue([]core.RecurringTransaction{rt}, core.NewDate(2024, 2, 1), SelectionOptions{})

	assert.Equal(t, []string{"2024-01-01", "2024-01-15", "2024-01-29"}, dates(sel.Occurrences))
}

func TestSelectDueDailyCatchUpFromLastProcessed(t *testing.T) {
	rt := recurring(core.Daily, core.NewDate(2024, 1, 1))
	rt.LastProcessed = core.TimePtr(core.NewDate(2024, 1, 10))

	now := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	sel := SelectDue([]core.RecurringTransaction{rt}, now, SelectionOptions{})

	assert.Equal(t, []string{"2024-01-11", "2024-01-12", "2024-01-13", "2024-01-14", "2024-01-15"}, dates(sel.Occurrences))
}

func TestSelectDueNothingOwed(t *testing.T) {
	tests := []struct {
		name string
		rt   core.RecurringTransaction
	}{
		{
			name: "start date in the future",
			rt:   recurring(core.Daily, core.NewDate(2024, 6, 1)),
		},
		{
			name: "already processed today",
			rt: func() core.RecurringTransaction {
				rt := recurring(core.Daily, core.NewDate(2024, 1, 1))
				rt.LastProcessed = core.TimePtr(core.NewDate(2024, 1, 15))
				return rt
			}(),
		},
		{
			name: "past end date",
			rt: func() core.RecurringTransaction {
				rt := recurring(core.Daily, core.NewDate(2024, 1, 1))
				rt.EndDate = core.TimePtr(core.NewDate(2024, 1, 5))
				rt.LastProcessed = core.TimePtr(core.NewDate(2024, 1, 5))
				return rt
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectDue([]core.RecurringTransaction{tt.rt}, core.NewDate(2024, 1, 15), SelectionOptions{})
			assert.Empty(t, sel.Occurrences)
			assert.Zero(t, sel.DueRecords)
		})
	}
}

func TestSelectDueStopsAtEndDate(t *testing.T) {
	rt := recurring(core.Daily, core.NewDate(2024, 1, 1))
	rt.EndDate = core.TimePtr(core.NewDate(2024, 1, 3))

	sel := SelectDue([]core.RecurringTransaction{rt}, core.NewDate(2024, 1, 10), SelectionOptions{})

	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, dates(sel.Occurrences))
}

func TestSelectDueCapsCatchUp(t *testing.T) {
	rt := recurring(core.Daily, core.NewDate(2024, 1, 1))

	sel := SelectDue([]core.RecurringTransaction{rt}, core.NewDate(2024, 1, 31), SelectionOptions{MaxCatchUp: 10})

	require.Len(t, sel.Occurrences, 10)
	assert.Equal(t, "2024-01-10", core.FormatDate(sel.Occurrences[9].Date))
	require.Len(t, sel.Warnings, 1)

	var limit *core.CatchUpLimitExceeded
	require.True(t, errors.As(sel.Warnings[0].Err, &limit))
	assert.Equal(t, 10, limit.Limit)
	assert.Equal(t, core.NewDate(2024, 1, 11), limit.ResumeFrom)
}

func TestSelectDueExactlyAtCapIsNotAWarning(t *testing.T) {
	rt := recurring(core.Daily, core.NewDate(2024, 1, 1))

	sel := SelectDue([]core.RecurringTransaction{rt}, core.NewDate(2024, 1, 10), SelectionOptions{MaxCatchUp: 10})

	assert.Len(t, sel.Occurrences, 10)
	assert.Empty(t, sel.Warnings)
}

func TestSelectDueSkipsInvalidAndInactive(t *testing.T) {
	bad := recurring(core.Weekly, core.NewDate(2024, 1, 1))
	bad.ID = "bad"

	paused := recurring(core.Daily, core.NewDate(2024, 1, 1))
	paused.ID = "paused"
	paused.Active = false

	good := recurring(core.Daily, core.NewDate(2024, 1, 14))
	good.ID = "good"

	sel := SelectDue([]core.RecurringTransaction{bad, paused, good}, core.NewDate(2024, 1, 15), SelectionOptions{})

	assert.Equal(t, 2, sel.Checked)
	require.Len(t, sel.Skipped, 1)
	assert.Equal(t, "bad", sel.Skipped[0].RecurringTransactionID)

	var cfgErr *core.ConfigurationError
	assert.True(t, errors.As(sel.Skipped[0].Err, &cfgErr))
	assert.Len(t, sel.Occurrences, 2)
}

func TestSelectDueOrdersByDateThenID(t *testing.T) {
	a := recurring(core.Daily, core.NewDate(2024, 1, 14))
	a.ID = "b-record"
	b := recurring(core.Daily, core.NewDate(2024, 1, 13))
	b.ID = "a-record"

	sel := SelectDue([]core.RecurringTransaction{a, b}, core.NewDate(2024, 1, 15), SelectionOptions{})

	var got []string
	for _, o := range sel.Occurrences {
		got = append(got, core.FormatDate(o.Date)+" "+o.RecurringTransactionID)
	}
	assert.Equal(t, []string{
		"2024-01-13 a-record",
		"2024-01-14 a-record",
		"2024-01-14 b-record",
		"2024-01-15 a-record",
		"2024-01-15 b-record",
	}, got)
}

func TestSelectDueUsesLocationForToday(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	rt := recurring(core.Daily, core.NewDate(2024, 1, 1))
	rt.LastProcessed = core.TimePtr(core.NewDate(2024, 1, 14))

	// 23:30 UTC on the 14th is already the 15th in Rome.
	now := time.Date(2024, 1, 14, 23, 30, 0, 0, time.UTC)

	utc := SelectDue([]core.RecurringTransaction{rt}, now, SelectionOptions{})
	assert.Empty(t, utc.Occurrences)

	local := SelectDue([]core.RecurringTransaction{rt}, now, SelectionOptions{Location: rome})
	assert.Equal(t, []string{"2024-01-15"}, dates(local.Occurrences))
}

func TestSelectDueIsDeterministic(t *testing.T) {
	rt := recurring(core.Monthly, core.NewDate(2023, 1, 31))
	rt.DayOfMonth = core.IntPtr(31)
	now := core.NewDate(2024, 6, 1)

	first := SelectDue([]core.RecurringTransaction{rt}, now, SelectionOptions{})
	second := SelectDue([]core.RecurringTransaction{rt}, now, SelectionOptions{})

	assert.Equal(t, first, second)
}
