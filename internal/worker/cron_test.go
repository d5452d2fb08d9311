package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeRunner) ProcessDue(_ context.Context, now time.Time) (*services.PassSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	if f.err != nil {
		return nil, f.err
	}
	return &services.PassSummary{Now: now, Checked: 1}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewCronRunner_InvalidSchedule(t *testing.T) {
	_, err := NewCronRunner(&fakeRunner{}, "every now and then", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse schedule")
}

func TestCronRunner_Next(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)

	r, err := NewCronRunner(&fakeRunner{}, "0 6 * * *", rome)
	require.NoError(t, err)

	// 05:30 UTC is 07:30 in Rome in summer; the next 06:00 Rome is tomorrow.
	next := r.Next(time.Date(2024, 7, 1, 5, 30, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 7, 2, 4, 0, 0, 0, time.UTC)), "got %v", next)
}

func TestCronRunner_RunOnceUsesClock(t *testing.T) {
	runner := &fakeRunner{}
	r, err := NewCronRunner(runner, "@every 1h", nil)
	require.NoError(t, err)

	fixed := core.NewDate(2024, 3, 15).Add(9 * time.Hour)
	r.now = func() time.Time { return fixed }

	summary := r.RunOnce(context.Background())
	require.NotNil(t, summary)
	assert.Equal(t, fixed, summary.Now)
	assert.Equal(t, []time.Time{fixed}, runner.calls)
}

func TestCronRunner_RunOnceLogsFatalError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("database is locked")}
	r, err := NewCronRunner(runner, "@every 1h", nil)
	require.NoError(t, err)

	assert.Nil(t, r.RunOnce(context.Background()))
	assert.Equal(t, 1, runner.count())
}

func TestCronRunner_RunOnceSkipsWhenCancelled(t *testing.T) {
	runner := &fakeRunner{}
	r, err := NewCronRunner(runner, "@every 1h", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, r.RunOnce(ctx))
	assert.Zero(t, runner.count())
}

func TestCronRunner_Run(t *testing.T) {
	runner := &fakeRunner{}
	r, err := NewCronRunner(runner, "@every 1s", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// One pass at startup, at least one more from the schedule.
	require.Eventually(t, func() bool { return runner.count() >= 2 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
