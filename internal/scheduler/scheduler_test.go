package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetledger/internal/shared/testutil"
)

func TestPeriodicRunsImmediatelyAndOnTicks(t *testing.T) {
	var calls atomic.Int32
	p := NewPeriodic(10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	p.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no refresh after Stop")
	assert.Equal(t, int(after), p.Runs())
}

func TestPeriodicLogsErrorsAndKeepsGoing(t *testing.T) {
	logger, logs := testutil.NewTestLogger(nil)

	var calls atomic.Int32
	p := NewPeriodic(5*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("ledger unreadable")
	}, logger)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	p.Stop()

	testutil.AssertLogContains(t, logs, slog.LevelError, "ranking refresh failed")
	testutil.AssertLogAttr(t, logs, "error", "ledger unreadable")
	testutil.AssertLogAttr(t, logs, "component", "scheduler")
}

func TestPeriodicStopWaitsForInflightRefresh(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	p := NewPeriodic(time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}, nil)

	p.Start(context.Background())
	<-started
	p.Stop()
	assert.True(t, finished.Load())

	// a second Stop is harmless
	p.Stop()
}

func TestNewPeriodicDefaults(t *testing.T) {
	p := NewPeriodic(0, func(context.Context) error { return nil }, nil)
	assert.Equal(t, DefaultInterval, p.interval)
}
