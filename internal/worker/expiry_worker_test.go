package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExpirer counts sweep invocations
type fakeExpirer struct {
	calls      atomic.Int64
	perSweep   int
	shouldFail bool
}

func (f *fakeExpirer) ExpireOverdue(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if f.shouldFail {
		return 0, errors.New("write store down")
	}
	return f.perSweep, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestExpiryWorker_SweepsOnStartAndOnTick(t *testing.T) {
	expirer := &fakeExpirer{perSweep: 2}
	w := NewExpiryWorker(expirer, &ExpiryWorkerConfig{SweepInterval: 20 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return expirer.calls.Load() >= 3 })

	stats := w.GetStats()
	assert.True(t, stats.IsRunning)
	assert.Equal(t, 2, stats.LastExpiredCount)
	assert.GreaterOrEqual(t, stats.TotalExpired, int64(6))
	assert.False(t, stats.LastSweepTime.IsZero())
}

func TestExpiryWorker_DoubleStartRejected(t *testing.T) {
	w := NewExpiryWorker(&fakeExpirer{}, &ExpiryWorkerConfig{SweepInterval: time.Hour})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
}

func TestExpiryWorker_StopHaltsSweeping(t *testing.T) {
	expirer := &fakeExpirer{perSweep: 1}
	w := NewExpiryWorker(expirer, &ExpiryWorkerConfig{SweepInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	waitFor(t, time.Second, func() bool { return expirer.calls.Load() >= 1 })

	w.Stop()
	assert.False(t, w.GetStats().IsRunning)

	settled := expirer.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, expirer.calls.Load(), "no sweeps after Stop")
}

func TestExpiryWorker_SweepFailureKeepsRunning(t *testing.T) {
	expirer := &fakeExpirer{shouldFail: true}
	w := NewExpiryWorker(expirer, &ExpiryWorkerConfig{SweepInterval: 10 * time.Millisecond})

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	waitFor(t, time.Second, func() bool { return expirer.calls.Load() >= 2 })

	stats := w.GetStats()
	assert.True(t, stats.IsRunning)
	assert.Equal(t, int64(0), stats.TotalExpired)
}
