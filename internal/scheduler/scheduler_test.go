package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{TickInterval: 10 * time.Millisecond, StartJitter: 0}
}

func TestScheduler_TicksRepeatedly(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Shutdown()

	var calls atomic.Int64
	s.Add("accumulation", "inst-1", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 },
		time.Second, 5*time.Millisecond)
}

func TestScheduler_OverrunningEvaluationSkipsTicks(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Shutdown()

	var started atomic.Int64
	release := make(chan struct{})
	s.Add("accumulation", "inst-1", func(context.Context) error {
		started.Add(1)
		<-release
		return nil
	})

	// The first evaluation blocks across many tick intervals; at-most-one
	// in flight means no second evaluation starts.
	require.Eventually(t, func() bool { return started.Load() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(1), started.Load())

	close(release)
	require.Eventually(t, func() bool { return started.Load() >= 2 },
		time.Second, time.Millisecond)
}

func TestScheduler_RemoveJoinsInFlightEvaluation(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Shutdown()

	var finished atomic.Bool
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s.Add("grid", "inst-1", func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		finished.Store(true)
		return nil
	})

	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	s.Remove("inst-1")
	assert.True(t, finished.Load(), "Remove must wait for the in-flight evaluation")

	// Removed instance never ticks again.
	s.Remove("inst-1") // idempotent
}

func TestScheduler_RemoveDoesNotCancelInFlightEvaluation(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Shutdown()

	var cancelled atomic.Bool
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s.Add("accumulation", "inst-1", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		// Simulates a submitted transaction awaiting confirmation: the
		// evaluation must run to completion even while Remove is joining it.
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-release:
		}
		return nil
	})

	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	s.Remove("inst-1")
	assert.False(t, cancelled.Load(), "in-flight evaluation must not observe cancellation during Remove")
}

func TestScheduler_ShutdownDoesNotCancelInFlightEvaluation(t *testing.T) {
	s := New(testConfig(), nil)

	var cancelled atomic.Bool
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s.Add("grid", "inst-1", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-release:
		}
		return nil
	})

	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	s.Shutdown()
	assert.False(t, cancelled.Load(), "in-flight evaluation must not observe cancellation during Shutdown")
}

func TestScheduler_AddIsIdempotent(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Shutdown()

	var calls atomic.Int64
	eval := func(context.Context) error { calls.Add(1); return nil }
	s.Add("accumulation", "inst-1", eval)
	s.Add("accumulation", "inst-1", eval)

	s.mu.Lock()
	n := len(s.loops)
	s.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestScheduler_ShutdownStopsEverything(t *testing.T) {
	s := New(testConfig(), nil)

	var calls atomic.Int64
	s.Add("accumulation", "inst-1", func(context.Context) error { calls.Add(1); return nil })
	s.Add("grid", "inst-2", func(context.Context) error { calls.Add(1); return nil })

	require.Eventually(t, func() bool { return calls.Load() >= 2 },
		time.Second, time.Millisecond)

	s.Shutdown()
	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}
