package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/audiencia/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_RunsPeriodically(t *testing.T) {
	var calls atomic.Int32
	task := schedule.New("poll", 10*time.Millisecond, func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTask_SkipsOverlappingTicks(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	var skipHook atomic.Int32

	task := schedule.New("poll", 5*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, schedule.WithImmediateStart(), schedule.WithSkipHook(func() { skipHook.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	assert.Eventually(t, func() bool { return task.Skipped() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "ticks must not queue behind a slow run")
	assert.True(t, task.InFlight())
	assert.Positive(t, skipHook.Load())

	close(release)
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestTask_TriggerRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	task := schedule.New("poll", time.Hour, func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	task.Trigger()
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTask_TriggerNeverBlocks(t *testing.T) {
	task := schedule.New("poll", time.Hour, func(context.Context) {})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			task.Trigger()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked without a running task")
	}
}

func TestTask_RunWaitsForInflight(t *testing.T) {
	var finished atomic.Bool
	task := schedule.New("heartbeat", time.Hour, func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}, schedule.WithImmediateStart())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	require.Eventually(t, task.InFlight, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.True(t, finished.Load(), "Run must not return while a run is executing")
	assert.Equal(t, int64(1), task.Runs())
}

func TestTask_TriggerDuringRunIsDeferred(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	task := schedule.New("poll", time.Hour, func(ctx context.Context) {
		if calls.Add(1) == 1 {
			<-release
		}
	}, schedule.WithImmediateStart())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	require.Eventually(t, task.InFlight, time.Second, time.Millisecond)
	task.Trigger()
	task.Trigger()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, task.Skipped(), "manual triggers are not skipped ticks")

	close(release)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load(), "deferred triggers coalesce into one run")
}
