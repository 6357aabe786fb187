// Package schedule runs periodic work with a cancellation token and at most one run in flight.
package schedule

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/sourcegraph/conc"
)

// Func is the unit of work of a Task. It must honour ctx.
type Func func(ctx context.Context)

// Task calls a Func every interval until its context is cancelled.
// A tick that arrives while the previous run is still going is skipped, never queued.
type Task struct {
	name      string
	interval  time.Duration
	fn        Func
	immediate bool
	logger    *slog.Logger
	onSkip    func()

	inflight atomic.Bool
	pending  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	trigger  chan struct{}
}

// Option configures a Task.
type Option func(*Task)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		t.logger = logger
	}
}

// WithImmediateStart runs the first cycle as soon as Run is called instead of after one interval.
func WithImmediateStart() Option {
	return func(t *Task) {
		t.immediate = true
	}
}

// WithSkipHook is called every time a tick is skipped.
func WithSkipHook(fn func()) Option {
	return func(t *Task) {
		t.onSkip = fn
	}
}

// New creates a task. It does nothing until Run.
func New(name string, interval time.Duration, fn Func, opts ...Option) *Task {
	t := &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logging.NewNop(),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run blocks until ctx is cancelled and every started run has returned.
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var wg conc.WaitGroup
	defer wg.Wait()

	if t.immediate {
		t.fire(ctx, &wg, false)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(ctx, &wg, false)
		case <-t.trigger:
			t.fire(ctx, &wg, true)
		}
	}
}

// Trigger requests a run as soon as possible. A trigger that arrives while a run is in flight
// is deferred until that run returns; triggers made before the run starts are coalesced.
// It never blocks.
func (t *Task) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

func (t *Task) fire(ctx context.Context, wg *conc.WaitGroup, manual bool) {
	if ctx.Err() != nil {
		return
	}
	if !t.inflight.CompareAndSwap(false, true) {
		if manual {
			t.pending.Store(true)
			// The run may have finished between the CAS and the store.
			if !t.inflight.Load() && t.pending.Swap(false) {
				t.fire(ctx, wg, true)
			}
			return
		}
		t.skipped.Add(1)
		t.logger.Debug("Tick skipped, previous run still in flight", "task", t.name)
		if t.onSkip != nil {
			t.onSkip()
		}
		return
	}
	wg.Go(func() {
		defer func() {
			t.inflight.Store(false)
			if t.pending.Swap(false) {
				t.Trigger()
			}
		}()
		t.runs.Add(1)
		t.fn(ctx)
	})
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// InFlight reports whether a run is executing.
func (t *Task) InFlight() bool { return t.inflight.Load() }

// Runs returns how many runs started.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Skipped returns how many ticks were dropped because a run was in flight.
func (t *Task) Skipped() int64 { return t.skipped.Load() }
