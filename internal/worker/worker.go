// Package worker implements the cooperative runtime the pipeline workers
// run on. Every blocking wait is bounded by a short poll timeout so a
// worker notices the shared shutdown flag within a fraction of a second,
// finishes its current unit of work, and exits on its own. The supervisor
// escalates to context cancellation only for workers that fail to do so.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/goparl/internal/queue"
)

// DefaultPollTimeout bounds every blocking wait in a worker loop.
const DefaultPollTimeout = 100 * time.Millisecond

// timerGranularity is the sleep slice for interval-driven workers. Finer
// than the poll timeout so interval changes take effect promptly.
const timerGranularity = 20 * time.Millisecond

// Flag is a one-way latch shared between the supervisor and its workers.
type Flag struct {
	once sync.Once
	ch   chan struct{}
}

// NewFlag creates an unset flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set latches the flag. Safe to call more than once.
func (f *Flag) Set() {
	f.once.Do(func() { close(f.ch) })
}

// IsSet reports whether the flag has been latched.
func (f *Flag) IsSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.ch
}

// Wait blocks until the flag is set or the timeout elapses. Reports
// whether the flag was set.
func (f *Flag) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return f.IsSet()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.ch:
		return true
	case <-t.C:
		return false
	}
}

// Runtime is the per-worker view of the supervisor: its name, logger,
// the shared shutdown flag, and the poll timeout bounding blocking waits.
type Runtime struct {
	Name     string
	Logger   *slog.Logger
	Shutdown *Flag
	Poll     time.Duration

	started *Flag
}

// MarkStarted signals the supervisor that startup finished. The launch
// call blocks until this fires or the start deadline passes.
func (rt *Runtime) MarkStarted() {
	rt.started.Set()
}

// ShuttingDown reports whether shutdown has been requested.
func (rt *Runtime) ShuttingDown() bool {
	return rt.Shutdown.IsSet()
}

// Sleep waits for d unless shutdown fires first. Reports whether the full
// duration elapsed.
func (rt *Runtime) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !rt.ShuttingDown()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-rt.Shutdown.Done():
		return false
	}
}

// Proc hooks shared by all worker kinds. Startup runs before the loop and
// its error aborts the launch; Teardown runs after the loop exits.
type Proc interface {
	Startup(ctx context.Context, rt *Runtime) error
	Teardown()
}

// TimedProc runs Tick whenever its interval elapses. Interval is consulted
// again after every tick, so a proc may retune itself while running.
type TimedProc interface {
	Proc
	Interval() time.Duration
	Tick(ctx context.Context)
}

// FreeProc runs Step back to back. The returned pause is slept off before
// the next call; zero means run again immediately.
type FreeProc interface {
	Proc
	Step(ctx context.Context) time.Duration
}

// QueueProc handles one queue item per call.
type QueueProc[T any] interface {
	Proc
	Handle(ctx context.Context, item T)
}

// RunTimed drives an interval loop until shutdown. Sleeps in small slices
// so both shutdown and a shortened interval are noticed quickly.
func RunTimed(ctx context.Context, rt *Runtime, interval func() time.Duration, tick func(context.Context)) {
	next := time.Now().Add(interval())
	for !rt.ShuttingDown() {
		sleep := time.Until(next)
		if sleep > timerGranularity {
			sleep = timerGranularity
		}
		if sleep > 0 && !rt.Sleep(sleep) {
			return
		}
		if time.Now().After(next) {
			tick(ctx)
			next = time.Now().Add(interval())
		}
	}
}

// RunFree drives a free-running loop until shutdown.
func RunFree(ctx context.Context, rt *Runtime, step func(context.Context) time.Duration) {
	for !rt.ShuttingDown() {
		pause := step(ctx)
		if pause > 0 && !rt.Sleep(pause) {
			return
		}
	}
}

// RunQueue drives a consumer loop until shutdown. An empty queue is not an
// event; the loop just rechecks the shutdown flag and waits again.
func RunQueue[T any](ctx context.Context, rt *Runtime, q *queue.Queue[T], handle func(context.Context, T)) {
	for !rt.ShuttingDown() {
		item, err := q.Get(rt.Poll)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return
			}
			continue
		}
		handle(ctx, item)
	}
}
