package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IshaanNene/goparl/internal/queue"
)

// cancelGrace is how long the supervisor waits for stragglers after
// cutting their context.
const cancelGrace = time.Second

type proc struct {
	name string
	done *Flag
	err  error
}

// Supervisor launches worker goroutines, confirms each one reported ready
// within the start deadline, and stops them cooperatively. A stop is clean
// only when every worker exited on the shutdown flag alone; workers that
// needed context cancellation make Stop return an error so callers know to
// skip cleanup work that assumes an orderly shutdown.
type Supervisor struct {
	ctx      context.Context
	cancel   context.CancelFunc
	base     *slog.Logger
	logger   *slog.Logger
	shutdown *Flag

	startWait time.Duration
	stopWait  time.Duration
	poll      time.Duration

	mu       sync.Mutex
	procs    []*proc
	failures chan string
}

// NewSupervisor creates a supervisor. Workers observe cancellation of ctx
// only as the escalation path; cooperative shutdown runs on a flag.
func NewSupervisor(ctx context.Context, startWait, stopWait time.Duration, logger *slog.Logger) *Supervisor {
	cctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		ctx:       cctx,
		cancel:    cancel,
		base:      logger,
		logger:    logger.With("component", "supervisor"),
		shutdown:  NewFlag(),
		startWait: startWait,
		stopWait:  stopWait,
		poll:      DefaultPollTimeout,
		failures:  make(chan string, 8),
	}
}

// ShutdownFlag returns the flag shared by all workers of this supervisor.
func (s *Supervisor) ShutdownFlag() *Flag {
	return s.shutdown
}

// Failures delivers the names of workers whose goroutine exited before
// shutdown was requested. A premature exit means the pipeline is crippled
// and the job should stop.
func (s *Supervisor) Failures() <-chan string {
	return s.failures
}

// LaunchTimed starts an interval-driven worker.
func (s *Supervisor) LaunchTimed(name string, p TimedProc) error {
	return s.launch(name, func(ctx context.Context, rt *Runtime) error {
		if err := p.Startup(ctx, rt); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		defer p.Teardown()
		rt.MarkStarted()
		rt.Logger.Info("worker started")
		defer rt.Logger.Info("worker stopped")
		RunTimed(ctx, rt, p.Interval, p.Tick)
		return nil
	})
}

// LaunchFree starts a free-running worker.
func (s *Supervisor) LaunchFree(name string, p FreeProc) error {
	return s.launch(name, func(ctx context.Context, rt *Runtime) error {
		if err := p.Startup(ctx, rt); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		defer p.Teardown()
		rt.MarkStarted()
		rt.Logger.Info("worker started")
		defer rt.Logger.Info("worker stopped")
		RunFree(ctx, rt, p.Step)
		return nil
	})
}

// LaunchQueue starts a worker consuming items from q.
func LaunchQueue[T any](s *Supervisor, name string, q *queue.Queue[T], p QueueProc[T]) error {
	return s.launch(name, func(ctx context.Context, rt *Runtime) error {
		if err := p.Startup(ctx, rt); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		defer p.Teardown()
		rt.MarkStarted()
		rt.Logger.Info("worker started")
		defer rt.Logger.Info("worker stopped")
		RunQueue(ctx, rt, q, p.Handle)
		return nil
	})
}

func (s *Supervisor) launch(name string, body func(ctx context.Context, rt *Runtime) error) error {
	p := &proc{name: name, done: NewFlag()}
	rt := &Runtime{
		Name:     name,
		Logger:   s.base.With("worker", name),
		Shutdown: s.shutdown,
		Poll:     s.poll,
		started:  NewFlag(),
	}

	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()

	go func() {
		defer p.done.Set()
		defer func() {
			if r := recover(); r != nil {
				p.err = fmt.Errorf("worker %s panicked: %v", name, r)
				s.logger.Error("worker panic", "worker", name, "panic", r)
			}
			if !s.shutdown.IsSet() {
				select {
				case s.failures <- name:
				default:
				}
			}
		}()
		p.err = body(s.ctx, rt)
		if p.err != nil {
			s.logger.Error("worker exited with error", "worker", name, "error", p.err)
		}
	}()

	select {
	case <-rt.started.Done():
		s.logger.Debug("worker ready", "worker", name)
		return nil
	case <-p.done.Done():
		if p.err != nil {
			return fmt.Errorf("start %s: %w", name, p.err)
		}
		return fmt.Errorf("start %s: worker exited before reporting ready", name)
	case <-time.After(s.startWait):
		return fmt.Errorf("start %s: not ready within %s", name, s.startWait)
	}
}

// Stop requests cooperative shutdown and waits up to the stop deadline for
// all workers to exit. Workers still running afterwards get their context
// cancelled and a short grace period; their names come back in the error.
func (s *Supervisor) Stop() error {
	s.logger.Info("stopping workers")
	s.shutdown.Set()

	s.mu.Lock()
	procs := make([]*proc, len(s.procs))
	copy(procs, s.procs)
	s.mu.Unlock()

	deadline := time.Now().Add(s.stopWait)
	var stragglers []string
	for _, p := range procs {
		if !p.done.Wait(time.Until(deadline)) {
			stragglers = append(stragglers, p.name)
		}
	}

	s.cancel()

	if len(stragglers) == 0 {
		s.logger.Info("all workers stopped")
		return nil
	}

	grace := time.Now().Add(cancelGrace)
	for _, p := range procs {
		p.done.Wait(time.Until(grace))
	}
	return fmt.Errorf("workers did not stop cleanly: %s", strings.Join(stragglers, ", "))
}
