package postprocess

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/rules"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Job owns the postprocessing process: one scheduler feeding a pool of
// extraction workers, all under a supervisor.
type Job struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewJob creates the postprocessing job.
func NewJob(cfg *config.Config, logger *slog.Logger) *Job {
	return &Job{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(logger),
	}
}

// Run executes the job until ctx is cancelled or a worker dies. After a
// clean stop the enqueued latch is released on every document still waiting
// for data, so nothing is stranded for the next run.
func (j *Job) Run(ctx context.Context) error {
	store, err := db.Connect(ctx, j.cfg.General, "goparl-postprocessing", j.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	registry := rules.NewRegistry()
	if _, err := db.NewRules(store).RegisterAll(ctx, registry); err != nil {
		return fmt.Errorf("registering rules: %w", err)
	}

	if j.cfg.Metrics.Enabled {
		if err := j.metrics.StartServer(j.cfg.Metrics.Port, j.cfg.Metrics.Path); err != nil {
			return err
		}
	}

	docs := db.NewDocuments(store)
	docQ := queue.New[db.WorkDoc](DocQueueCap)

	sup := worker.NewSupervisor(context.Background(), j.cfg.General.StartWait, j.cfg.General.StopWait, j.logger)

	// Workers before the scheduler, so queued documents are consumed from
	// the first put on.
	for i := 0; i < j.cfg.Postprocessor.Instances; i++ {
		w := NewWorker(registry, docs, j.metrics)
		if err := worker.LaunchQueue(sup, fmt.Sprintf("postprocessing_worker_%d", i), docQ, w); err != nil {
			sup.Stop()
			return err
		}
	}
	sched := NewScheduler(j.cfg.Scheduler, docQ, docs)
	if err := sup.LaunchFree("postprocessing_scheduler", sched); err != nil {
		sup.Stop()
		return err
	}

	j.logger.Info("postprocessing running", "workers", j.cfg.Postprocessor.Instances)

	select {
	case <-ctx.Done():
		j.logger.Info("shutdown requested")
	case name := <-sup.Failures():
		j.logger.Error("worker failed, stopping job", "worker", name)
	}

	if err := sup.Stop(); err != nil {
		return fmt.Errorf("postprocessing shutdown: %w", err)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), j.cfg.General.StopWait)
	defer cancel()
	released, err := docs.ResetEnqueued(cleanupCtx)
	if err != nil {
		return fmt.Errorf("postprocessing cleanup: %w", err)
	}
	j.logger.Info("released latched documents", "count", released)

	j.logger.Info("postprocessing stopped", "stats", j.metrics.Snapshot())
	return nil
}
