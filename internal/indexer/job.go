package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Job owns the indexing process: a single shipper worker under a
// supervisor. The live index is ensured before the worker starts so the
// first batch never races index creation.
type Job struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewJob creates the indexing job.
func NewJob(cfg *config.Config, logger *slog.Logger) *Job {
	return &Job{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(logger),
	}
}

// Run executes the job until ctx is cancelled or the worker dies.
func (j *Job) Run(ctx context.Context) error {
	store, err := db.Connect(ctx, j.cfg.General, "goparl-indexing", j.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	client, err := NewClient(j.cfg.Indexer, j.logger)
	if err != nil {
		return err
	}
	index, err := client.EnsureIndex(ctx)
	if err != nil {
		return fmt.Errorf("ensuring index: %w", err)
	}
	j.logger.Info("shipping to index", "index", index)

	if j.cfg.Metrics.Enabled {
		if err := j.metrics.StartServer(j.cfg.Metrics.Port, j.cfg.Metrics.Path); err != nil {
			return err
		}
	}

	sup := worker.NewSupervisor(context.Background(), j.cfg.General.StartWait, j.cfg.General.StopWait, j.logger)

	w := NewWorker(j.cfg.Indexer, client, db.NewDocuments(store), j.metrics)
	if err := sup.LaunchFree("indexer", w); err != nil {
		sup.Stop()
		return err
	}

	j.logger.Info("indexing running", "index", index)

	select {
	case <-ctx.Done():
		j.logger.Info("shutdown requested")
	case name := <-sup.Failures():
		j.logger.Error("worker failed, stopping job", "worker", name)
	}

	if err := sup.Stop(); err != nil {
		return fmt.Errorf("indexing shutdown: %w", err)
	}

	j.logger.Info("indexing stopped", "stats", j.metrics.Snapshot())
	return nil
}
