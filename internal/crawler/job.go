package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/fetcher"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/rules"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Job owns the crawl pipeline process: it connects the store, registers the
// rules, launches the workers under a supervisor, and runs until the given
// context is cancelled or a worker dies.
type Job struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewJob creates the crawl job.
func NewJob(cfg *config.Config, logger *slog.Logger) *Job {
	return &Job{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(logger),
	}
}

// Run executes the pipeline. Cancelling ctx requests shutdown; the workers
// themselves run on the supervisor's own context so in-flight writes are
// never cut short by the signal.
func (j *Job) Run(ctx context.Context) error {
	store, err := db.Connect(ctx, j.cfg.General, "goparl-crawler", j.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	registry := rules.NewRegistry()
	ruleStore := db.NewRules(store)
	if _, err := ruleStore.RegisterAll(ctx, registry); err != nil {
		return fmt.Errorf("registering rules: %w", err)
	}

	if j.cfg.Metrics.Enabled {
		if err := j.metrics.StartServer(j.cfg.Metrics.Port, j.cfg.Metrics.Path); err != nil {
			return err
		}
	}

	urls := db.NewURLs(store)
	stores := Stores{
		Days:     db.NewSessionDays(store),
		URLs:     urls,
		Rules:    ruleStore,
		Requests: db.NewRequests(store),
		Docs:     db.NewDocuments(store),
	}

	probeClient := fetcher.New(j.cfg.ProbeTimeout(), j.cfg.General.UserAgent, j.logger)
	defer probeClient.Close()
	downloadClient := fetcher.New(j.cfg.DownloadTimeout(), j.cfg.General.UserAgent, j.logger)
	defer downloadClient.Close()

	tokenQ := queue.New[string](TokenQueueCap)
	urlQ := queue.New[int64](URLQueueCap)

	sup := worker.NewSupervisor(context.Background(), j.cfg.General.StartWait, j.cfg.General.StopWait, j.logger)

	// Consumers first, the token source last: nobody requests anything
	// before everyone who records answers is ready.
	probe := NewProbe(j.cfg.SessionDayChecker, tokenQ, probeClient, registry, stores, j.metrics)
	if err := worker.LaunchQueue(sup, "session_day_checker", tokenQ, probe); err != nil {
		sup.Stop()
		return err
	}
	for i := 0; i < j.cfg.Downloader.Instances; i++ {
		dl := NewDownloader(j.cfg.Downloader, tokenQ, urlQ, downloadClient, stores, j.metrics)
		if err := worker.LaunchQueue(sup, fmt.Sprintf("downloader_%d", i), tokenQ, dl); err != nil {
			sup.Stop()
			return err
		}
	}
	minter := NewMinter(j.cfg.DateUrlGenerator, urlQ, registry, stores, j.metrics)
	if err := sup.LaunchFree("date_url_generator", minter); err != nil {
		sup.Stop()
		return err
	}
	bucket := NewTokenBucket(j.cfg.TokenBucket, tokenQ, stores, j.metrics)
	if err := sup.LaunchTimed("token_bucket", bucket); err != nil {
		sup.Stop()
		return err
	}

	j.logger.Info("crawl pipeline running", "downloaders", j.cfg.Downloader.Instances)

	select {
	case <-ctx.Done():
		j.logger.Info("shutdown requested")
	case name := <-sup.Failures():
		j.logger.Error("worker failed, stopping pipeline", "worker", name)
	}

	if err := sup.Stop(); err != nil {
		// Cleanup assumes no downloader still holds a url id; with live
		// stragglers that assumption is void, so leave the table alone.
		return fmt.Errorf("crawl shutdown: %w", err)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), j.cfg.General.StopWait)
	defer cancel()
	dropped, err := urls.DropWithoutRequests(cleanupCtx)
	if err != nil {
		return fmt.Errorf("crawl cleanup: %w", err)
	}
	j.logger.Info("dropped unrequested urls", "count", dropped)

	j.logger.Info("crawl pipeline stopped", "stats", j.metrics.Snapshot())
	return nil
}
