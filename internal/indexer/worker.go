package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Shipper is the slice of the Elasticsearch client the worker needs.
type Shipper interface {
	BulkDelete(ctx context.Context, ids []int64) ([]int64, error)
	BulkIndex(ctx context.Context, docs []db.DocData) ([]int64, error)
}

// DocStore is the slice of the document store the worker needs.
type DocStore interface {
	UnindexedData(ctx context.Context, limit int) ([]db.DocData, error)
	SetIndexed(ctx context.Context, ids []int64) error
}

// Worker ships batches of extracted documents into the index. Each batch is
// first bulk-deleted so a document reprocessed since its last shipment is
// replaced rather than duplicated, then bulk-indexed; only the acknowledged
// ids are marked indexed, the rest resurface in a later batch.
type Worker struct {
	shipper  Shipper
	docs     DocStore
	metrics  *observability.Metrics
	prefetch int

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewWorker creates the indexer worker.
func NewWorker(cfg config.IndexerConfig, shipper Shipper, docs DocStore, metrics *observability.Metrics) *Worker {
	return &Worker{
		shipper:  shipper,
		docs:     docs,
		metrics:  metrics,
		prefetch: cfg.PrefetchLimit,
	}
}

func (w *Worker) Startup(ctx context.Context, rt *worker.Runtime) error {
	w.rt = rt
	w.logger = rt.Logger
	return nil
}

func (w *Worker) Teardown() {}

// Step ships one batch.
func (w *Worker) Step(ctx context.Context) time.Duration {
	batch, err := w.docs.UnindexedData(ctx, w.prefetch)
	if err != nil {
		w.logger.Error("querying unindexed documents failed", "error", err)
		return w.rt.Poll
	}
	if len(batch) == 0 {
		return w.rt.Poll
	}

	ids := make([]int64, len(batch))
	for i, doc := range batch {
		ids[i] = doc.ID
	}

	deleted, err := w.shipper.BulkDelete(ctx, ids)
	if err != nil {
		w.logger.Error("deleting stale copies failed", "error", err)
		w.metrics.IndexFailures.Add(1)
		return w.rt.Poll
	}
	if len(deleted) > 0 {
		w.logger.Warn("deleted stale copies", "deleted", len(deleted), "batch", len(batch))
	}

	indexed, err := w.shipper.BulkIndex(ctx, batch)
	if err != nil {
		w.logger.Error("indexing batch failed", "error", err)
		w.metrics.IndexFailures.Add(1)
		return w.rt.Poll
	}
	if err := w.docs.SetIndexed(ctx, indexed); err != nil {
		// Not marked, so the batch ships again; the pre-delete makes the
		// repeat harmless.
		w.logger.Error("marking documents indexed failed", "error", err)
		return w.rt.Poll
	}

	w.metrics.DocumentsIndexed.Add(int64(len(indexed)))
	if failed := len(batch) - len(indexed); failed > 0 {
		w.metrics.IndexFailures.Add(int64(failed))
	}
	w.logger.Info("indexed documents", "indexed", len(indexed), "batch", len(batch))
	return w.rt.Poll
}
