package postprocess

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/rules"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Worker runs a document's rule against its stored file and writes the
// structured result back, merged with the crawl provenance. Rules without
// an extractor skip their documents; extraction failures leave the
// document latched so a human sees the error before the row is retried.
type Worker struct {
	registry *rules.Registry
	docs     DocStore
	metrics  *observability.Metrics

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewWorker creates a postprocessing worker.
func NewWorker(registry *rules.Registry, docs DocStore, metrics *observability.Metrics) *Worker {
	return &Worker{
		registry: registry,
		docs:     docs,
		metrics:  metrics,
	}
}

func (w *Worker) Startup(ctx context.Context, rt *worker.Runtime) error {
	w.rt = rt
	w.logger = rt.Logger
	return nil
}

func (w *Worker) Teardown() {}

// Handle extracts one document.
func (w *Worker) Handle(ctx context.Context, doc db.WorkDoc) {
	rule, err := w.registry.Get(doc.Rulename)
	if err != nil {
		w.logger.Error("document carries unknown rule", "document_id", doc.DocumentID, "rule", doc.Rulename, "error", err)
		return
	}

	data, err := rule.ExtractData(doc.Filepath)
	if errors.Is(err, rules.ErrNotImplemented) {
		w.logger.Info("rule extracts no data, skipping document", "document_id", doc.DocumentID, "rule", doc.Rulename)
		w.metrics.DocumentsSkipped.Add(1)
		return
	}
	if err != nil {
		w.logger.Error("extracting data failed", "document_id", doc.DocumentID, "path", doc.Filepath, "error", err)
		w.metrics.ExtractFailures.Add(1)
		return
	}

	meta, err := w.docs.Metadata(ctx, doc.DocumentID)
	if err != nil {
		w.logger.Error("loading document provenance failed", "document_id", doc.DocumentID, "error", err)
		w.metrics.ExtractFailures.Add(1)
		return
	}
	data["url"] = meta.URL
	data["date"] = meta.Date.Format(rules.DateFormat)
	data["rulename"] = meta.Rulename
	data["language"] = meta.Language
	data["filetype"] = meta.Filetype

	if err := w.docs.SetData(ctx, doc.DocumentID, data); err != nil {
		w.logger.Error("storing extracted data failed", "document_id", doc.DocumentID, "error", err)
		w.metrics.ExtractFailures.Add(1)
		return
	}

	w.metrics.DocumentsProcessed.Add(1)
	w.logger.Info("postprocessed document", "document_id", doc.DocumentID, "rule", doc.Rulename)
}
