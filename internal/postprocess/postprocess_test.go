package postprocess

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/worker"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func testRuntime(name string) *worker.Runtime {
	return &worker.Runtime{
		Name:     name,
		Logger:   testLogger,
		Shutdown: worker.NewFlag(),
		Poll:     5 * time.Millisecond,
	}
}

type fakeDocs struct {
	batches    [][]db.WorkDoc
	queryErr   error
	enqueued   []int64
	enqueueErr error
	meta       map[int64]db.DocMetadata
	data       map[int64]map[string]any
	setErr     error
}

func (f *fakeDocs) Unprocessed(ctx context.Context, limit int) ([]db.WorkDoc, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeDocs) MarkEnqueued(ctx context.Context, id int64) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, id)
	return nil
}

func (f *fakeDocs) Metadata(ctx context.Context, id int64) (db.DocMetadata, error) {
	m, ok := f.meta[id]
	if !ok {
		return db.DocMetadata{}, db.ErrNotFound
	}
	return m, nil
}

func (f *fakeDocs) SetData(ctx context.Context, id int64, data map[string]any) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.data == nil {
		f.data = make(map[int64]map[string]any)
	}
	f.data[id] = data
	return nil
}
