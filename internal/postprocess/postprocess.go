// Package postprocess turns downloaded files into indexable data. A
// scheduler pulls unprocessed documents from the store and fans them out to
// extraction workers over a bounded queue; each worker runs the document's
// rule against the stored file and writes the structured result back. The
// enqueued latch on the document row keeps the scheduler from handing the
// same document out twice while it sits in the queue.
package postprocess

import (
	"context"

	"github.com/IshaanNene/goparl/internal/db"
)

// DocQueueCap bounds the scheduler-to-worker queue.
const DocQueueCap = 30

// DocStore is the slice of the document store the scheduler and workers
// need.
type DocStore interface {
	Unprocessed(ctx context.Context, limit int) ([]db.WorkDoc, error)
	MarkEnqueued(ctx context.Context, id int64) error
	Metadata(ctx context.Context, id int64) (db.DocMetadata, error)
	SetData(ctx context.Context, id int64, data map[string]any) error
}
