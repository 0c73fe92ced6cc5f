package postprocess

import (
	"context"
	"log/slog"
	"time"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/worker"
)

// emptyDocPauses stretches the idle pause when nothing needs processing.
const emptyDocPauses = 10

// Scheduler feeds unprocessed documents to the extraction workers, oldest
// request first. A document is latched enqueued the moment it leaves the
// buffer; a full queue keeps it with the scheduler, latch intact, until a
// worker frees a slot.
type Scheduler struct {
	docQ     *queue.Queue[db.WorkDoc]
	docs     DocStore
	prefetch int

	// buffered documents, consumed from the back
	buffered []db.WorkDoc

	// latched document waiting for queue space
	pending db.WorkDoc

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewScheduler creates the postprocessing scheduler.
func NewScheduler(cfg config.SchedulerConfig, docQ *queue.Queue[db.WorkDoc], docs DocStore) *Scheduler {
	return &Scheduler{
		docQ:     docQ,
		docs:     docs,
		prefetch: cfg.PrefetchLimit,
	}
}

func (s *Scheduler) Startup(ctx context.Context, rt *worker.Runtime) error {
	s.rt = rt
	s.logger = rt.Logger
	return nil
}

func (s *Scheduler) Teardown() {}

// Step hands one document to the workers. The enqueued latch is set before
// the queue put, so a crash between the two leaves a latched row that the
// shutdown reset clears.
func (s *Scheduler) Step(ctx context.Context) time.Duration {
	if s.pending.DocumentID == 0 {
		if len(s.buffered) == 0 {
			docs, err := s.docs.Unprocessed(ctx, s.prefetch)
			if err != nil {
				s.logger.Error("querying unprocessed documents failed", "error", err)
				return s.rt.Poll
			}
			if len(docs) == 0 {
				return time.Duration(emptyDocPauses) * s.rt.Poll
			}
			s.logger.Info("got unprocessed documents", "count", len(docs))
			s.buffered = docs
		}

		doc := s.buffered[len(s.buffered)-1]
		s.buffered = s.buffered[:len(s.buffered)-1]
		if err := s.docs.MarkEnqueued(ctx, doc.DocumentID); err != nil {
			// Unlatched documents resurface on the next prefetch.
			s.logger.Error("latching document failed", "document_id", doc.DocumentID, "error", err)
			return s.rt.Poll
		}
		s.pending = doc
	}

	if err := s.docQ.Put(s.pending, s.rt.Poll); err != nil {
		return 0
	}
	s.logger.Debug("queued document", "document_id", s.pending.DocumentID, "rule", s.pending.Rulename)
	s.pending = db.WorkDoc{}
	return 0
}
