// Package queue provides the bounded FIFO queues that join the crawler
// workers. Every blocking operation takes an upper bound so a worker can
// observe its shutdown flag at least once per polling interval.
package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrFull is returned when a put does not complete within its deadline.
	ErrFull = errors.New("queue: full")

	// ErrEmpty is returned when a get does not complete within its deadline.
	ErrEmpty = errors.New("queue: empty")

	// ErrClosed is returned for operations on a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// Queue is a thread-safe bounded FIFO. The zero value is not usable;
// construct with New.
type Queue[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Put enqueues v, waiting at most timeout for free space.
// Returns ErrFull when the queue stays full for the whole wait.
func (q *Queue[T]) Put(v T, timeout time.Duration) error {
	if q.isClosed() {
		return ErrClosed
	}
	if timeout <= 0 {
		return q.TryPut(v)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- v:
		return nil
	case <-t.C:
		return ErrFull
	}
}

// Get dequeues an item, waiting at most timeout for one to arrive.
// Returns ErrEmpty when the queue stays empty for the whole wait.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	var zero T
	if timeout <= 0 {
		return q.TryGet()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-t.C:
		return zero, ErrEmpty
	}
}

// TryPut attempts a non-blocking enqueue.
func (q *Queue[T]) TryPut(v T) error {
	if q.isClosed() {
		return ErrClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return ErrFull
	}
}

// TryGet attempts a non-blocking dequeue.
func (q *Queue[T]) TryGet() (T, error) {
	var zero T
	select {
	case v, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	default:
		return zero, ErrEmpty
	}
}

// Drain removes everything currently queued and returns the count.
// Items enqueued concurrently with the drain may survive it.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-q.ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close marks the queue closed and wakes blocked readers. Items already
// queued remain readable until consumed. Callers must stop all producers
// before closing; a Put racing a Close panics like any send on a closed
// channel.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// IsClosed reports whether Close has been called.
func (q *Queue[T]) IsClosed() bool {
	return q.isClosed()
}

func (q *Queue[T]) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
