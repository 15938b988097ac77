// Package queue implements the bounded FIFO work queue carrying
// admitted requests from the dispatch path to idle workers.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sluicelabs/sluice/task"
)

// Sentinel errors returned by Enqueue and TryEnqueue.
var (
	// ErrFull means the queue bound is reached and the caller opted
	// not to wait.
	ErrFull = errors.New("queue: full")

	// ErrClosed means the queue no longer accepts requests.
	ErrClosed = errors.New("queue: closed")
)

// Queue is a bounded FIFO of requests. Its capacity is distinct from
// the admission limit: the limit bounds total in-flight work while the
// queue bound smooths bursts between admission and claim.
//
// The request channel itself is never closed, so a producer blocked on
// a full queue can never hit a send-on-closed panic. Close instead
// broadcasts on a separate signal channel: blocked producers fail with
// ErrClosed, and consumers select on Closed to switch from blocking
// receives to drain-and-exit.
type Queue struct {
	ch      chan *task.Request
	closeCh chan struct{}
	once    sync.Once
}

// New creates a Queue with the given capacity.
// It panics if capacity is not positive (programming error).
func New(capacity int) *Queue {
	if capacity < 1 {
		panic("queue: capacity must be positive")
	}

	return &Queue{
		ch:      make(chan *task.Request, capacity),
		closeCh: make(chan struct{}),
	}
}

// Enqueue appends req, blocking while the queue is full until space
// frees, ctx is done, or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, req *task.Request) error {
	select {
	case <-q.closeCh:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeCh:
		return ErrClosed
	}
}

// TryEnqueue appends req without blocking, failing with ErrFull when
// the queue bound is reached.
func (q *Queue) TryEnqueue(req *task.Request) error {
	select {
	case <-q.closeCh:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- req:
		return nil
	default:
		return ErrFull
	}
}

// C returns the receive side. Requests remain receivable after Close
// until the buffer drains.
func (q *Queue) C() <-chan *task.Request {
	return q.ch
}

// Closed returns a channel that is closed once the queue stops
// accepting requests. Consumers select on it to begin draining.
func (q *Queue) Closed() <-chan struct{} {
	return q.closeCh
}

// Close stops intake and wakes blocked producers with ErrClosed.
// Requests already queued remain receivable. Close is idempotent.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.closeCh)
	})
}

// IsClosed reports whether the queue has been closed.
func (q *Queue) IsClosed() bool {
	select {
	case <-q.closeCh:
		return true
	default:
		return false
	}
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
