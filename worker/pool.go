package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/gate"
	"github.com/sluicelabs/sluice/id"
	"github.com/sluicelabs/sluice/queue"
	"github.com/sluicelabs/sluice/task"
)

// ErrStopping is returned by Track once the pool has swept its pending
// requests and no longer accepts new ones.
var ErrStopping = errors.New("worker: pool is stopping")

// Pool manages a fixed set of worker goroutines consuming admitted
// requests from the queue. It also owns the pending registry: the set
// of admitted requests that have not yet produced an outcome.
type Pool struct {
	queue      *queue.Queue
	gate       *gate.Gate
	executor   *Executor
	extensions *ext.Registry
	size       int
	logger     *slog.Logger

	pending *registry

	abortCh chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the number of worker goroutines.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) { p.size = n }
}

// NewPool creates a worker pool.
func NewPool(
	q *queue.Queue,
	g *gate.Gate,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:      q,
		gate:       g,
		executor:   executor,
		extensions: extensions,
		size:       4,
		logger:     logger,
		pending:    newRegistry(),
		abortCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("size", p.size))

	for range p.size {
		workerID := id.NewWorkerID()
		p.wg.Add(1)
		go p.workLoop(workerID)
	}

	return nil
}

// Stop closes the queue, waits for the workers to drain it, and aborts
// whatever is left when ctx expires. Tracked requests that never
// reached a worker are finished as Aborted either way.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained")
	case <-ctx.Done():
		p.logger.Warn("grace period elapsed, aborting in-flight requests")
		close(p.abortCh)
		p.abortPending()
		<-done
	}

	// Anything still tracked was never claimed by a worker.
	p.abortPending()

	// The workers are gone; drop whatever aborted requests left behind
	// so the queue depth reads zero once stopped.
	for {
		select {
		case <-p.queue.C():
		default:
			return nil
		}
	}
}

// Track registers an admitted request and returns its reply handle.
// The caller holds an admission permit; Finish releases it.
func (p *Pool) Track(req *task.Request) (*Pending, error) {
	pd := newPending(req)
	if !p.pending.add(pd) {
		return nil, ErrStopping
	}
	return pd, nil
}

// Finish delivers the outcome for a tracked request exactly once:
// reply, registry removal, permit release, and the finished event.
// Returns false if another path already finished the request.
func (p *Pool) Finish(pd *Pending, out *task.Outcome) bool {
	if !pd.done.CompareAndSwap(false, true) {
		return false
	}
	pd.reply <- out
	p.pending.remove(pd.req.ID.String())
	p.gate.Release()
	p.extensions.EmitRequestFinished(context.Background(), pd.req, out)
	return true
}

// InFlight returns the number of admitted requests that have not yet
// produced an outcome.
func (p *Pool) InFlight() int {
	return p.pending.size()
}

// workLoop is run by each worker goroutine. It exits after the queue
// closes and drains, or immediately on forced abort.
func (p *Pool) workLoop(workerID id.WorkerID) {
	defer p.wg.Done()

	p.logger.Debug("worker started", slog.String("worker_id", workerID.String()))

	for {
		select {
		case req := <-p.queue.C():
			p.process(workerID, req)
		case <-p.queue.Closed():
			p.drainRemaining(workerID)
			p.logger.Debug("worker exiting", slog.String("worker_id", workerID.String()))
			return
		case <-p.abortCh:
			return
		}
	}
}

// drainRemaining empties the queue after close so already-admitted
// requests still complete.
func (p *Pool) drainRemaining(workerID id.WorkerID) {
	for {
		select {
		case <-p.abortCh:
			return
		default:
		}

		select {
		case req := <-p.queue.C():
			p.process(workerID, req)
		default:
			return
		}
	}
}

func (p *Pool) process(workerID id.WorkerID, req *task.Request) {
	pd, ok := p.pending.get(req.ID.String())
	if !ok {
		// Swept during shutdown before a worker claimed it.
		return
	}
	out := p.executor.Execute(pd, workerID)
	p.Finish(pd, out)
}

// abortPending finishes every still-tracked request as Aborted and
// cancels its processing attempt. Finishing first guarantees the
// executor's own late outcome loses the exactly-once race.
func (p *Pool) abortPending() {
	for _, pd := range p.pending.drain() {
		out := &task.Outcome{
			RequestID: pd.req.ID,
			Status:    task.StatusAborted,
			Latency:   time.Since(pd.req.SubmittedAt),
			Err:       task.ErrAborted,
		}
		if p.Finish(pd, out) {
			p.logger.Warn("aborted in-flight request",
				slog.String("request_id", pd.req.ID.String()),
			)
		}
		pd.abort()
	}
}
