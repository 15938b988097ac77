package sluice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sluicelabs/sluice/backoff"
	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/gate"
	"github.com/sluicelabs/sluice/middleware"
	"github.com/sluicelabs/sluice/observability"
	"github.com/sluicelabs/sluice/queue"
	"github.com/sluicelabs/sluice/stats"
	"github.com/sluicelabs/sluice/stream"
	"github.com/sluicelabs/sluice/task"
	"github.com/sluicelabs/sluice/worker"
)

// Dispatcher is the central coordinator: it admits requests under the
// admission limit, hands them to the worker pool through the bounded
// work queue, delivers one outcome per request, aggregates statistics,
// and drains on shutdown.
//
// Create one with New and functional options, then call Start. All
// methods are safe for concurrent use.
type Dispatcher struct {
	config   Config
	logger   *slog.Logger
	handler  task.Handler
	mws      []middleware.Middleware
	bo       backoff.Strategy
	userExts []ext.Extension

	extensions *ext.Registry
	collector  *stats.Collector
	broker     *stream.Broker
	gate       *gate.Gate
	queue      *queue.Queue
	pool       *worker.Pool

	// state transitions happen under mu; reads are lock-free. submits
	// counts Submit calls in their admission phase, so Stop freezes the
	// totals only after every producer has enqueued or been refused.
	mu       sync.RWMutex
	state    atomic.Int32
	submits  sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New creates a Dispatcher with the given options. A handler set via
// WithHandler is required.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	if d.handler == nil {
		return nil, ErrNoHandler
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	if d.bo == nil {
		d.bo = backoff.DefaultStrategy()
	}

	d.extensions = ext.NewRegistry(d.logger)
	d.broker = stream.NewBroker(d.logger)

	var gateOpts []gate.Option
	if d.config.RateLimit > 0 {
		gateOpts = append(gateOpts, gate.WithRateLimit(d.config.RateLimit, d.config.RateBurst))
	}
	d.gate = gate.New(d.config.AdmissionLimit, gateOpts...)
	d.queue = queue.New(d.config.QueueCapacity)

	// Default chain: the executor prepends recover, then tracing,
	// metrics, and logging wrap any user middleware.
	chain := append([]middleware.Middleware{
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(d.logger),
	}, d.mws...)

	executor := worker.NewExecutor(d.handler, d.extensions, d.bo, d.logger, chain...)
	d.pool = worker.NewPool(d.queue, d.gate, executor, d.extensions, d.logger,
		worker.WithPoolSize(d.config.WorkerCount))

	return d, nil
}

// ── Lifecycle ─────────────────────────

// Start spawns the statistics collector and the worker pool. The
// built-in extensions register here, ahead of any user extensions, so
// counters and the event stream observe every request. Starting twice
// fails with ErrAlreadyStarted; a stopped dispatcher cannot be
// restarted.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.State() != StateNew {
		return ErrAlreadyStarted
	}

	d.collector = stats.NewCollector(d.logger, stats.WithBuffer(d.config.StatsBuffer))
	d.extensions.Register(d.collector)
	d.extensions.Register(d.broker)
	d.extensions.Register(observability.NewMetricsExtension())
	for _, e := range d.userExts {
		d.extensions.Register(e)
	}

	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.state.Store(int32(StateRunning))

	d.logger.Info("dispatcher started",
		slog.Int("workers", d.config.WorkerCount),
		slog.Int("admission_limit", d.config.AdmissionLimit),
		slog.Int("queue_capacity", d.config.QueueCapacity),
	)

	return nil
}

// Stop drains the dispatcher: admission closes, in-flight requests
// finish, and whatever outlives the grace period is aborted with a
// synthetic outcome. The grace period is the ctx deadline when one is
// set, otherwise ShutdownGracePeriod. Stop is idempotent; concurrent
// calls wait for the first to finish and share its result.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.State() == StateNew {
		return ErrNotStarted
	}

	d.stopOnce.Do(func() {
		d.stopErr = d.doStop(ctx)
	})

	return d.stopErr
}

func (d *Dispatcher) doStop(ctx context.Context) error {
	d.mu.Lock()
	d.state.Store(int32(StateDraining))
	d.mu.Unlock()

	d.logger.Info("dispatcher draining",
		slog.Duration("grace_period", d.config.ShutdownGracePeriod),
	)

	// Refuse new admissions and stop queue intake together: a producer
	// parked awaiting queue space fails with ErrClosed instead of
	// pinning the drain behind its (possibly absent) deadline. Once the
	// wait returns, no producer can touch the queue or emit an outcome.
	d.gate.Close()
	d.queue.Close()
	d.submits.Wait()

	graceCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		graceCtx, cancel = context.WithTimeout(ctx, d.config.ShutdownGracePeriod)
		defer cancel()
	}
	err := d.pool.Stop(graceCtx)

	// All outcome producers have returned; the totals are complete.
	d.collector.Close()
	d.extensions.EmitShutdown(ctx)

	d.mu.Lock()
	d.state.Store(int32(StateStopped))
	d.mu.Unlock()

	snap := d.Stats()
	d.logger.Info("dispatcher stopped",
		slog.Int64("submitted", snap.TotalSubmitted),
		slog.Int64("succeeded", snap.TotalSucceeded),
		slog.Int64("aborted", snap.TotalAborted),
	)

	return err
}

// ── Submission ─────────────────────────

// Submit dispatches payload and suspends until its outcome is ready or
// ctx is done. Per-request options override the configured defaults.
//
// A refused submission (dispatcher not running, admission or queue
// refusal, deadline already passed) returns the terminal outcome
// together with the matching sentinel error. A processed request
// returns its outcome with a nil error, whatever its status: inspect
// Outcome.Status for the result. If ctx ends the wait, Submit returns
// ctx.Err(); the outcome is still produced and counted.
func (d *Dispatcher) Submit(ctx context.Context, payload []byte, opts ...task.Option) (*task.Outcome, error) {
	pd, out, err := d.admit(ctx, payload, opts...)
	if pd == nil {
		return out, err
	}

	select {
	case out := <-pd.Reply():
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admit runs the admission phase: entry check, deadline pre-check,
// permit acquisition, tracking, and enqueue. It returns a non-nil
// Pending exactly when the request reached the queue and an outcome
// should be awaited; otherwise the refusal outcome and error.
func (d *Dispatcher) admit(ctx context.Context, payload []byte, opts ...task.Option) (*worker.Pending, *task.Outcome, error) {
	d.mu.RLock()
	st := d.State()
	if st != StateRunning {
		d.mu.RUnlock()
		if st == StateNew {
			return nil, nil, ErrNotStarted
		}
		// Draining or stopped: fail fast. The snapshot is final by
		// now, so this refusal is deliberately not counted.
		return nil, &task.Outcome{Status: task.StatusRejected, Err: ErrClosed}, ErrClosed
	}
	d.submits.Add(1)
	d.mu.RUnlock()
	defer d.submits.Done()

	if d.config.RequestTimeout > 0 {
		opts = append([]task.Option{task.WithTimeout(d.config.RequestTimeout)}, opts...)
	}
	req := task.New(payload, opts...)
	d.extensions.EmitRequestSubmitted(ctx, req)

	if req.Expired(time.Now()) {
		out := d.finishRefused(ctx, req, task.StatusTimedOut, task.ErrTimedOut)
		return nil, out, task.ErrTimedOut
	}

	if err := d.acquire(ctx, req); err != nil {
		status, cause := classifyRefusal(err)
		out := d.finishRefused(ctx, req, status, cause)
		return nil, out, cause
	}

	pd, err := d.pool.Track(req)
	if err != nil {
		// Shutdown won the race for the last permit.
		d.gate.Release()
		out := d.finishRefused(ctx, req, task.StatusRejected, ErrClosed)
		return nil, out, ErrClosed
	}
	d.extensions.EmitRequestAdmitted(ctx, req)

	if err := d.enqueue(ctx, req); err != nil {
		status, cause := classifyRefusal(err)
		out := &task.Outcome{
			RequestID: req.ID,
			Status:    status,
			Latency:   time.Since(req.SubmittedAt),
			Err:       cause,
		}
		if status == task.StatusRejected {
			d.extensions.EmitRequestRejected(ctx, req, cause)
		}
		d.pool.Finish(pd, out)
		return nil, out, cause
	}

	return pd, nil, nil
}

// acquire takes an admission permit per the configured policy. Under
// AdmitBlock the wait is bounded by the request's deadline.
func (d *Dispatcher) acquire(ctx context.Context, req *task.Request) error {
	if d.config.AdmitPolicy == AdmitReject {
		return d.gate.TryAcquire()
	}

	actx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		actx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	return d.gate.Acquire(actx)
}

// enqueue hands an admitted request to the work queue. Under
// AdmitReject a full queue refuses immediately; under AdmitBlock the
// wait is bounded by the request's deadline and a deadline elapsing
// there still reports the queue as the refusal. A queue closed by
// shutdown surfaces as ErrClosed under either policy.
func (d *Dispatcher) enqueue(ctx context.Context, req *task.Request) error {
	var err error
	if d.config.AdmitPolicy == AdmitReject {
		err = d.queue.TryEnqueue(req)
	} else {
		actx := ctx
		if !req.Deadline.IsZero() {
			var cancel context.CancelFunc
			actx, cancel = context.WithDeadline(ctx, req.Deadline)
			defer cancel()
		}
		err = d.queue.Enqueue(actx, req)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("deadline elapsed awaiting queue space: %w", ErrQueueFull)
	case errors.Is(err, queue.ErrClosed):
		return fmt.Errorf("shutdown interrupted enqueue: %w", ErrClosed)
	default:
		return err
	}
}

// finishRefused produces and accounts the terminal outcome for a
// request refused before it was tracked.
func (d *Dispatcher) finishRefused(ctx context.Context, req *task.Request, status task.Status, cause error) *task.Outcome {
	out := &task.Outcome{
		RequestID: req.ID,
		Status:    status,
		Latency:   time.Since(req.SubmittedAt),
		Err:       cause,
	}
	if status == task.StatusRejected {
		d.extensions.EmitRequestRejected(ctx, req, cause)
	}
	d.extensions.EmitRequestFinished(ctx, req, out)

	return out
}

// classifyRefusal maps an admission or enqueue failure to its outcome
// status and sentinel cause. A deadline that fired before admission is
// a timeout; everything else is a rejection carrying its cause.
func classifyRefusal(err error) (task.Status, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return task.StatusTimedOut, task.ErrTimedOut
	}

	return task.StatusRejected, err
}

// ── Introspection ─────────────────────────

// Stats returns a point-in-time snapshot of the aggregate counters,
// with the in-flight and queue depth gauges filled in. It never blocks
// on request processing.
func (d *Dispatcher) Stats() stats.Snapshot {
	d.mu.RLock()
	collector := d.collector
	d.mu.RUnlock()

	var snap stats.Snapshot
	if collector != nil {
		snap = collector.Snapshot()
	}
	snap.InFlight = int64(d.gate.InFlight())
	snap.QueueDepth = int64(d.queue.Len())

	return snap
}

// State returns the dispatcher's lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// InFlight returns the number of requests currently holding an
// admission permit.
func (d *Dispatcher) InFlight() int {
	return d.gate.InFlight()
}

// Available returns the number of free admission permits.
func (d *Dispatcher) Available() int {
	return d.gate.Available()
}

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Extensions returns the extension registry. Register extensions
// before Start; WithExtensions is the usual way.
func (d *Dispatcher) Extensions() *ext.Registry { return d.extensions }

// ── Event stream ─────────────────────────

// Subscribe registers a live lifecycle event feed over the given
// topics, defaulting to the firehose. Close the feed by passing the
// same id to Unsubscribe.
func (d *Dispatcher) Subscribe(subscriberID string, topics ...string) *stream.Subscriber {
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}

	return d.broker.Subscribe(subscriberID, topics...)
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *Dispatcher) Unsubscribe(subscriberID string) {
	d.broker.RemoveSubscriber(subscriberID)
}
