// Package worker provides the request execution engine: an Executor
// that runs the handler through middleware with deadline and retry
// handling, and a Pool of worker goroutines consuming the queue and
// producing outcomes.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sluicelabs/sluice/backoff"
	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/id"
	"github.com/sluicelabs/sluice/middleware"
	"github.com/sluicelabs/sluice/task"
)

// Executor runs a single request through middleware and the handler,
// racing the work against the request's deadline and retrying failed
// attempts while budget and headroom remain.
type Executor struct {
	handler    task.Handler
	extensions *ext.Registry
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. Recover is always installed as the
// outermost middleware so a panicking handler becomes a failed attempt
// instead of killing the worker.
func NewExecutor(
	handler task.Handler,
	extensions *ext.Registry,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	chain := append([]middleware.Middleware{middleware.Recover(logger)}, mws...)
	return &Executor{
		handler:    handler,
		extensions: extensions,
		backoff:    bo,
		mw:         middleware.Chain(chain...),
		logger:     logger,
	}
}

// Execute processes a tracked request and returns its outcome.
// A request whose deadline has already elapsed reports TimedOut without
// invoking the handler. Otherwise the attempt runs against the
// deadline: whichever resolves first wins, and a losing attempt is
// abandoned to observe its context on its own time.
func (e *Executor) Execute(pd *Pending, workerID id.WorkerID) *task.Outcome {
	req := pd.Request()
	start := time.Now()

	if req.Expired(start) {
		return &task.Outcome{
			RequestID: req.ID,
			Status:    task.StatusTimedOut,
			Latency:   time.Since(req.SubmittedAt),
			WorkerID:  workerID,
			Err:       task.ErrTimedOut,
		}
	}

	ctx, cancel := e.requestContext(req)
	defer cancel()
	pd.setCancel(cancel)

	e.extensions.EmitRequestStarted(ctx, req)

	var attempts atomic.Int64
	resCh := make(chan error, 1)
	go func() {
		resCh <- e.runAttempts(ctx, req, workerID, &attempts)
	}()

	select {
	case err := <-resCh:
		return e.outcome(req, workerID, err, time.Since(start), int(attempts.Load()))
	case <-ctx.Done():
		return &task.Outcome{
			RequestID: req.ID,
			Status:    task.StatusTimedOut,
			Latency:   time.Since(start),
			Attempts:  int(attempts.Load()),
			WorkerID:  workerID,
			Err:       task.ErrTimedOut,
		}
	}
}

// requestContext builds the processing context. It is detached from
// the submitter's context: a caller abandoning its wait must not
// cancel processing.
func (e *Executor) requestContext(req *task.Request) (context.Context, context.CancelFunc) {
	if req.Deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), req.Deadline)
}

// runAttempts invokes the middleware chain and handler, retrying
// failed attempts with backoff while the retry budget and the deadline
// allow.
func (e *Executor) runAttempts(ctx context.Context, req *task.Request, workerID id.WorkerID, attempts *atomic.Int64) error {
	for {
		attempt := int(attempts.Add(1))
		actx := task.WithAttempt(task.WithWorkerID(ctx, workerID), attempt)

		err := e.mw(actx, req, func(c context.Context) error {
			return e.handler(c, req)
		})
		if err == nil {
			return nil
		}
		if attempt > req.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := e.backoff.Delay(attempt)
		if !req.Deadline.IsZero() && time.Now().Add(delay).After(req.Deadline) {
			// No headroom for another attempt.
			return err
		}

		e.extensions.EmitRequestRetrying(actx, req, attempt, delay)
		e.logger.Info("request scheduled for retry",
			slog.String("request_id", req.ID.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", req.MaxRetries),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// outcome classifies the final attempt error.
func (e *Executor) outcome(req *task.Request, workerID id.WorkerID, err error, latency time.Duration, attempts int) *task.Outcome {
	out := &task.Outcome{
		RequestID: req.ID,
		Latency:   latency,
		Attempts:  attempts,
		WorkerID:  workerID,
	}
	switch {
	case err == nil:
		out.Status = task.StatusSuccess
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		out.Status = task.StatusTimedOut
		out.Err = task.ErrTimedOut
	default:
		out.Status = task.StatusFailed
		out.Err = err
	}
	return out
}
