// Package ext defines the extension system for sluice.
// Extensions are notified of request lifecycle events (submitted,
// admitted, finished, etc.) and can react to them — logging, metrics,
// live event streams, statistics.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/sluicelabs/sluice/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Request lifecycle hooks
// ──────────────────────────────────────────────────

// RequestSubmitted is called when a request enters the dispatcher,
// before admission control runs.
type RequestSubmitted interface {
	OnRequestSubmitted(ctx context.Context, req *task.Request) error
}

// RequestAdmitted is called after a request takes a permit and is
// bound for the work queue.
type RequestAdmitted interface {
	OnRequestAdmitted(ctx context.Context, req *task.Request) error
}

// RequestStarted is called when a worker claims a request and begins
// processing it.
type RequestStarted interface {
	OnRequestStarted(ctx context.Context, req *task.Request) error
}

// RequestRetrying is called when an attempt fails and the request is
// scheduled for another one after the given delay.
type RequestRetrying interface {
	OnRequestRetrying(ctx context.Context, req *task.Request, attempt int, delay time.Duration) error
}

// RequestFinished is called exactly once per request with its terminal
// outcome, whatever the status.
type RequestFinished interface {
	OnRequestFinished(ctx context.Context, req *task.Request, out *task.Outcome) error
}

// RequestRejected is called when a request is refused before admission:
// gate closed, at capacity, rate limited, or queue full. The terminal
// RequestFinished hook still fires with the rejected outcome.
type RequestRejected interface {
	OnRequestRejected(ctx context.Context, req *task.Request, err error) error
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called once the dispatcher has fully stopped.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
