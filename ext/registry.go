package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/sluicelabs/sluice/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type submittedEntry struct {
	name string
	hook RequestSubmitted
}

type admittedEntry struct {
	name string
	hook RequestAdmitted
}

type startedEntry struct {
	name string
	hook RequestStarted
}

type retryingEntry struct {
	name string
	hook RequestRetrying
}

type finishedEntry struct {
	name string
	hook RequestFinished
}

type rejectedEntry struct {
	name string
	hook RequestRejected
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register must not be called after the dispatcher starts emitting.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	submitted []submittedEntry
	admitted  []admittedEntry
	started   []startedEntry
	retrying  []retryingEntry
	finished  []finishedEntry
	rejected  []rejectedEntry
	shutdown  []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RequestSubmitted); ok {
		r.submitted = append(r.submitted, submittedEntry{name, h})
	}
	if h, ok := e.(RequestAdmitted); ok {
		r.admitted = append(r.admitted, admittedEntry{name, h})
	}
	if h, ok := e.(RequestStarted); ok {
		r.started = append(r.started, startedEntry{name, h})
	}
	if h, ok := e.(RequestRetrying); ok {
		r.retrying = append(r.retrying, retryingEntry{name, h})
	}
	if h, ok := e.(RequestFinished); ok {
		r.finished = append(r.finished, finishedEntry{name, h})
	}
	if h, ok := e.(RequestRejected); ok {
		r.rejected = append(r.rejected, rejectedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Event emitters
// ──────────────────────────────────────────────────

// EmitRequestSubmitted notifies all extensions that implement RequestSubmitted.
func (r *Registry) EmitRequestSubmitted(ctx context.Context, req *task.Request) {
	for _, e := range r.submitted {
		if err := e.hook.OnRequestSubmitted(ctx, req); err != nil {
			r.logHookError("OnRequestSubmitted", e.name, err)
		}
	}
}

// EmitRequestAdmitted notifies all extensions that implement RequestAdmitted.
func (r *Registry) EmitRequestAdmitted(ctx context.Context, req *task.Request) {
	for _, e := range r.admitted {
		if err := e.hook.OnRequestAdmitted(ctx, req); err != nil {
			r.logHookError("OnRequestAdmitted", e.name, err)
		}
	}
}

// EmitRequestStarted notifies all extensions that implement RequestStarted.
func (r *Registry) EmitRequestStarted(ctx context.Context, req *task.Request) {
	for _, e := range r.started {
		if err := e.hook.OnRequestStarted(ctx, req); err != nil {
			r.logHookError("OnRequestStarted", e.name, err)
		}
	}
}

// EmitRequestRetrying notifies all extensions that implement RequestRetrying.
func (r *Registry) EmitRequestRetrying(ctx context.Context, req *task.Request, attempt int, delay time.Duration) {
	for _, e := range r.retrying {
		if err := e.hook.OnRequestRetrying(ctx, req, attempt, delay); err != nil {
			r.logHookError("OnRequestRetrying", e.name, err)
		}
	}
}

// EmitRequestFinished notifies all extensions that implement RequestFinished.
func (r *Registry) EmitRequestFinished(ctx context.Context, req *task.Request, out *task.Outcome) {
	for _, e := range r.finished {
		if err := e.hook.OnRequestFinished(ctx, req, out); err != nil {
			r.logHookError("OnRequestFinished", e.name, err)
		}
	}
}

// EmitRequestRejected notifies all extensions that implement RequestRejected.
func (r *Registry) EmitRequestRejected(ctx context.Context, req *task.Request, reqErr error) {
	for _, e := range r.rejected {
		if err := e.hook.OnRequestRejected(ctx, req, reqErr); err != nil {
			r.logHookError("OnRequestRejected", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
