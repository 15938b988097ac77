package task

import (
	"context"

	"github.com/sluicelabs/sluice/id"
)

type contextKey int

const (
	attemptKey contextKey = iota
	workerKey
)

// WithAttempt returns a context carrying the current attempt number.
// The executor sets it before each handler invocation; middleware and
// handlers read it via AttemptFrom.
func WithAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey, n)
}

// AttemptFrom returns the attempt number carried by ctx, starting at 1.
// It returns 1 when ctx carries none.
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey).(int); ok {
		return n
	}

	return 1
}

// WithWorkerID returns a context carrying the processing worker's ID.
func WithWorkerID(ctx context.Context, w id.WorkerID) context.Context {
	return context.WithValue(ctx, workerKey, w)
}

// WorkerIDFrom returns the worker ID carried by ctx, or id.Nil.
func WorkerIDFrom(ctx context.Context) id.WorkerID {
	if w, ok := ctx.Value(workerKey).(id.WorkerID); ok {
		return w
	}

	return id.Nil
}
