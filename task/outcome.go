package task

import (
	"errors"
	"time"

	"github.com/sluicelabs/sluice/id"
)

// Sentinel errors attached to synthetic outcomes.
var (
	// ErrTimedOut is the error detail of a timed-out outcome.
	ErrTimedOut = errors.New("task: deadline exceeded")
	// ErrAborted is the error detail of an outcome produced by a
	// forced shutdown.
	ErrAborted = errors.New("task: aborted during shutdown")
)

// Status is the terminal disposition of a request.
type Status string

const (
	// StatusSuccess means the handler completed without error.
	StatusSuccess Status = "success"
	// StatusFailed means the handler returned an error or panicked,
	// with no retry budget remaining.
	StatusFailed Status = "failed"
	// StatusTimedOut means the deadline elapsed before or during processing.
	StatusTimedOut Status = "timed_out"
	// StatusRejected means the request was refused before processing:
	// admission closed or at capacity, rate limited, or the queue full.
	StatusRejected Status = "rejected"
	// StatusAborted means a forced shutdown terminated the request
	// while it was still queued or being processed.
	StatusAborted Status = "aborted"
)

// Outcome is produced exactly once per request: by the worker that
// processed it, or by the admission or shutdown path for requests that
// never reached a worker.
type Outcome struct {
	RequestID id.RequestID  `json:"request_id"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Attempts  int           `json:"attempts,omitempty"`
	WorkerID  id.WorkerID   `json:"worker_id,omitempty"`
	Err       error         `json:"-"`
}

// Succeeded reports whether the request completed successfully.
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// ErrorDetail returns the error message, or an empty string for
// outcomes without an error.
func (o *Outcome) ErrorDetail() string {
	if o.Err == nil {
		return ""
	}

	return o.Err.Error()
}
