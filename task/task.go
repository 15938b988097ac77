package task

import (
	"context"
	"time"

	"github.com/sluicelabs/sluice/id"
)

// Request represents one unit of work submitted to the dispatcher.
// A Request is immutable once created: the dispatcher assigns its ID
// and deadline at submission time and never mutates it afterwards.
// Ownership passes from the caller to the work queue at admission and
// to a single worker at claim time.
type Request struct {
	ID          id.RequestID  `json:"id"`
	Payload     []byte        `json:"payload"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Deadline    time.Time     `json:"deadline,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	MaxRetries  int           `json:"max_retries,omitempty"`
}

// New creates a Request carrying the given payload, applying any
// per-request options. The deadline is resolved once here: an explicit
// WithDeadline wins, otherwise a non-zero timeout is anchored at the
// submission instant. A zero deadline means the request never expires.
func New(payload []byte, opts ...Option) *Request {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now()
	deadline := o.Deadline
	if deadline.IsZero() && o.Timeout > 0 {
		deadline = now.Add(o.Timeout)
	}

	return &Request{
		ID:          id.NewRequestID(),
		Payload:     payload,
		SubmittedAt: now,
		Deadline:    deadline,
		Timeout:     o.Timeout,
		MaxRetries:  o.MaxRetries,
	}
}

// Expired reports whether the request's deadline has passed at the
// given instant. A request without a deadline never expires.
func (r *Request) Expired(now time.Time) bool {
	return !r.Deadline.IsZero() && now.After(r.Deadline)
}

// Handler processes the payload of a single request. Handlers must
// honor ctx cancellation: the dispatcher cancels the context when the
// request's deadline fires or a forced shutdown begins. Returning an
// error marks the attempt failed; a panic is recovered and treated the
// same way.
type Handler func(ctx context.Context, req *Request) error
