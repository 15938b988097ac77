package sluice

import (
	"errors"

	"github.com/sluicelabs/sluice/gate"
	"github.com/sluicelabs/sluice/queue"
	"github.com/sluicelabs/sluice/task"
)

var (
	// Lifecycle errors.
	ErrNoHandler      = errors.New("sluice: no handler configured")
	ErrAlreadyStarted = errors.New("sluice: dispatcher already started")
	ErrNotStarted     = errors.New("sluice: dispatcher not started")
)

// Submission errors, aliased from the packages that produce them so a
// caller can match with errors.Is against either form.
var (
	// ErrClosed means the dispatcher is draining or stopped and admits
	// nothing.
	ErrClosed = gate.ErrClosed

	// ErrAtCapacity means the admission limit is reached and the
	// reject policy is in effect.
	ErrAtCapacity = gate.ErrAtCapacity

	// ErrRateLimited means the admission rate limiter refused the
	// request.
	ErrRateLimited = gate.ErrRateLimited

	// ErrQueueFull means the work queue bound is reached: immediately
	// under the reject policy, or after the request's deadline elapsed
	// waiting for space under the block policy.
	ErrQueueFull = queue.ErrFull

	// ErrTimedOut is carried by timed-out outcomes.
	ErrTimedOut = task.ErrTimedOut

	// ErrAborted is carried by outcomes produced by a forced shutdown.
	ErrAborted = task.ErrAborted
)
