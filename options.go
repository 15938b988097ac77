package sluice

import (
	"log/slog"
	"time"

	"github.com/sluicelabs/sluice/backoff"
	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/middleware"
	"github.com/sluicelabs/sluice/task"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithHandler sets the handler invoked for every request. A handler is
// required: New fails with ErrNoHandler without one.
func WithHandler(h task.Handler) Option {
	return func(d *Dispatcher) error {
		d.handler = h
		return nil
	}
}

// WithConfig replaces the entire configuration. Combine with the
// field-level options below, which win when applied later.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithWorkerCount sets the number of worker loops.
func WithWorkerCount(n int) Option {
	return func(d *Dispatcher) error {
		d.config.WorkerCount = n
		return nil
	}
}

// WithQueueCapacity sets the work queue bound.
func WithQueueCapacity(n int) Option {
	return func(d *Dispatcher) error {
		d.config.QueueCapacity = n
		return nil
	}
}

// WithAdmissionLimit sets the maximum number of in-flight requests.
func WithAdmissionLimit(n int) Option {
	return func(d *Dispatcher) error {
		d.config.AdmissionLimit = n
		return nil
	}
}

// WithRequestTimeout sets the default deadline for requests submitted
// without one.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.RequestTimeout = timeout
		return nil
	}
}

// WithShutdownGracePeriod sets how long Stop waits for in-flight
// requests before aborting them.
func WithShutdownGracePeriod(grace time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownGracePeriod = grace
		return nil
	}
}

// WithAdmitPolicy selects blocking or rejecting admission at capacity.
func WithAdmitPolicy(policy AdmitPolicy) Option {
	return func(d *Dispatcher) error {
		d.config.AdmitPolicy = policy
		return nil
	}
}

// WithRateLimit caps admissions at perSecond with the given burst.
// A non-positive perSecond disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) error {
		d.config.RateLimit = perSecond
		d.config.RateBurst = burst
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithMiddleware appends middleware to the request processing chain.
// The dispatcher's default chain (recover, tracing, metrics, logging)
// runs first; middleware added here wraps the handler inside it.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) error {
		d.mws = append(d.mws, mws...)
		return nil
	}
}

// WithExtensions registers lifecycle extensions. They fire after the
// built-in collector, event broker, and metrics extensions.
func WithExtensions(exts ...ext.Extension) Option {
	return func(d *Dispatcher) error {
		d.userExts = append(d.userExts, exts...)
		return nil
	}
}

// WithBackoff sets the retry delay strategy. If not set,
// backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(d *Dispatcher) error {
		d.bo = b
		return nil
	}
}
