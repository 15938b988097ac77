package task

import "time"

// Options configures per-request behavior such as deadline and retries.
type Options struct {
	// Timeout is the maximum duration the request may spend in the
	// dispatcher, queue wait included. Zero defers to the dispatcher's
	// configured default.
	Timeout time.Duration

	// Deadline is an absolute cutoff. When set it takes precedence
	// over Timeout.
	Deadline time.Time

	// MaxRetries is the number of additional attempts after a failed
	// one. Zero means a single attempt.
	MaxRetries int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:    0,
		MaxRetries: 0,
	}
}

// Option is a functional option for configuring a request.
type Option func(*Options)

// WithTimeout sets the request's relative deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithDeadline sets the request's absolute deadline.
func WithDeadline(t time.Time) Option {
	return func(o *Options) {
		o.Deadline = t
	}
}

// WithMaxRetries sets the number of additional attempts after a failure.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}
