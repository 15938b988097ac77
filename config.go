package sluice

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AdmitPolicy selects how Submit behaves when the admission limit is
// reached or the work queue is full.
type AdmitPolicy string

const (
	// AdmitBlock suspends the submitter until capacity frees, bounded
	// by the request's deadline.
	AdmitBlock AdmitPolicy = "block"

	// AdmitReject refuses immediately with a Rejected outcome.
	AdmitReject AdmitPolicy = "reject"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// WorkerCount is the number of worker loops processing requests.
	WorkerCount int `envconfig:"WORKER_COUNT"`

	// QueueCapacity bounds the work queue between admission and the
	// workers. It is distinct from the admission limit: the limit
	// bounds total in-flight work, the queue bound smooths bursts.
	QueueCapacity int `envconfig:"QUEUE_CAPACITY"`

	// AdmissionLimit is the maximum number of requests in flight at
	// once, queued requests included.
	AdmissionLimit int `envconfig:"ADMISSION_LIMIT"`

	// RequestTimeout is the default deadline for requests submitted
	// without one. Zero disables the default.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT"`

	// ShutdownGracePeriod is how long Stop waits for in-flight
	// requests before aborting them. A deadline on the Stop context
	// takes precedence.
	ShutdownGracePeriod time.Duration `envconfig:"SHUTDOWN_GRACE_PERIOD"`

	// AdmitPolicy selects blocking or rejecting admission at capacity.
	AdmitPolicy AdmitPolicy `envconfig:"ADMIT_POLICY"`

	// RateLimit caps admissions per second. Zero disables limiting.
	RateLimit float64 `envconfig:"RATE_LIMIT"`

	// RateBurst is the token bucket burst size for the rate limiter.
	RateBurst int `envconfig:"RATE_BURST"`

	// StatsBuffer is the capacity of the statistics event channel.
	StatsBuffer int `envconfig:"STATS_BUFFER"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:         4,
		QueueCapacity:       100,
		AdmissionLimit:      64,
		RequestTimeout:      5 * time.Minute,
		ShutdownGracePeriod: 30 * time.Second,
		AdmitPolicy:         AdmitBlock,
		StatsBuffer:         256,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by SLUICE_* environment
// variables (SLUICE_WORKER_COUNT, SLUICE_ADMIT_POLICY, and so on).
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process("sluice", &cfg); err != nil {
		return Config{}, fmt.Errorf("sluice: load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("sluice: worker count must be positive, got %d", c.WorkerCount)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("sluice: queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.AdmissionLimit < 1 {
		return fmt.Errorf("sluice: admission limit must be positive, got %d", c.AdmissionLimit)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("sluice: request timeout must not be negative, got %s", c.RequestTimeout)
	}
	if c.ShutdownGracePeriod < 0 {
		return fmt.Errorf("sluice: shutdown grace period must not be negative, got %s", c.ShutdownGracePeriod)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("sluice: rate limit must not be negative, got %v", c.RateLimit)
	}
	if c.StatsBuffer < 1 {
		return fmt.Errorf("sluice: stats buffer must be positive, got %d", c.StatsBuffer)
	}
	switch c.AdmitPolicy {
	case AdmitBlock, AdmitReject:
	default:
		return fmt.Errorf("sluice: unknown admit policy %q", c.AdmitPolicy)
	}

	return nil
}
