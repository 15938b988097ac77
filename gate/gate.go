// Package gate implements the admission gate: a counting permit pool
// that bounds the number of concurrently in-flight requests.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors returned by Acquire and TryAcquire.
var (
	// ErrClosed means the gate has been closed and admits nothing.
	ErrClosed = errors.New("gate: closed")

	// ErrAtCapacity means all permits are held and the caller opted
	// not to wait.
	ErrAtCapacity = errors.New("gate: at capacity")

	// ErrRateLimited means the admission rate limiter refused the
	// request and the caller opted not to wait.
	ErrRateLimited = errors.New("gate: rate limited")
)

// Gate is a closeable counting permit pool. Waiters are not served in
// FIFO order, but every waiter is eligible each time a permit returns,
// so none starves. Safe for concurrent use.
type Gate struct {
	permits chan struct{}
	closed  chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

// Option configures a Gate.
type Option func(*Gate)

// WithRateLimit attaches a token-bucket limiter to admission. Acquire
// waits for a token; TryAcquire fails with ErrRateLimited when none is
// available. A non-positive perSecond disables limiting; burst defaults
// to 1.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Gate) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a Gate with the given number of permits.
// It panics if limit is not positive (programming error).
func New(limit int, opts ...Option) *Gate {
	if limit < 1 {
		panic("gate: limit must be positive")
	}

	g := &Gate{
		permits: make(chan struct{}, limit),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Acquire blocks until a permit is available, the gate closes, or ctx
// is done. It returns nil exactly when the caller holds a permit and
// must later call Release.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case <-g.closed:
		return ErrClosed
	default:
	}

	if err := g.waitForToken(ctx); err != nil {
		return err
	}

	select {
	case g.permits <- struct{}{}:
		return nil
	case <-g.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForToken blocks until the rate limiter grants a token. Unlike
// rate.Limiter.Wait, it also wakes when the gate closes, so shutdown
// never leaves a caller parked on the limiter.
func (g *Gate) waitForToken(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}

	r := g.limiter.Reserve()
	if !r.OK() {
		return ErrRateLimited
	}

	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-g.closed:
		r.Cancel()
		return ErrClosed
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// TryAcquire takes a permit without blocking. It returns ErrClosed,
// ErrRateLimited, or ErrAtCapacity when no permit can be taken.
func (g *Gate) TryAcquire() error {
	select {
	case <-g.closed:
		return ErrClosed
	default:
	}

	if g.limiter != nil && !g.limiter.Allow() {
		return ErrRateLimited
	}

	select {
	case g.permits <- struct{}{}:
		return nil
	default:
		return ErrAtCapacity
	}
}

// Release returns a permit. Exactly one Release must follow each
// successful acquire. Releasing a permit that was never acquired is a
// permit-accounting bug and panics.
func (g *Gate) Release() {
	select {
	case <-g.permits:
	default:
		panic("gate: release without matching acquire")
	}
}

// Close fails all pending and future acquires with ErrClosed. Permits
// already held remain valid and must still be released. Close is
// idempotent.
func (g *Gate) Close() {
	g.once.Do(func() {
		close(g.closed)
	})
}

// IsClosed reports whether the gate has been closed.
func (g *Gate) IsClosed() bool {
	select {
	case <-g.closed:
		return true
	default:
		return false
	}
}

// InFlight returns the number of permits currently held.
func (g *Gate) InFlight() int {
	return len(g.permits)
}

// Available returns the number of permits currently free.
func (g *Gate) Available() int {
	return cap(g.permits) - len(g.permits)
}

// Limit returns the total number of permits.
func (g *Gate) Limit() int {
	return cap(g.permits)
}
