// Package stats implements the statistics aggregator. A Collector
// receives lifecycle events through the ext.Extension hooks and applies
// them on a single owning goroutine, so concurrent completions never
// lose updates and a snapshot always reflects a whole number of events.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Collector)(nil)
	_ ext.RequestSubmitted = (*Collector)(nil)
	_ ext.RequestFinished  = (*Collector)(nil)
)

// DefaultBuffer is the default capacity of the event channel between
// hook callers and the apply goroutine.
const DefaultBuffer = 256

// Snapshot is a point-in-time copy of the aggregate counters.
// Counters are monotonic and, once the dispatcher has stopped, final.
// At quiescence TotalSubmitted equals the sum of the five outcome
// counters.
type Snapshot struct {
	TotalSubmitted int64 `json:"total_submitted"`
	TotalSucceeded int64 `json:"total_succeeded"`
	TotalFailed    int64 `json:"total_failed"`
	TotalTimedOut  int64 `json:"total_timed_out"`
	TotalRejected  int64 `json:"total_rejected"`
	TotalAborted   int64 `json:"total_aborted"`

	// CumulativeLatency sums the latency of successful requests only.
	// AvgLatency is derived from it on read, never stored pre-divided.
	CumulativeLatency time.Duration `json:"cumulative_latency"`
	AvgLatency        time.Duration `json:"avg_latency"`

	// Gauges populated by the dispatcher, not the collector.
	InFlight   int64 `json:"in_flight"`
	QueueDepth int64 `json:"queue_depth"`
}

// eventKind discriminates collector events.
type eventKind int

const (
	eventSubmitted eventKind = iota
	eventFinished
)

type event struct {
	kind    eventKind
	status  task.Status
	latency time.Duration
}

// Collector aggregates request lifecycle events. It implements
// ext.Extension and is registered with the dispatcher's extension
// registry; hook calls enqueue events, the apply goroutine owns the
// counters.
type Collector struct {
	logger *slog.Logger
	events chan event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu   sync.RWMutex
	snap Snapshot
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) CollectorOption {
	return func(c *Collector) { c.events = make(chan event, n) }
}

// NewCollector creates a collector and starts its apply goroutine.
// Call Close to drain outstanding events and freeze the totals.
func NewCollector(logger *slog.Logger, opts ...CollectorOption) *Collector {
	c := &Collector{
		logger: logger,
		events: make(chan event, DefaultBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Name implements ext.Extension.
func (c *Collector) Name() string { return "stats-collector" }

// OnRequestSubmitted counts an accepted submission.
func (c *Collector) OnRequestSubmitted(_ context.Context, _ *task.Request) error {
	c.events <- event{kind: eventSubmitted}
	return nil
}

// OnRequestFinished counts a terminal outcome.
func (c *Collector) OnRequestFinished(_ context.Context, _ *task.Request, out *task.Outcome) error {
	c.events <- event{kind: eventFinished, status: out.Status, latency: out.Latency}
	return nil
}

// Snapshot returns a consistent copy of the counters. It never blocks
// on the apply goroutine; AvgLatency is computed here.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.snap
	if s.TotalSucceeded > 0 {
		s.AvgLatency = s.CumulativeLatency / time.Duration(s.TotalSucceeded)
	}
	return s
}

// Close drains buffered events and stops the apply goroutine. After
// Close returns the totals are final. Safe to call multiple times.
func (c *Collector) Close() {
	c.once.Do(func() {
		close(c.quit)
	})
	<-c.done
}

// run is the owning goroutine: it is the only writer of the counters.
func (c *Collector) run() {
	defer close(c.done)

	for {
		select {
		case e := <-c.events:
			c.apply(e)
		case <-c.quit:
			// Drain whatever is already buffered, then exit.
			for {
				select {
				case e := <-c.events:
					c.apply(e)
				default:
					return
				}
			}
		}
	}
}

func (c *Collector) apply(e event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.kind {
	case eventSubmitted:
		c.snap.TotalSubmitted++
	case eventFinished:
		switch e.status {
		case task.StatusSuccess:
			c.snap.TotalSucceeded++
			c.snap.CumulativeLatency += e.latency
		case task.StatusFailed:
			c.snap.TotalFailed++
		case task.StatusTimedOut:
			c.snap.TotalTimedOut++
		case task.StatusRejected:
			c.snap.TotalRejected++
		case task.StatusAborted:
			c.snap.TotalAborted++
		default:
			c.logger.Warn("unknown outcome status", slog.String("status", string(e.status)))
		}
	}
}
