package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sluicelabs/sluice/task"
)

// Pending pairs an admitted request with its single-use reply path.
// Exactly one outcome is ever delivered; the done flag arbitrates
// between the worker, the rejection path, and the shutdown sweep.
type Pending struct {
	req   *task.Request
	reply chan *task.Outcome
	done  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newPending(req *task.Request) *Pending {
	return &Pending{
		req:   req,
		reply: make(chan *task.Outcome, 1),
	}
}

// Request returns the tracked request.
func (p *Pending) Request() *task.Request { return p.req }

// Reply returns the channel the outcome is delivered on.
// It carries exactly one value.
func (p *Pending) Reply() <-chan *task.Outcome { return p.reply }

// setCancel publishes the cancel function of the in-progress
// processing attempt.
func (p *Pending) setCancel(fn context.CancelFunc) {
	p.mu.Lock()
	p.cancel = fn
	p.mu.Unlock()
}

// abort cancels the in-progress processing attempt, if any.
func (p *Pending) abort() {
	p.mu.Lock()
	fn := p.cancel
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// registry tracks admitted requests that have not yet produced an
// outcome.
type registry struct {
	mu      sync.Mutex
	entries map[string]*Pending
	closed  bool
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*Pending)}
}

func (r *registry) add(pd *Pending) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.entries[pd.req.ID.String()] = pd
	return true
}

func (r *registry) get(requestID string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pd, ok := r.entries[requestID]
	return pd, ok
}

func (r *registry) remove(requestID string) {
	r.mu.Lock()
	delete(r.entries, requestID)
	r.mu.Unlock()
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// drain marks the registry closed and returns all remaining entries.
// Later add calls are refused.
func (r *registry) drain() []*Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]*Pending, 0, len(r.entries))
	for _, pd := range r.entries {
		out = append(out, pd)
	}
	clear(r.entries)
	return out
}
