package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sluicelabs/sluice/backoff"
	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/gate"
	"github.com/sluicelabs/sluice/queue"
	"github.com/sluicelabs/sluice/task"
	"github.com/sluicelabs/sluice/worker"
)

func setupTestPool(t *testing.T, size int, handler task.Handler) (*worker.Pool, *gate.Gate, *queue.Queue) {
	t.Helper()
	logger := slog.Default()
	q := queue.New(16)
	g := gate.New(8)
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(handler, extensions, backoff.NewConstant(time.Millisecond), logger)
	pool := worker.NewPool(q, g, executor, extensions, logger, worker.WithPoolSize(size))

	return pool, g, q
}

// admit does what the dispatcher does after the admission gate:
// acquire a permit, track the request, enqueue it.
func admit(t *testing.T, p *worker.Pool, g *gate.Gate, q *queue.Queue, req *task.Request) *worker.Pending {
	t.Helper()
	if err := g.TryAcquire(); err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	pd, err := p.Track(req)
	if err != nil {
		t.Fatalf("track error: %v", err)
	}
	if err := q.TryEnqueue(req); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return pd
}

func awaitOutcome(t *testing.T, pd *worker.Pending) *task.Outcome {
	t.Helper()
	select {
	case out := <-pd.Reply():
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return nil
	}
}

func stopPool(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, func(_ context.Context, _ *task.Request) error { return nil })

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesRequest(t *testing.T) {
	var got atomic.Value
	pool, g, q := setupTestPool(t, 1, func(_ context.Context, req *task.Request) error {
		got.Store(string(req.Payload))
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	req := task.New([]byte("hello"))
	pd := admit(t, pool, g, q, req)

	out := awaitOutcome(t, pd)
	if out.Status != task.StatusSuccess {
		t.Errorf("status = %q, want %q", out.Status, task.StatusSuccess)
	}
	if out.RequestID != req.ID {
		t.Errorf("request id = %v, want %v", out.RequestID, req.ID)
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", out.Attempts)
	}
	if out.WorkerID.IsNil() {
		t.Error("expected worker id to be set")
	}
	if got.Load() != "hello" {
		t.Errorf("handler saw payload %q, want %q", got.Load(), "hello")
	}
	if pool.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0 after outcome", pool.InFlight())
	}

	stopPool(t, pool)
}

func TestPool_FailedRequest(t *testing.T) {
	handlerErr := errors.New("no such record")
	pool, g, q := setupTestPool(t, 1, func(_ context.Context, _ *task.Request) error {
		return handlerErr
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	pd := admit(t, pool, g, q, task.New(nil))

	out := awaitOutcome(t, pd)
	if out.Status != task.StatusFailed {
		t.Errorf("status = %q, want %q", out.Status, task.StatusFailed)
	}
	if !errors.Is(out.Err, handlerErr) {
		t.Errorf("err = %v, want %v", out.Err, handlerErr)
	}

	stopPool(t, pool)
}

func TestPool_PanicBecomesFailedOutcome(t *testing.T) {
	var calls atomic.Int32
	pool, g, q := setupTestPool(t, 1, func(_ context.Context, req *task.Request) error {
		if calls.Add(1) == 1 {
			panic("handler exploded")
		}
		_ = req
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// First request panics.
	out := awaitOutcome(t, admit(t, pool, g, q, task.New(nil)))
	if out.Status != task.StatusFailed {
		t.Errorf("status = %q, want %q", out.Status, task.StatusFailed)
	}
	if out.Err == nil {
		t.Error("expected error detail from recovered panic")
	}

	// The worker must survive and process the next request.
	out = awaitOutcome(t, admit(t, pool, g, q, task.New(nil)))
	if out.Status != task.StatusSuccess {
		t.Errorf("status after panic = %q, want %q", out.Status, task.StatusSuccess)
	}

	stopPool(t, pool)
}

func TestPool_ExpiredRequestSkipsProcessing(t *testing.T) {
	var invoked atomic.Bool
	pool, g, q := setupTestPool(t, 1, func(_ context.Context, _ *task.Request) error {
		invoked.Store(true)
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	req := task.New(nil, task.WithDeadline(time.Now().Add(-time.Second)))
	out := awaitOutcome(t, admit(t, pool, g, q, req))

	if out.Status != task.StatusTimedOut {
		t.Errorf("status = %q, want %q", out.Status, task.StatusTimedOut)
	}
	if !errors.Is(out.Err, task.ErrTimedOut) {
		t.Errorf("err = %v, want %v", out.Err, task.ErrTimedOut)
	}
	if out.Latency <= 0 {
		t.Errorf("Latency = %v, want queue wait recorded", out.Latency)
	}
	if invoked.Load() {
		t.Error("handler must not run for an already-expired request")
	}

	stopPool(t, pool)
}

func TestPool_DeadlineCutsProcessingShort(t *testing.T) {
	pool, g, q := setupTestPool(t, 1, func(ctx context.Context, _ *task.Request) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	start := time.Now()
	req := task.New(nil, task.WithTimeout(50*time.Millisecond))
	out := awaitOutcome(t, admit(t, pool, g, q, req))

	if out.Status != task.StatusTimedOut {
		t.Errorf("status = %q, want %q", out.Status, task.StatusTimedOut)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("outcome took %v, deadline should cut it near 50ms", elapsed)
	}

	stopPool(t, pool)
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	pool, g, q := setupTestPool(t, 1, func(_ context.Context, _ *task.Request) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	req := task.New(nil, task.WithMaxRetries(3))
	out := awaitOutcome(t, admit(t, pool, g, q, req))

	if out.Status != task.StatusSuccess {
		t.Errorf("status = %q, want %q", out.Status, task.StatusSuccess)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}

	stopPool(t, pool)
}

func TestPool_ConcurrencyBoundedBySize(t *testing.T) {
	var active, peak atomic.Int64
	pool, g, q := setupTestPool(t, 2, func(_ context.Context, _ *task.Request) error {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	pendings := make([]*worker.Pending, 0, 6)
	for range 6 {
		pendings = append(pendings, admit(t, pool, g, q, task.New(nil)))
	}
	for _, pd := range pendings {
		if out := awaitOutcome(t, pd); out.Status != task.StatusSuccess {
			t.Errorf("status = %q, want %q", out.Status, task.StatusSuccess)
		}
	}

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrent handlers = %d, want <= 2", got)
	}

	stopPool(t, pool)
}

func TestPool_GracefulDrain(t *testing.T) {
	pool, g, q := setupTestPool(t, 1, func(_ context.Context, _ *task.Request) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	pendings := make([]*worker.Pending, 0, 5)
	for range 5 {
		pendings = append(pendings, admit(t, pool, g, q, task.New(nil)))
	}

	// Stop with a generous grace period: all queued work completes.
	stopPool(t, pool)

	for _, pd := range pendings {
		out := awaitOutcome(t, pd)
		if out.Status != task.StatusSuccess {
			t.Errorf("status = %q, want %q (drain must finish queued work)", out.Status, task.StatusSuccess)
		}
	}
	if pool.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0 after drain", pool.InFlight())
	}
}

func TestPool_ForcedAbort(t *testing.T) {
	pool, g, q := setupTestPool(t, 1, func(ctx context.Context, _ *task.Request) error {
		select {
		case <-time.After(10 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// One request being processed, one stuck behind it in the queue.
	first := admit(t, pool, g, q, task.New(nil))
	second := admit(t, pool, g, q, task.New(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	for _, pd := range []*worker.Pending{first, second} {
		out := awaitOutcome(t, pd)
		if out.Status != task.StatusAborted {
			t.Errorf("status = %q, want %q", out.Status, task.StatusAborted)
		}
		if !errors.Is(out.Err, task.ErrAborted) {
			t.Errorf("err = %v, want %v", out.Err, task.ErrAborted)
		}
		if out.Latency <= 0 {
			t.Errorf("Latency = %v, want time in flight recorded", out.Latency)
		}
	}
	if pool.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0 after abort", pool.InFlight())
	}
}

func TestPool_TrackRefusedAfterStop(t *testing.T) {
	pool, g, _ := setupTestPool(t, 1, func(_ context.Context, _ *task.Request) error { return nil })

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	stopPool(t, pool)

	if err := g.TryAcquire(); err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	if _, err := pool.Track(task.New(nil)); !errors.Is(err, worker.ErrStopping) {
		t.Errorf("Track after stop = %v, want %v", err, worker.ErrStopping)
	}
	g.Release()
}

func TestPool_FinishExactlyOnce(t *testing.T) {
	pool, g, _ := setupTestPool(t, 1, func(_ context.Context, _ *task.Request) error { return nil })

	if err := g.TryAcquire(); err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	pd, err := pool.Track(task.New(nil))
	if err != nil {
		t.Fatalf("track error: %v", err)
	}

	out := &task.Outcome{RequestID: pd.Request().ID, Status: task.StatusRejected, Err: errors.New("full")}
	if !pool.Finish(pd, out) {
		t.Fatal("first Finish should win")
	}
	if pool.Finish(pd, out) {
		t.Fatal("second Finish must be a no-op")
	}

	if got := g.InFlight(); got != 0 {
		t.Errorf("gate in-flight = %d, want 0 (permit released exactly once)", got)
	}
	if got := <-pd.Reply(); got.Status != task.StatusRejected {
		t.Errorf("reply status = %q, want %q", got.Status, task.StatusRejected)
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	logger := slog.Default()
	q := queue.New(16)
	g := gate.New(8)
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	var calls atomic.Int32
	handler := func(_ context.Context, _ *task.Request) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}

	executor := worker.NewExecutor(handler, extensions, backoff.NewConstant(time.Millisecond), logger)
	pool := worker.NewPool(q, g, executor, extensions, logger, worker.WithPoolSize(1))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	pd := admit(t, pool, g, q, task.New(nil, task.WithMaxRetries(1)))
	out := awaitOutcome(t, pd)
	if out.Status != task.StatusSuccess {
		t.Fatalf("status = %q, want %q", out.Status, task.StatusSuccess)
	}

	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnRequestStarted to fire")
	}
	if !tracker.retrying.Load() {
		t.Error("expected OnRequestRetrying to fire")
	}
	if !tracker.finished.Load() {
		t.Error("expected OnRequestFinished to fire")
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingExt records which hooks fired.
type trackingExt struct {
	started  atomic.Bool
	retrying atomic.Bool
	finished atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnRequestStarted(_ context.Context, _ *task.Request) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnRequestRetrying(_ context.Context, _ *task.Request, _ int, _ time.Duration) error {
	e.retrying.Store(true)
	return nil
}

func (e *trackingExt) OnRequestFinished(_ context.Context, _ *task.Request, _ *task.Outcome) error {
	e.finished.Store(true)
	return nil
}
