package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sluicelabs/sluice/queue"
	"github.com/sluicelabs/sluice/task"
)

func TestNewPanicsOnBadCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for zero capacity")
		}
	}()
	queue.New(0)
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := queue.New(4)

	first := task.New([]byte("first"))
	second := task.New([]byte("second"))
	third := task.New([]byte("third"))

	for _, req := range []*task.Request{first, second, third} {
		if err := q.Enqueue(context.Background(), req); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if got := q.Len(); got != 3 {
		t.Errorf("expected length 3, got %d", got)
	}

	for _, want := range []*task.Request{first, second, third} {
		got := <-q.C()
		if got.ID != want.ID {
			t.Errorf("dequeue order mismatch: got %s, want %s", got.ID, want.ID)
		}
	}
}

func TestTryEnqueueFull(t *testing.T) {
	q := queue.New(1)

	if err := q.TryEnqueue(task.New(nil)); err != nil {
		t.Fatalf("try-enqueue failed: %v", err)
	}
	if err := q.TryEnqueue(task.New(nil)); !errors.Is(err, queue.ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestEnqueueBlocksUntilSpace(t *testing.T) {
	q := queue.New(1)
	if err := q.Enqueue(context.Background(), task.New(nil)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	enqueued := make(chan error, 1)
	go func() {
		enqueued <- q.Enqueue(context.Background(), task.New(nil))
	}()

	select {
	case err := <-enqueued:
		t.Fatalf("enqueue should have blocked, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-q.C()

	select {
	case err := <-enqueued:
		if err != nil {
			t.Fatalf("blocked enqueue failed after space freed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue did not proceed after space freed")
	}
}

func TestEnqueueRespectsContext(t *testing.T) {
	q := queue.New(1)
	if err := q.Enqueue(context.Background(), task.New(nil)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, task.New(nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestCloseWakesBlockedEnqueue(t *testing.T) {
	q := queue.New(1)
	if err := q.Enqueue(context.Background(), task.New(nil)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	enqueued := make(chan error, 1)
	go func() {
		enqueued <- q.Enqueue(context.Background(), task.New(nil))
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-enqueued:
		if !errors.Is(err, queue.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue did not fail after close")
	}
}

func TestCloseRejectsNewRequests(t *testing.T) {
	q := queue.New(2)
	q.Close()

	if err := q.Enqueue(context.Background(), task.New(nil)); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed from Enqueue, got %v", err)
	}
	if err := q.TryEnqueue(task.New(nil)); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed from TryEnqueue, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected IsClosed to report true")
	}
}

func TestQueuedRequestsDrainAfterClose(t *testing.T) {
	q := queue.New(4)
	req := task.New([]byte("survivor"))
	if err := q.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	q.Close()

	select {
	case got := <-q.C():
		if got.ID != req.ID {
			t.Errorf("drained request mismatch: got %s, want %s", got.ID, req.ID)
		}
	default:
		t.Fatal("queued request not receivable after close")
	}
	if got := q.Len(); got != 0 {
		t.Errorf("expected empty queue after drain, got %d", got)
	}
}

func TestClosedSignal(t *testing.T) {
	q := queue.New(1)

	select {
	case <-q.Closed():
		t.Fatal("Closed signal fired before Close")
	default:
	}

	q.Close()
	q.Close()

	select {
	case <-q.Closed():
	default:
		t.Fatal("Closed signal did not fire after Close")
	}
}

func TestCap(t *testing.T) {
	q := queue.New(9)
	if got := q.Cap(); got != 9 {
		t.Errorf("expected capacity 9, got %d", got)
	}
}
