package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsJobs(t *testing.T) {
	pool := NewPool(2, 10)
	pool.Start()

	var count atomic.Int32
	for range 10 {
		if err := pool.TrySubmit(func(context.Context) { count.Add(1) }); err != nil {
			t.Fatalf("TrySubmit() error = %v", err)
		}
	}

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if count.Load() != 10 {
		t.Errorf("ran %d jobs, want 10", count.Load())
	}
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(1, 1)

	// Not started: the single queue slot fills and stays full.
	if err := pool.TrySubmit(func(context.Context) {}); err != nil {
		t.Fatalf("TrySubmit() error = %v", err)
	}
	if err := pool.TrySubmit(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("TrySubmit() error = %v, want ErrQueueFull", err)
	}
	if pool.QueueDepth() != 1 {
		t.Errorf("QueueDepth() = %d, want 1", pool.QueueDepth())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Submit(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() error = %v, want deadline exceeded", err)
	}
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start()

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := pool.TrySubmit(func(context.Context) {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("TrySubmit() error = %v, want ErrPoolStopped", err)
	}
	if err := pool.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() error = %v, want ErrPoolStopped", err)
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestPool_StopUnblocksSubmit(t *testing.T) {
	pool := NewPool(1, 1)
	_ = pool.TrySubmit(func(context.Context) {})

	result := make(chan error, 1)
	go func() {
		result <- pool.Submit(context.Background(), func(context.Context) {})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrPoolStopped) {
			t.Errorf("Submit() error = %v, want ErrPoolStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Submit() still blocked after Stop")
	}
}

func TestPool_StopDeadlineCancelsJobs(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = pool.TrySubmit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pool.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}

	select {
	case <-cancelled:
	default:
		t.Error("running job should observe cancellation")
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool(1, 2)
	pool.Start()

	var ran atomic.Bool
	_ = pool.TrySubmit(func(context.Context) { panic("boom") })
	_ = pool.TrySubmit(func(context.Context) { ran.Store(true) })

	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !ran.Load() {
		t.Error("worker should keep running after a job panics")
	}
}
