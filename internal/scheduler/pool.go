package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrQueueFull   = errors.New("worker queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job is a unit of work run by the pool.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	workers int
	queue   chan Job

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPool creates a pool; call Start before submitting.
func NewPool(workers, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: max(workers, 1),
		queue:   make(chan Job, max(queueSize, 1)),
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := range p.workers {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker", id).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("Worker job panicked")
		}
	}()
	job(p.ctx)
}

// TrySubmit queues job without blocking.
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit queues job, waiting for queue space until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return ErrPoolStopped
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Stop closes the queue and waits for queued and running jobs. If ctx ends
// first, the jobs' context is cancelled and Stop keeps waiting for workers.
func (p *Pool) Stop(ctx context.Context) error {
	// Unblock Submit callers parked on a full queue before taking the lock.
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
