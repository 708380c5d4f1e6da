package scheduler

import (
	"context"
	"sync"
)

// scheduleLock is a one-slot semaphore shared by everyone interested in a
// schedule. refs counts holders and waiters so idle entries can be dropped.
type scheduleLock struct {
	sem  chan struct{}
	refs int
}

// LockArena hands out per-schedule exclusive locks. Locks for different
// schedules never contend.
type LockArena struct {
	mu    sync.Mutex
	locks map[string]*scheduleLock
}

// NewLockArena creates an empty arena.
func NewLockArena() *LockArena {
	return &LockArena{locks: make(map[string]*scheduleLock)}
}

func (a *LockArena) ref(id string) *scheduleLock {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[id]
	if !ok {
		l = &scheduleLock{sem: make(chan struct{}, 1)}
		a.locks[id] = l
	}
	l.refs++
	return l
}

func (a *LockArena) unref(id string, l *scheduleLock) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(a.locks, id)
	}
}

// TryAcquire takes the schedule's lock if it is free.
func (a *LockArena) TryAcquire(id string) bool {
	l := a.ref(id)
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		a.unref(id, l)
		return false
	}
}

// Acquire blocks until the schedule's lock is taken or ctx is done.
func (a *LockArena) Acquire(ctx context.Context, id string) error {
	l := a.ref(id)
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		a.unref(id, l)
		return ctx.Err()
	}
}

// Release frees a lock taken with TryAcquire or Acquire.
func (a *LockArena) Release(id string) {
	a.mu.Lock()
	l, ok := a.locks[id]
	a.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-l.sem:
		a.unref(id, l)
	default:
	}
}

// Held reports whether the schedule's lock is currently taken.
func (a *LockArena) Held(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[id]
	return ok && len(l.sem) == 1
}

// Len returns the number of tracked schedules.
func (a *LockArena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
