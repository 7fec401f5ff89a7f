package core

// limiter.go implements the semaphore used for two jobs:
//
//   - capacity 1 inside a Controller: at most one load, edit, export or
//     discard is in flight per session
//   - capacity N inside the Service: bounds storage I/O across sessions
//
// When all slots are taken, Acquire waits up to maxWait and then fails with
// the limiter's busy error. WaitForDrain supports graceful shutdown.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentIO is the default limit for parallel storage operations.
const DefaultMaxConcurrentIO = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// Limiter restricts concurrent operations using a buffered channel as a semaphore.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration
	busyErr   error

	mu     sync.RWMutex
	active int
}

// NewLimiter creates a limiter that allows at most maxConcurrent operations.
// Acquire calls that cannot get a slot within maxWait return busyErr.
func NewLimiter(maxConcurrent int, maxWait time.Duration, busyErr error) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIO
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	if busyErr == nil {
		busyErr = ErrTooManyOperations
	}

	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		busyErr:   busyErr,
	}
}

// Acquire waits for a slot. The caller MUST call Release when done.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.busyErr
	}
}

// TryAcquire takes a slot without blocking. Returns false if none is free.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of slots in use.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no slot is in use or ctx is done.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of a limiter's state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *Limiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
