package core

// run_limiter.go caps the number of validation runs in flight.
//
// Each run fans out to external providers, so unbounded parallel runs would
// burn provider quota and connections. The limiter is a semaphore: when all
// slots are taken, a new run waits up to maxWait before failing with
// ErrTooManyRuns. WaitForDrain supports graceful shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrTooManyRuns is returned when no run slot frees up within the wait time.
var ErrTooManyRuns = errors.New("too many concurrent validation runs, please try again later")

// DefaultMaxConcurrentRuns is the default limit for parallel runs.
const DefaultMaxConcurrentRuns = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// drainPollInterval is how often WaitForDrain checks for active runs.
const drainPollInterval = 100 * time.Millisecond

// RunLimiter controls concurrent validation runs using a semaphore.
type RunLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration
	clock     clockwork.Clock

	mu     sync.RWMutex
	active int
}

// NewRunLimiter creates a limiter that allows at most maxConcurrent runs.
// Runs that cannot get a slot within maxWait receive ErrTooManyRuns.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &RunLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		clock:     clockwork.NewRealClock(),
	}
}

// WithClock replaces the clock used for waits. For tests.
func (l *RunLimiter) WithClock(clock clockwork.Clock) *RunLimiter {
	l.clock = clock
	return l
}

// Acquire waits for a run slot.
// The caller MUST call Release() when the run completes (use defer).
func (l *RunLimiter) Acquire(ctx context.Context) error {
	// Fast path avoids arming a timer when a slot is free.
	if l.TryAcquire() {
		return nil
	}

	select {
	case l.semaphore <- struct{}{}:
		l.acquired()
		return nil
	case <-l.clock.After(l.maxWait):
		return ErrTooManyRuns
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *RunLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.acquired()
		return true
	default:
		return false
	}
}

func (l *RunLimiter) acquired() {
	l.mu.Lock()
	l.active++
	l.mu.Unlock()
}

// Release frees a slot taken by Acquire or TryAcquire.
// Must be called exactly once for each successful acquisition.
func (l *RunLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *RunLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *RunLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no run holds a slot or ctx is cancelled.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := l.clock.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

// RunLimiterStatus is a snapshot of the limiter.
type RunLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *RunLimiter) Status() RunLimiterStatus {
	return RunLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
