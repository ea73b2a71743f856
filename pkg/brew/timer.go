package brew

import (
	"sync"
	"time"
)

// StartKind tells what Timer.Start did.
type StartKind int

const (
	// StartIgnored means the timer was already running.
	StartIgnored StartKind = iota
	// StartFresh means the timer started from zero.
	StartFresh
	// StartResumed means a stopped timer continued from its elapsed time.
	StartResumed
)

// Timer is the brew stopwatch. Stop pauses and keeps the elapsed time.
type Timer struct {
	timeNow func() time.Time

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	elapsed   time.Duration // accumulated before startedAt
}

// NewTimer creates a stopped timer.
func NewTimer() *Timer {
	return &Timer{timeNow: time.Now}
}

// WithClock replaces the timer's clock.
func (t *Timer) WithClock(now func() time.Time) *Timer {
	t.timeNow = now
	return t
}

// Start runs the timer, resuming if it was stopped with elapsed time.
func (t *Timer) Start() StartKind {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return StartIgnored
	}
	t.running = true
	t.startedAt = t.timeNow()
	if t.elapsed > 0 {
		return StartResumed
	}
	return StartFresh
}

// Stop pauses the timer. It reports whether the timer was running.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false
	}
	t.elapsed += t.timeNow().Sub(t.startedAt)
	t.running = false
	return true
}

// Reset stops the timer and zeroes it.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.elapsed = 0
	t.startedAt = time.Time{}
}

// Running reports whether the timer is running.
func (t *Timer) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Elapsed returns the total running time.
func (t *Timer) Elapsed() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.running {
		return t.elapsed + t.timeNow().Sub(t.startedAt)
	}
	return t.elapsed
}
