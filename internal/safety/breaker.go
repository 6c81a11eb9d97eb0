// Package safety bounds the blast radius of a deployment run: pre-item
// validation, pre-mutation backups with rollback, and a batch-scoped
// circuit breaker.
package safety

import (
	"sync"
	"time"
)

// BreakerStatus is the circuit breaker state.
type BreakerStatus string

const (
	// BreakerClosed lets items proceed normally.
	BreakerClosed BreakerStatus = "closed"
	// BreakerOpen skips all new items until the cooldown elapses.
	BreakerOpen BreakerStatus = "open"
	// BreakerHalfOpen admits exactly one probe item.
	BreakerHalfOpen BreakerStatus = "half_open"
)

// CircuitBreaker halts new work once the recent failure ratio crosses a
// threshold. Its lifecycle is scoped to a single run, never process-wide,
// so concurrent runs (and tests) cannot interfere with each other.
//
// The breaker only gates whether a new item may start; items already past
// the pre-check always run to completion.
type CircuitBreaker struct {
	mu        sync.Mutex
	status    BreakerStatus
	window    []bool // Ring buffer of recent outcomes, true = success
	next      int
	filled    int
	threshold float64
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	trips     int

	now func() time.Time // Injectable clock for tests
}

// NewCircuitBreaker creates a closed breaker. windowSize <= 0 and
// threshold outside [0, 1] fall back to the defaults (10 and 0.5);
// cooldown <= 0 falls back to 300s. A threshold of 0 opens the breaker
// on the first recorded failure.
func NewCircuitBreaker(windowSize int, threshold float64, cooldown time.Duration) *CircuitBreaker {
	if windowSize <= 0 {
		windowSize = 10
	}
	if threshold < 0 || threshold > 1 {
		threshold = 0.5
	}
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	return &CircuitBreaker{
		status:    BreakerClosed,
		window:    make([]bool, windowSize),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a new item may start. In half-open state exactly
// one probe is admitted; callers must report the probe's outcome via
// Record before another item is allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.status {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.status = BreakerHalfOpen
		cb.probing = true
		return true
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
	return false
}

// Record pushes a completed attempt's outcome into the ring buffer and
// drives state transitions. The failure ratio is computed against the
// full window size, so a handful of early failures in a large window does
// not trip the breaker.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.status == BreakerHalfOpen {
		cb.probing = false
		if success {
			cb.status = BreakerClosed
			cb.clearLocked()
			return
		}
		cb.open()
		return
	}

	cb.window[cb.next] = success
	cb.next = (cb.next + 1) % len(cb.window)
	if cb.filled < len(cb.window) {
		cb.filled++
	}

	if cb.status != BreakerClosed {
		return
	}

	failures := 0
	for i := 0; i < cb.filled; i++ {
		if !cb.window[i] {
			failures++
		}
	}
	// Successes never trip the breaker, so a threshold of 0 means "open
	// on the first failure" rather than "open unconditionally".
	if failures > 0 && float64(failures)/float64(len(cb.window)) >= cb.threshold {
		cb.open()
	}
}

// open transitions to open and resets the cooldown timer. Callers must
// hold cb.mu.
func (cb *CircuitBreaker) open() {
	cb.status = BreakerOpen
	cb.openedAt = cb.now()
	cb.trips++
}

func (cb *CircuitBreaker) clearLocked() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.next = 0
	cb.filled = 0
}

// Status returns the current breaker state.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}

// Trips returns how many times the breaker has opened during this run.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}
