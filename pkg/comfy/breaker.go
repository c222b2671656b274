package comfy

import (
	"sync"
	"time"
)

// BreakerState is the state of a Breaker
type BreakerState int32

const (
	// BreakerClosed lets requests through
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the reset timeout has passed
	BreakerOpen
	// BreakerHalfOpen lets requests probe whether the server recovered
	BreakerHalfOpen
)

// String returns the string representation of the state
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops posting prompts to a ComfyUI server that keeps failing.
// After failureThreshold consecutive failures it opens for resetTimeout, then
// half-opens; successThreshold successes close it, one failure reopens it.
type Breaker struct {
	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	failureThreshold     int
	successThreshold     int
	resetTimeout         time.Duration
	openedAt             time.Time
	now                  func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive arguments select the
// defaults of 5 failures, 30 seconds and 1 success.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, successThreshold int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a request may be sent. An open breaker whose reset
// timeout elapsed moves to half-open and allows it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.consecutiveSuccesses = 0
	}
	return true
}

// RecordSuccess records a successful request
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state != BreakerHalfOpen {
		return
	}
	b.consecutiveSuccesses++
	if b.consecutiveSuccesses >= b.successThreshold {
		b.state = BreakerClosed
		b.consecutiveSuccesses = 0
	}
}

// RecordFailure records a failed request
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	b.consecutiveFailures++

	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.consecutiveFailures >= b.failureThreshold) {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
