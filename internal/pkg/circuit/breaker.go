// Package circuit provides a minimal three-state circuit breaker used
// by outbound gateways. Repeated failures trip the breaker open;
// after the reset timeout a single probe decides whether it closes.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"orca/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Do when the breaker rejects the call outright.
var ErrOpen = fmt.Errorf("circuit breaker is open")

type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	threshold   int
	resetAfter  time.Duration
	lastFailure time.Time
}

func NewBreaker(name string, threshold int, resetAfter time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if resetAfter <= 0 {
		resetAfter = time.Minute
	}
	return &Breaker{
		name:       name,
		state:      StateClosed,
		threshold:  threshold,
		resetAfter: resetAfter,
	}
}

// Allow reports whether a call may proceed, moving OPEN to HALF-OPEN
// once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) > b.resetAfter {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
		b.failures = 0
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// State returns the current state, for metrics and tests.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn under the breaker, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("Breaker %s: %s -> %s (failures=%d/%d, reset=%s)",
		b.name, from, to, b.failures, b.threshold, b.resetAfter)
}
