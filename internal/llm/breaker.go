package llm

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without touching the transport while the
// breaker is open. Callers must not retry it.
var ErrCircuitOpen = errors.New("llm: circuit open")

// BreakerState is the breaker's position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is a consecutive-failure circuit breaker. After threshold
// failures it opens for cooldown; the first caller after cooldown becomes
// the single half-open trial, and its outcome closes or re-opens the
// circuit.
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	trialBusy bool
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. When it returns nil the caller
// must report the outcome via Record.
func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.trialBusy = true
		return nil
	case BreakerHalfOpen:
		if b.trialBusy {
			return ErrCircuitOpen
		}
		b.trialBusy = true
		return nil
	}
	return nil
}

// Record reports a call outcome.
func (b *breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.trialBusy = false
		if err != nil {
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.failures = b.threshold
		} else {
			b.state = BreakerClosed
			b.failures = 0
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State reports the current position.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
