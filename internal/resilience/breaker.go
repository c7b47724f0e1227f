// Package resilience guards calls to upstream services with retries, a
// circuit breaker, and rate limiting.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = eris.New("resilience: circuit open")

// StateHook observes breaker transitions.
type StateHook func(name string, from, to BreakerState)

// Breaker opens after Threshold consecutive transient failures, rejects
// calls for Cooldown, then lets one probe through. A successful probe
// closes it; a failed probe reopens it. Non-transient errors (bad requests,
// not found) count as successes: the upstream answered.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	hook      StateHook

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithStateHook registers a transition observer.
func WithStateHook(h StateHook) BreakerOption {
	return func(b *Breaker) { b.hook = h }
}

// NewBreaker creates a closed breaker. Non-positive values select 5
// failures and 30s.
func NewBreaker(name string, threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &Breaker{name: name, threshold: threshold, cooldown: cooldown, nowFunc: time.Now}
	for _, fn := range opts {
		fn(b)
	}
	return b
}

// Name returns the guarded service name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, reporting an open breaker whose cooldown
// has elapsed as half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Allow reserves permission for one call. Every successful Allow must be
// followed by Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cooldown {
			return eris.Wrap(ErrOpen, b.name)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return eris.Wrap(ErrOpen, b.name)
		}
		b.probing = true
	}
	return nil
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := IsTransient(err)
	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.open()
		} else {
			b.failures = 0
			b.transition(StateClosed)
		}
		return
	}
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.threshold {
		b.open()
	}
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.transition(StateClosed)
}

func (b *Breaker) open() {
	b.openedAt = b.nowFunc()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.hook != nil {
		b.hook(b.name, from, to)
	}
}
