// Package resilience guards the service's fallible edges: opening audio
// input devices, storage transactions and health probes.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is a circuit breaker state.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// ErrOpen matches every rejection by an open breaker.
var ErrOpen = errors.New("circuit breaker open")

// OpenError is returned while a breaker rejects calls.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: %v, next attempt in %s", e.Name, ErrOpen, e.RetryAfter.Round(100*time.Millisecond))
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// Counts is a point-in-time view of a breaker.
type Counts struct {
	State      State         `json:"state"`
	Failures   int           `json:"failures"`
	Trips      int64         `json:"trips"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Breaker trips after Threshold consecutive failures and lets a probe
// through once ResetTimeout has passed since it opened. State lives in
// atomics so callers never block on it.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	state    atomic.Uint32
	failures atomic.Int32
	probes   atomic.Int32
	openedAt atomic.Int64
	trips    atomic.Int64
}

// New creates a named breaker; the name tags its log lines and errors.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Counts snapshots the breaker.
func (b *Breaker) Counts() Counts {
	c := Counts{
		State:    b.State(),
		Failures: int(b.failures.Load()),
		Trips:    b.trips.Load(),
	}
	if c.State == Open {
		c.RetryAfter = max(b.remaining(), 0)
	}
	return c
}

// Allow returns nil if a call may proceed, or an *OpenError.
func (b *Breaker) Allow() error {
	if b.State() != Open {
		return nil
	}
	if wait := b.remaining(); wait > 0 {
		return &OpenError{Name: b.name, RetryAfter: wait}
	}
	b.move(Open, HalfOpen)
	return nil
}

// Success records a call that worked.
func (b *Breaker) Success() {
	switch b.State() {
	case Closed:
		b.failures.Store(0)
	case HalfOpen:
		if int(b.probes.Add(1)) >= b.cfg.HalfOpenSuccesses {
			b.move(HalfOpen, Closed)
		}
	}
}

// Failure records a call that failed. Any failure while half-open reopens.
func (b *Breaker) Failure() {
	n := b.failures.Add(1)
	switch b.State() {
	case Closed:
		if int(n) >= b.cfg.Threshold {
			b.move(Closed, Open)
		}
	case HalfOpen:
		b.move(HalfOpen, Open)
	}
}

func (b *Breaker) remaining() time.Duration {
	opened := time.Unix(0, b.openedAt.Load())
	return b.cfg.ResetTimeout - b.now().Sub(opened)
}

// move transitions from -> to if no one else got there first.
func (b *Breaker) move(from, to State) {
	if !b.state.CompareAndSwap(uint32(from), uint32(to)) {
		return
	}
	b.probes.Store(0)
	switch to {
	case Open:
		b.openedAt.Store(b.now().UnixNano())
		b.trips.Add(1)
		slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures.Load(), "retry_after", b.cfg.ResetTimeout)
	case HalfOpen:
		slog.Info("circuit breaker probing", "breaker", b.name)
	case Closed:
		b.failures.Store(0)
		slog.Info("circuit breaker closed", "breaker", b.name)
	}
}

// ExecuteWithResult runs fn unless the breaker is open and records the outcome.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn()
	if err != nil {
		b.Failure()
		return zero, err
	}
	b.Success()
	return v, nil
}
