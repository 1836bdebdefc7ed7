// Package breaker implements a consecutive-failure circuit breaker.
package breaker

import (
	"sync"
	"time"
)

// State is the derived breaker state.
type State string

const (
	// Closed means requests flow normally.
	Closed State = "closed"
	// Open means requests are short-circuited until the cooldown elapses.
	Open State = "open"
	// HalfOpen means the cooldown has elapsed; requests pass as probes
	// until the next success closes or the next failure re-opens the
	// breaker. The number of concurrent probes is not limited.
	HalfOpen State = "half_open"
)

// Config holds breaker thresholds.
type Config struct {
	Threshold int
	Cooldown  time.Duration
}

// DefaultConfig returns the spec defaults: 5 failures, 15s cooldown.
func DefaultConfig() Config {
	return Config{Threshold: 5, Cooldown: 15 * time.Second}
}

// Breaker is a consecutive-failure circuit breaker. failures resets to
// zero on any success; reaching the threshold stamps openedAt, and every
// further failure while tripped restamps it, restarting the cooldown.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

// New creates a Breaker with the given config.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{cfg: cfg}
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}

// RecordFailure increments the failure count. Once the threshold is
// reached, every further failure restamps openedAt, restarting the
// cooldown even from half-open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.openedAt = time.Now()
	}
}

// State returns the derived state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.failures < b.cfg.Threshold {
		return Closed
	}
	if time.Since(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return Open
}

// IsOpen reports whether the breaker is currently open.
func (b *Breaker) IsOpen() bool {
	return b.State() == Open
}

// IsHalfOpen reports whether the breaker is currently half-open.
func (b *Breaker) IsHalfOpen() bool {
	return b.State() == HalfOpen
}

// Failures returns the current consecutive-failure count, for observability.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
