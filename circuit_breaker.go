// circuit_breaker.go: per-file processing circuit breaker
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package mcpguard

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// CircuitBreakerState represents the current operational state of a circuit breaker.
//
// The watcher maintains one breaker per watched file to bound retry storms
// against a file that deterministically fails to transform (for example,
// persistently invalid syntax) while still resuming automatically later.
//
// State behaviors:
//   - StateClosed: Normal operation, processing attempts are allowed
//   - StateOpen: Circuit is tripped, processing is skipped until the cooldown expires
//
// Unlike a request-path breaker there is no half-open probe phase: the first
// attempt after the cooldown expires runs normally with a fresh attempt count.
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines the thresholds for a per-file circuit breaker.
type CircuitBreakerConfig struct {
	// Enabled controls whether the breaker gates processing at all.
	// Nil counts as enabled, so an options file that omits the field gets
	// the breaker while an explicit false keeps it off.
	Enabled *bool `json:"enabled" yaml:"enabled"`

	// FailureThreshold is the number of consecutive processing attempts
	// (without an intervening success) that opens the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// Cooldown is how long the circuit stays open once tripped.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`
}

// IsEnabled reports whether the breaker gates processing. An unset Enabled
// field counts as enabled.
func (c CircuitBreakerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// CircuitBreaker implements the cooldown-based breaker used per watched file.
//
// Every entry into processing increments the attempt counter; reaching
// FailureThreshold opens the circuit for Cooldown and resets the counter.
// A successful processing completion resets the counter. While open,
// AllowRequest reports false and processing is skipped entirely.
//
// Usage example:
//
//	cb := NewCircuitBreaker(CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    Cooldown:         30 * time.Second,
//	})
//
//	if !cb.AllowRequest() {
//	    return // circuit open, skip this change
//	}
//	cb.RecordAttempt()
//	err := process(path)
//	if err == nil {
//	    cb.RecordSuccess()
//	}
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu        sync.Mutex
	attempts  int
	openUntil time.Time
	trips     int64
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{config: config}
}

// AllowRequest reports whether a processing attempt may proceed.
//
// Returns false only while the circuit is open; once the cooldown expires the
// breaker closes again automatically.
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.config.IsEnabled() {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return !cb.isOpenLocked()
}

// RecordAttempt counts one entry into processing and may trip the circuit.
//
// Reaching the failure threshold opens the circuit for the configured
// cooldown and resets the attempt counter, so the breaker starts counting
// fresh when it closes again.
func (cb *CircuitBreaker) RecordAttempt() {
	if !cb.config.IsEnabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.attempts++
	if cb.attempts >= cb.config.FailureThreshold {
		cb.openUntil = timecache.CachedTime().Add(cb.config.Cooldown)
		cb.attempts = 0
		cb.trips++
	}
}

// RecordSuccess resets the attempt counter after a successful completion.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.IsEnabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.attempts = 0
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.isOpenLocked() {
		return StateOpen
	}
	return StateClosed
}

// GetStats returns a snapshot of the breaker's counters for observability.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := StateClosed
	if cb.isOpenLocked() {
		state = StateOpen
	}
	return CircuitBreakerStats{
		State:     state,
		Attempts:  cb.attempts,
		Trips:     cb.trips,
		OpenUntil: cb.openUntil,
	}
}

// Reset forcibly closes the circuit and clears the attempt counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.attempts = 0
	cb.openUntil = time.Time{}
}

// isOpenLocked reports whether the cooldown window is still active.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) isOpenLocked() bool {
	if cb.openUntil.IsZero() {
		return false
	}
	return timecache.CachedTime().Before(cb.openUntil)
}

// CircuitBreakerStats contains a snapshot of circuit breaker counters.
type CircuitBreakerStats struct {
	State     CircuitBreakerState `json:"state"`
	Attempts  int                 `json:"attempts"`
	Trips     int64               `json:"trips"`
	OpenUntil time.Time           `json:"open_until"`
}
