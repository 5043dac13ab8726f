// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package breaker wraps sony/gobreaker into a per-source circuit registry.

Each external source gets its own breaker: five consecutive failures open
the circuit, a 60 second cooldown follows, then a single probe request is
let through. A success closes the circuit and resets the failure count.

Callers receive [ErrCircuitOpen] on a short-circuit and must not retry
immediately; the poll worker translates it into a broken-source backoff.
*/
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a source's circuit short-circuits the call.
var ErrCircuitOpen = errors.New("breaker: circuit open")

const (
	// openThreshold is the consecutive-failure count that opens a circuit.
	openThreshold = 5
	// resetTimeout is how long an open circuit stays open before probing.
	resetTimeout = 60 * time.Second
)

// Registry holds one circuit breaker per source name.
type Registry struct {
	log *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry constructs an empty breaker [Registry].
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

/*
Execute runs operation under the source's circuit breaker.

Description: Failures count toward opening the circuit; while open, the
operation is not invoked and [ErrCircuitOpen] is returned. In half-open
state a single probe runs.

Parameters:
  - source: string (breaker key)
  - operation: func() error (the guarded call)

Returns:
  - error: ErrCircuitOpen, or the operation's own error
*/
func (registry *Registry) Execute(source string, operation func() error) error {
	circuit := registry.breakerFor(source)

	_, err := circuit.Execute(func() (any, error) {
		return nil, operation()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

// IsOpen reports whether the source's circuit is currently open.
func (registry *Registry) IsOpen(source string) bool {
	return registry.breakerFor(source).State() == gobreaker.StateOpen
}

// breakerFor lazily creates the breaker for a source.
func (registry *Registry) breakerFor(source string) *gobreaker.CircuitBreaker {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if circuit, found := registry.breakers[source]; found {
		return circuit
	}

	log := registry.log
	circuit := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    source,
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= openThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_state_changed",
				slog.String("source", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	registry.breakers[source] = circuit
	return circuit
}
