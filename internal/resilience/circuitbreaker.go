// Package resilience guards calls to external collaborators, such as the
// market data feed, with a failure-counting circuit breaker.
package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "trinity-trader/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// ErrCircuitOpen is returned without calling through while the circuit is open.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// IsFailure decides which errors count against the circuit. Nil counts all.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker lock released.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
	}
}

// CircuitBreaker stops calling a failing dependency until it has had time
// to recover.
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	openedAt    time.Time
	trialActive bool

	totalCalls    int64
	totalFailures int64
	totalRejected int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// WithClock replaces the time source. Intended for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := Execute(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn through cb and returns its result.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.acquire(); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	cb.release(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var change *transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		change = cb.transitionTo(CircuitHalfOpen)
		cb.trialActive = true
	case CircuitHalfOpen:
		if cb.trialActive {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		cb.trialActive = true
	}

	cb.totalCalls++
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))

	cb.mu.Lock()
	var change *transition
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	if cb.state == CircuitHalfOpen {
		cb.trialActive = false
	}

	if !failed {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				change = cb.transitionTo(CircuitClosed)
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.totalFailures++
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			change = cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		change = cb.transitionTo(CircuitOpen)
	}
}

type transition struct {
	from, to CircuitState
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(state CircuitState) *transition {
	t := &transition{from: cb.state, to: state}
	cb.state = state
	cb.failures = 0
	cb.successes = 0
	if state == CircuitOpen {
		cb.openedAt = cb.now()
	}
	return t
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t != nil && cb.config.OnStateChange != nil && t.from != t.to {
		cb.config.OnStateChange(cb.name, t.from, t.to)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.transitionTo(CircuitClosed)
	cb.trialActive = false
	cb.mu.Unlock()
	cb.notify(change)
}

// Stats holds circuit breaker statistics.
type Stats struct {
	Name            string
	State           CircuitState
	TotalCalls      int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
	}
}
