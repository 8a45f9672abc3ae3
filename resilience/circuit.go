package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/inferops/clock"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is admitting a single trial call.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// WindowSize is the number of most recent outcomes considered.
	// Default: 10
	WindowSize int

	// MinimumRequests is how many outcomes the window must hold before the
	// circuit can trip.
	// Default: WindowSize
	MinimumRequests int

	// ErrorThresholdPercentage trips the circuit when the failure share of
	// the window meets or exceeds it.
	// Default: 50
	ErrorThresholdPercentage float64

	// ResetTimeout is how long the circuit stays open before a trial.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// Clock is the time source. Default: wall clock.
	Clock clock.Clock

	// OnStateChange is called after the circuit state changes. It runs
	// outside the breaker lock.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: every non-nil error except context.Canceled.
	IsFailure func(err error) bool
}

// CircuitBreaker is a rolling-window circuit breaker.
//
// All counters live under one mutex, so concurrent outcomes are applied one
// at a time and none is lost.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	clock  clock.Clock

	mu             sync.Mutex
	state          State
	window         []bool // true marks a failure
	next           int
	filled         int
	failures       int
	lastTransition time.Time
	openUntil      time.Time
	trialInFlight  bool
	generation     uint64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.WindowSize <= 0 {
		config.WindowSize = 10
	}
	if config.MinimumRequests <= 0 || config.MinimumRequests > config.WindowSize {
		config.MinimumRequests = config.WindowSize
	}
	if config.ErrorThresholdPercentage <= 0 {
		config.ErrorThresholdPercentage = 50
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}

	c := clock.OrReal(config.Clock)
	return &CircuitBreaker{
		config:         config,
		clock:          c,
		state:          StateClosed,
		window:         make([]bool, config.WindowSize),
		lastTransition: c.Now(),
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs the operation through the circuit breaker. A rejected call
// returns ErrCircuitOpen without invoking op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	gen, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.afterRequest(gen, err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, changes := cb.currentStateLocked()
	cb.mu.Unlock()

	cb.notify(changes)
	return state
}

// Reset closes the circuit and clears the window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changes []transition
	if cb.state != StateClosed {
		changes = append(changes, cb.setStateLocked(StateClosed))
	}
	cb.clearWindowLocked()
	cb.mu.Unlock()

	cb.notify(changes)
}

// beforeRequest admits or rejects a call. The returned generation ties the
// outcome to the state that admitted it.
func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	state, changes := cb.currentStateLocked()

	var err error
	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.trialInFlight {
			err = ErrCircuitOpen
		} else {
			cb.trialInFlight = true
		}
	}
	gen := cb.generation
	cb.mu.Unlock()

	cb.notify(changes)
	return gen, err
}

func (cb *CircuitBreaker) afterRequest(gen uint64, err error) {
	isFailure := cb.config.IsFailure(err)
	if err != nil && !isFailure && errors.Is(err, context.Canceled) {
		// A caller-side cancellation says nothing about the dependency.
		cb.releaseTrial(gen)
		return
	}

	cb.mu.Lock()
	var changes []transition

	// Outcomes admitted under an earlier state are stale.
	if gen == cb.generation {
		switch cb.state {
		case StateClosed:
			cb.recordLocked(isFailure)
			if cb.shouldTripLocked() {
				changes = append(changes, cb.openLocked())
			}

		case StateHalfOpen:
			cb.trialInFlight = false
			if isFailure {
				changes = append(changes, cb.openLocked())
			} else {
				changes = append(changes, cb.setStateLocked(StateClosed))
				cb.clearWindowLocked()
			}
		}
	}
	cb.mu.Unlock()

	cb.notify(changes)
}

func (cb *CircuitBreaker) releaseTrial(gen uint64) {
	cb.mu.Lock()
	if gen == cb.generation && cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordLocked(failure bool) {
	if cb.filled == len(cb.window) {
		if cb.window[cb.next] {
			cb.failures--
		}
	} else {
		cb.filled++
	}
	cb.window[cb.next] = failure
	if failure {
		cb.failures++
	}
	cb.next = (cb.next + 1) % len(cb.window)
}

func (cb *CircuitBreaker) shouldTripLocked() bool {
	if cb.filled < cb.config.MinimumRequests {
		return false
	}
	pct := float64(cb.failures) * 100 / float64(cb.filled)
	return pct >= cb.config.ErrorThresholdPercentage
}

func (cb *CircuitBreaker) clearWindowLocked() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.next = 0
	cb.filled = 0
	cb.failures = 0
}

func (cb *CircuitBreaker) openLocked() transition {
	t := cb.setStateLocked(StateOpen)
	cb.openUntil = cb.lastTransition.Add(cb.config.ResetTimeout)
	return t
}

func (cb *CircuitBreaker) currentStateLocked() (State, []transition) {
	if cb.state == StateOpen && !cb.clock.Now().Before(cb.openUntil) {
		return StateHalfOpen, []transition{cb.setStateLocked(StateHalfOpen)}
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) setStateLocked(state State) transition {
	t := transition{from: cb.state, to: state}
	cb.state = state
	cb.generation++
	cb.trialInFlight = false
	cb.lastTransition = cb.clock.Now()
	if state != StateOpen {
		cb.openUntil = time.Time{}
	}
	return t
}

type transition struct {
	from, to State
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range changes {
		cb.config.OnStateChange(t.from, t.to)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	state, changes := cb.currentStateLocked()
	m := CircuitBreakerMetrics{
		State:          state,
		Failures:       cb.failures,
		Successes:      cb.filled - cb.failures,
		WindowSize:     len(cb.window),
		LastTransition: cb.lastTransition,
		OpenUntil:      cb.openUntil,
	}
	cb.mu.Unlock()

	cb.notify(changes)
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics. Failures and
// Successes count outcomes currently in the rolling window.
type CircuitBreakerMetrics struct {
	State          State
	Failures       int
	Successes      int
	WindowSize     int
	LastTransition time.Time
	OpenUntil      time.Time
}
