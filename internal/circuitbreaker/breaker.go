// Package circuitbreaker stops hammering a routing endpoint that keeps failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow while the circuit is open
var ErrOpen = errors.New("circuit breaker open: endpoint temporarily disabled")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, requests fail fast
	StateHalfOpen              // Letting probes through
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker counts consecutive failures of one endpoint and opens after
// a threshold. After the reset delay it half-opens and closes again once
// enough probes succeed.
type CircuitBreaker struct {
	name string

	state    State
	lastTrip time.Time

	failureThreshold int
	failures         int

	successThreshold int
	successCount     int

	resetDelay time.Duration
	now        func() time.Time

	mu sync.RWMutex

	onStateChange func(name string, state State)
}

// New creates a closed CircuitBreaker that opens after failureThreshold
// consecutive failures
func New(name string, failureThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		resetDelay:       30 * time.Second,
		now:              time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful probes needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithStateCallback sets a function called on every state transition
func (cb *CircuitBreaker) WithStateCallback(callback func(name string, state State)) *CircuitBreaker {
	cb.onStateChange = callback
	return cb
}

// Allow reports whether a request may be sent now
func (cb *CircuitBreaker) Allow() error {
	cb.mu.RLock()
	state := cb.state
	lastTrip := cb.lastTrip
	cb.mu.RUnlock()

	if state != StateOpen {
		return nil
	}

	if cb.now().Sub(lastTrip) < cb.resetDelay {
		return ErrOpen
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		cb.transition(StateHalfOpen)
		cb.successCount = 0
	}
	cb.mu.Unlock()
	return nil
}

// RecordSuccess resets the failure streak and closes a half-open circuit
// once enough probes have passed
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != StateHalfOpen {
		return
	}

	cb.successCount++
	if cb.successCount >= cb.successThreshold {
		cb.transition(StateClosed)
		logrus.WithField("endpoint", cb.name).Info("Circuit breaker closed")
	}
}

// RecordFailure extends the failure streak and trips the circuit when the
// threshold is reached. Any failure while half-open trips it again.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.failureThreshold {
		cb.trip(err)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the circuit breaker back to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successCount = 0
	cb.transition(StateClosed)
}

// trip opens the circuit; caller must hold the lock
func (cb *CircuitBreaker) trip(err error) {
	if cb.state != StateOpen {
		logrus.WithFields(logrus.Fields{
			"endpoint": cb.name,
			"failures": cb.failures,
		}).WithError(err).Warn("Circuit breaker tripped")
	}
	cb.lastTrip = cb.now()
	cb.successCount = 0
	cb.transition(StateOpen)
}

// transition changes state and notifies the callback; caller must hold the lock
func (cb *CircuitBreaker) transition(state State) {
	if cb.state == state {
		return
	}
	cb.state = state
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, state)
	}
}

// Set holds one breaker per endpoint, created on first use
type Set struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	factory  func(name string) *CircuitBreaker
}

// NewSet creates a Set whose breakers are built by factory
func NewSet(factory func(name string) *CircuitBreaker) *Set {
	return &Set{breakers: make(map[string]*CircuitBreaker), factory: factory}
}

// For returns the breaker guarding name
func (s *Set) For(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[name]
	if !ok {
		cb = s.factory(name)
		s.breakers[name] = cb
	}
	return cb
}

// States snapshots the state of every known breaker
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]State, len(s.breakers))
	for name, cb := range s.breakers {
		states[name] = cb.GetState()
	}
	return states
}
