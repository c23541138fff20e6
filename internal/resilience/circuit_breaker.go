// Package resilience provides the circuit breaker that wraps protocol
// adapters, fast-failing requests to a dependency that is already
// failing rather than letting every worker queue up on it.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadsmith/loadsmith/internal/logging"
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// CircuitBreaker protects an adapter against cascading failures when its
// backing dependency (an HTTP endpoint, a database) is down.
type CircuitBreaker struct {
	mu     sync.RWMutex
	logger logging.Logger
	name   string

	maxFailures     int64
	timeout         time.Duration
	resetTimeout    time.Duration
	halfOpenMaxReqs int64

	state           State
	failures        int64
	requests        int64
	successes       int64
	lastFailureTime time.Time
	lastStateChange time.Time

	halfOpenReqs int64
	halfOpenSucc int64

	onStateChange func(name string, from, to State)
}

// Config configures a CircuitBreaker. Zero values fall back to the
// defaults noted per field.
type Config struct {
	Name            string
	MaxFailures     int64         // default 5
	Timeout         time.Duration // default 60s, per-call deadline
	ResetTimeout    time.Duration // default 30s, open->half-open cooldown
	HalfOpenMaxReqs int64         // default 3
	OnStateChange   func(name string, from, to State)
}

// New creates a CircuitBreaker, defaulting unset Config fields to the
// same values the teacher's circuit breaker used.
func New(config Config, logger logging.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logging.NewDefault()
	}
	cb := &CircuitBreaker{
		logger:          logger.With(logging.F.String("circuit_breaker", config.Name)),
		name:            config.Name,
		maxFailures:     config.MaxFailures,
		timeout:         config.Timeout,
		resetTimeout:    config.ResetTimeout,
		halfOpenMaxReqs: config.HalfOpenMaxReqs,
		state:           StateClosed,
		lastStateChange: time.Now(),
		onStateChange:   config.OnStateChange,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.timeout <= 0 {
		cb.timeout = 60 * time.Second
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.halfOpenMaxReqs <= 0 {
		cb.halfOpenMaxReqs = 3
	}
	return cb
}

// Execute runs fn with circuit breaker protection and no context deadline.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("circuit breaker %s is open", cb.name)
	}
	if err := fn(); err != nil {
		cb.onRequestFailure(err)
		return err
	}
	cb.onRequestSuccess()
	return nil
}

// ExecuteWithContext runs fn with circuit breaker protection, a per-call
// timeout, and cancellation via ctx.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("circuit breaker %s is open", cb.name)
	}

	resultCh := make(chan error, 1)
	go func() { resultCh <- fn(ctx) }()

	select {
	case err := <-resultCh:
		if err != nil {
			cb.onRequestFailure(err)
			return err
		}
		cb.onRequestSuccess()
		return nil
	case <-ctx.Done():
		cb.onRequestFailure(ctx.Err())
		return ctx.Err()
	case <-time.After(cb.timeout):
		err := fmt.Errorf("circuit breaker %s timeout", cb.name)
		cb.onRequestFailure(err)
		return err
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats describes circuit breaker counters at a point in time.
type Stats struct {
	Name            string
	State           State
	Failures        int64
	Requests        int64
	Successes       int64
	LastFailureTime time.Time
	LastStateChange time.Time
	FailureRate     float64
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requests,
		Successes:       cb.successes,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
		FailureRate:     cb.calculateFailureRate(),
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.requests = 0
	cb.successes = 0
	cb.halfOpenReqs = 0
	cb.halfOpenSucc = 0
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker reset", logging.F.String("from_state", oldState.String()))
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, cb.state)
	}
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(cb.lastStateChange) >= cb.resetTimeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenReqs = 0
			cb.halfOpenSucc = 0
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenReqs < cb.halfOpenMaxReqs
	default:
		return false
	}
}

func (cb *CircuitBreaker) onRequestSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt64(&cb.requests, 1)
	atomic.AddInt64(&cb.successes, 1)

	if cb.state == StateHalfOpen {
		cb.halfOpenReqs++
		cb.halfOpenSucc++
		if cb.halfOpenSucc >= cb.halfOpenMaxReqs {
			cb.setState(StateClosed)
			cb.failures = 0
		}
	}
}

func (cb *CircuitBreaker) onRequestFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt64(&cb.requests, 1)
	atomic.AddInt64(&cb.failures, 1)
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenReqs++
		cb.setState(StateOpen)
	}

	cb.logger.Warn("circuit breaker recorded failure",
		logging.F.Err(err), logging.F.String("state", cb.state.String()))
}

func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker state changed",
		logging.F.String("from", oldState.String()), logging.F.String("to", newState.String()))

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

func (cb *CircuitBreaker) calculateFailureRate() float64 {
	if cb.requests == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.requests)
}

// Manager owns one CircuitBreaker per named dependency, so the HTTP and
// SQL adapters can share breakers keyed by endpoint/connection.
type Manager struct {
	mu       sync.RWMutex
	logger   logging.Logger
	breakers map[string]*CircuitBreaker
}

// NewManager creates a circuit breaker manager.
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Manager{logger: logger, breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the named breaker, creating it with config on first
// use.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.breakers[name]; exists {
		return cb
	}
	config.Name = name
	cb := New(config, m.logger)
	m.breakers[name] = cb
	return cb
}

// AllStats returns statistics for every known breaker.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]Stats, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}
