package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

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

// ErrOpen is returned without invoking the wrapped call while the breaker
// is open or half-open with its probe budget exhausted.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// MaxFailures consecutive failures trip the breaker open.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxProbes limits concurrent half-open probe requests.
	MaxProbes int
}

// CircuitBreaker guards an outbound collaborator call. A run of failures
// opens it; after the cooldown it lets a bounded number of probes through
// and closes again on the first success.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	maxProbes   int

	mutex        sync.RWMutex
	state        State
	failures     int
	probes       int
	lastFailTime time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = 1
	}

	return &CircuitBreaker{
		name:        config.Name,
		maxFailures: config.MaxFailures,
		cooldown:    config.Cooldown,
		maxProbes:   config.MaxProbes,
		state:       StateClosed,
		logger:      logger,
	}
}

// Execute runs fn under the breaker, returning ErrOpen without calling it
// when the breaker is rejecting requests.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()

	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailTime) <= cb.cooldown {
			cb.totalRejected++
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
		cb.probes = 0
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.maxProbes {
			cb.totalRejected++
			return ErrOpen
		}
		cb.probes++
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.totalFailures++
		cb.failures++
		cb.lastFailTime = time.Now()

		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.maxFailures) {
			cb.setState(StateOpen)
		}
		return
	}

	cb.totalSuccesses++
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from_state":      oldState.String(),
		"to_state":        newState.String(),
	}).Info("Circuit breaker state changed")
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return map[string]interface{}{
		"name":             cb.name,
		"state":            cb.state.String(),
		"failures":         cb.failures,
		"total_requests":   cb.totalRequests,
		"total_failures":   cb.totalFailures,
		"total_successes":  cb.totalSuccesses,
		"total_rejected":   cb.totalRejected,
		"max_failures":     cb.maxFailures,
		"cooldown_seconds": cb.cooldown.Seconds(),
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.probes = 0
	cb.lastFailTime = time.Time{}
}
