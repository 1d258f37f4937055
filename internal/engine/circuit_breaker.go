package engine

import (
	"sync"
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing, rejecting calls
	CircuitHalfOpen                     // testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitEventType maps a breaker state to its event name.
func CircuitEventType(s CircuitState) string {
	switch s {
	case CircuitOpen:
		return schema.EventCircuitOpen
	case CircuitHalfOpen:
		return schema.EventCircuitHalfOpen
	default:
		return schema.EventCircuitClosed
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
	// OnStateChange, when set, is called after every state flip.
	OnStateChange func(nodeType string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a sensible default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// circuitBreaker tracks failure state for a single node type.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              CircuitBreakerConfig
	nodeType            string
}

func (cb *circuitBreaker) setStateLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.nodeType, from, to)
	}
}

// CircuitBreakerRegistry manages per-node-type circuit breakers. A node type
// that keeps failing across executions stops being dispatched until the
// cooldown lets a test request through.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a new registry with the given config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCircuitBreakerConfig().Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = DefaultCircuitBreakerConfig().HalfOpenMax
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
	}
}

// AllowRequest checks whether dispatching the given node type is allowed.
// Returns nil if allowed, or a CIRCUIT_OPEN error if the circuit rejects it.
func (r *CircuitBreakerRegistry) AllowRequest(nodeType string) error {
	cb := r.getOrCreate(nodeType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.setStateLocked(CircuitHalfOpen)
			cb.halfOpenAttempts = 1 // this request counts as the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for node type %q: %d consecutive failures, cooldown remaining",
			nodeType, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"node_type":            nodeType,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for node type %q: max test requests reached", nodeType)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess records a successful execution for the node type and closes
// the circuit.
func (r *CircuitBreakerRegistry) RecordSuccess(nodeType string) {
	cb := r.getOrCreate(nodeType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.setStateLocked(CircuitClosed)
}

// RecordFailure records a failed execution for the node type.
// Returns the new circuit state.
func (r *CircuitBreakerRegistry) RecordFailure(nodeType string) CircuitState {
	cb := r.getOrCreate(nodeType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	// Any failure in half-open reopens the circuit.
	if cb.state == CircuitHalfOpen {
		cb.setStateLocked(CircuitOpen)
		return CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.setStateLocked(CircuitOpen)
		return CircuitOpen
	}

	return cb.state
}

// GetState returns the current state of the circuit for a node type.
func (r *CircuitBreakerRegistry) GetState(nodeType string) CircuitState {
	cb := r.getOrCreate(nodeType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.setStateLocked(CircuitHalfOpen)
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// GetStats returns diagnostic information about a circuit breaker.
func (r *CircuitBreakerRegistry) GetStats(nodeType string) map[string]any {
	cb := r.getOrCreate(nodeType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"node_type":            nodeType,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

func (r *CircuitBreakerRegistry) getOrCreate(nodeType string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[nodeType]
	if !ok {
		cb = &circuitBreaker{
			state:    CircuitClosed,
			config:   r.config,
			nodeType: nodeType,
		}
		r.breakers[nodeType] = cb
	}
	return cb
}
