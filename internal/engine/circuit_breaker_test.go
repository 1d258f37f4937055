package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsmith/conveyor/pkg/schema"
)

func TestCircuitBreaker_StartsClosedAllowsRequests(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	err := cbr.AllowRequest("http.request")
	assert.NoError(t, err)
	assert.Equal(t, CircuitClosed, cbr.GetState("http.request"))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	// Record 2 failures — still closed.
	cbr.RecordFailure("type_x")
	cbr.RecordFailure("type_x")
	assert.Equal(t, CircuitClosed, cbr.GetState("type_x"))

	// 3rd failure — opens the circuit.
	state := cbr.RecordFailure("type_x")
	assert.Equal(t, CircuitOpen, state)
	assert.Equal(t, CircuitOpen, cbr.GetState("type_x"))

	// Requests should now be rejected.
	err := cbr.AllowRequest("type_x")
	require.Error(t, err)
	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, engErr.Code)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("type_y")
	cbr.RecordFailure("type_y")
	// 2 failures, then success resets.
	cbr.RecordSuccess("type_y")
	assert.Equal(t, CircuitClosed, cbr.GetState("type_y"))

	// Need 3 more failures to open.
	cbr.RecordFailure("type_y")
	cbr.RecordFailure("type_y")
	assert.Equal(t, CircuitClosed, cbr.GetState("type_y"))

	cbr.RecordFailure("type_y")
	assert.Equal(t, CircuitOpen, cbr.GetState("type_y"))
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("type_z")
	cbr.RecordFailure("type_z")
	assert.Equal(t, CircuitOpen, cbr.GetState("type_z"))

	// Wait for cooldown.
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open.
	assert.Equal(t, CircuitHalfOpen, cbr.GetState("type_z"))

	// Allow one test request.
	err := cbr.AllowRequest("type_z")
	assert.NoError(t, err)
}

func TestCircuitBreaker_HalfOpenToClosedOnSuccess(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	// Open the circuit.
	cbr.RecordFailure("type_hoc")
	cbr.RecordFailure("type_hoc")
	assert.Equal(t, CircuitOpen, cbr.GetState("type_hoc"))

	// Wait for cooldown → half-open.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cbr.GetState("type_hoc"))

	// Allow request and record success.
	err := cbr.AllowRequest("type_hoc")
	assert.NoError(t, err)
	cbr.RecordSuccess("type_hoc")

	// Should close.
	assert.Equal(t, CircuitClosed, cbr.GetState("type_hoc"))
}

func TestCircuitBreaker_HalfOpenToOpenOnFailure(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	// Open the circuit.
	cbr.RecordFailure("type_hof")
	cbr.RecordFailure("type_hof")

	// Wait for cooldown → half-open.
	time.Sleep(60 * time.Millisecond)
	err := cbr.AllowRequest("type_hof")
	assert.NoError(t, err)

	// Failure in half-open reopens.
	state := cbr.RecordFailure("type_hof")
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuitBreaker_HalfOpenMaxRequests(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("type_max")
	cbr.RecordFailure("type_max")

	time.Sleep(60 * time.Millisecond)

	// First request in half-open is allowed.
	err := cbr.AllowRequest("type_max")
	assert.NoError(t, err)

	// Second request in half-open is rejected (max reached).
	err = cbr.AllowRequest("type_max")
	assert.Error(t, err)
}

func TestCircuitBreaker_PerTypeIsolation(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	// Open circuit for type a.
	cbr.RecordFailure("type_a")
	cbr.RecordFailure("type_a")
	assert.Equal(t, CircuitOpen, cbr.GetState("type_a"))

	// Type b should still be closed.
	assert.Equal(t, CircuitClosed, cbr.GetState("type_b"))
	err := cbr.AllowRequest("type_b")
	assert.NoError(t, err)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type flip struct {
		nodeType string
		from, to CircuitState
	}
	var flips []flip

	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
		OnStateChange: func(nodeType string, from, to CircuitState) {
			flips = append(flips, flip{nodeType, from, to})
		},
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("type_ev")
	cbr.RecordFailure("type_ev") // closed → open
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cbr.AllowRequest("type_ev")) // open → half_open
	cbr.RecordSuccess("type_ev")                    // half_open → closed

	require.Len(t, flips, 3)
	assert.Equal(t, flip{"type_ev", CircuitClosed, CircuitOpen}, flips[0])
	assert.Equal(t, flip{"type_ev", CircuitOpen, CircuitHalfOpen}, flips[1])
	assert.Equal(t, flip{"type_ev", CircuitHalfOpen, CircuitClosed}, flips[2])
}

func TestCircuitBreaker_NoFlipNoCallback(t *testing.T) {
	calls := 0
	cfg := CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
		OnStateChange:    func(string, CircuitState, CircuitState) { calls++ },
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	// Successes on an already-closed circuit are not flips.
	cbr.RecordSuccess("type_q")
	cbr.RecordFailure("type_q")
	cbr.RecordSuccess("type_q")
	assert.Zero(t, calls)
}

func TestCircuitBreaker_ZeroConfigUsesDefaults(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(CircuitBreakerConfig{})

	stats := cbr.GetStats("type_d")
	assert.Equal(t, DefaultCircuitBreakerConfig().FailureThreshold, stats["failure_threshold"])
	assert.Equal(t, DefaultCircuitBreakerConfig().Cooldown.String(), stats["cooldown"])
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	cbr.RecordFailure("stats_type")
	cbr.RecordFailure("stats_type")

	stats := cbr.GetStats("stats_type")
	assert.Equal(t, "stats_type", stats["node_type"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 2, stats["consecutive_failures"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestCircuitEventType(t *testing.T) {
	assert.Equal(t, schema.EventCircuitOpen, CircuitEventType(CircuitOpen))
	assert.Equal(t, schema.EventCircuitHalfOpen, CircuitEventType(CircuitHalfOpen))
	assert.Equal(t, schema.EventCircuitClosed, CircuitEventType(CircuitClosed))
}
