package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
//
// Structural codes (cycle, unknown type, missing dependency) are fatal to
// the whole execution and never retried. Transient codes are retried per
// node policy. CANCELLED is terminal and never retried.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
	ErrCodeMissingDependency = "MISSING_DEPENDENCY"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeCapacity          = "CAPACITY_EXCEEDED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeAssertionFailed   = "ASSERTION_FAILED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeVault             = "VAULT_ERROR"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the retry controller may re-attempt after this
// error. Structural, control, and explicitly non-retryable codes are final.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeExecution, ErrCodeStore:
		return true
	default:
		return false
	}
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *EngineError) WithNode(nodeID string) *EngineError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// AsEngineError unwraps err to an *EngineError if one is in the chain.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// IsCode reports whether any error in the chain carries the given code.
func IsCode(err error, code string) bool {
	for err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
