package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/helmsmith/conveyor/internal/executors"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// AttemptPolicy is the resolved retry/timeout budget for one node: graph
// settings overlaid with the node's own overrides.
type AttemptPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// ResolvePolicy merges graph-level defaults with a node's overrides.
// MaxAttempts floors at 1 (a single attempt, no retry).
func ResolvePolicy(node *schema.NodeSpec, settings schema.GraphSettings) AttemptPolicy {
	policy := AttemptPolicy{
		MaxAttempts: settings.MaxAttempts,
		BaseDelay:   time.Duration(settings.BaseDelayMs) * time.Millisecond,
		Timeout:     time.Duration(settings.TimeoutMs) * time.Millisecond,
	}
	if node != nil {
		if node.Retry != nil {
			policy.MaxAttempts = node.Retry.MaxAttempts
			policy.BaseDelay = time.Duration(node.Retry.BaseDelayMs) * time.Millisecond
		}
		if node.TimeoutMs > 0 {
			policy.Timeout = time.Duration(node.TimeoutMs) * time.Millisecond
		}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	return policy
}

// RetryController drives a node executor through its attempt budget. Each
// attempt races the executor against the node timeout; failed attempts back
// off exponentially before the next try.
type RetryController struct {
	// OnRetry, when set, is called after a failed attempt that will be
	// retried, before the backoff wait. It runs on the caller's goroutine.
	OnRetry func(ctx context.Context, meta executors.Meta, attempt int, delay time.Duration, err error)
}

type attemptResult struct {
	output any
	err    error
}

// Run executes the node until it succeeds, exhausts the attempt budget, or
// hits a non-retryable error. It returns the output, the number of attempts
// consumed, and the final error if the node never succeeded.
func (c *RetryController) Run(ctx context.Context, exec executors.NodeExecutor, inv executors.Invocation, policy AttemptPolicy) (any, int, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt - 1, cancelledError(inv.Meta.NodeID, ctx.Err())
		}

		inv.Meta.Attempt = attempt
		output, err := c.attempt(ctx, exec, inv, policy.Timeout)
		if err == nil {
			return output, attempt, nil
		}
		lastErr = err

		// Cancellation is terminal regardless of remaining attempts.
		if schema.IsCode(err, schema.ErrCodeCancelled) {
			return nil, attempt, err
		}
		if !IsRetryableError(err) {
			return nil, attempt, schema.NewErrorf(schema.ErrCodeNonRetryable,
				"node %s: non-retryable error: %s", inv.Meta.NodeID, err.Error()).
				WithNode(inv.Meta.NodeID).WithCause(err)
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := Backoff(policy.BaseDelay, attempt)
		if c.OnRetry != nil {
			c.OnRetry(ctx, inv.Meta, attempt, delay, err)
		}
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, attempt, cancelledError(inv.Meta.NodeID, werr)
		}
	}

	if policy.MaxAttempts > 1 {
		return nil, policy.MaxAttempts, schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"node %s: retries exhausted after %d attempts: %s", inv.Meta.NodeID, policy.MaxAttempts, lastErr.Error()).
			WithNode(inv.Meta.NodeID).WithCause(lastErr).
			WithDetails(map[string]any{"attempts": policy.MaxAttempts})
	}
	return nil, 1, lastErr
}

// attempt runs the executor once, racing it against the node timeout. On
// timeout the attempt goroutine is abandoned; it observes the cancelled
// context and winds down on its own, and its late result is dropped.
func (c *RetryController) attempt(ctx context.Context, exec executors.NodeExecutor, inv executors.Invocation, timeout time.Duration) (any, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: schema.NewErrorf(schema.ErrCodeExecution,
					"node %s: executor panic: %v", inv.Meta.NodeID, r).WithNode(inv.Meta.NodeID)}
			}
		}()
		res, err := exec.Execute(attemptCtx, inv)
		if err != nil {
			done <- attemptResult{err: err}
			return
		}
		var output any
		if res != nil {
			output = res.Output
		}
		done <- attemptResult{output: output}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, c.classify(ctx, attemptCtx, res.err, inv.Meta.NodeID, timeout)
		}
		return res.output, nil
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, timeoutError(inv.Meta.NodeID, timeout)
		}
		return nil, cancelledError(inv.Meta.NodeID, ctx.Err())
	}
}

// classify maps raw executor errors onto the engine taxonomy: deadline hits
// become timeouts, parent-context cancellation becomes CANCELLED, everything
// else passes through.
func (c *RetryController) classify(ctx, attemptCtx context.Context, err error, nodeID string, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return timeoutError(nodeID, timeout)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return cancelledError(nodeID, err)
	}
	return err
}

func timeoutError(nodeID string, timeout time.Duration) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeTimeout, "node %s timed out after %s", nodeID, timeout).
		WithNode(nodeID)
}

func cancelledError(nodeID string, cause error) *schema.EngineError {
	err := schema.NewError(schema.ErrCodeCancelled, "execution cancelled").WithNode(nodeID)
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: cancellation, and typed EngineErrors whose code says so.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A deadline hit is a node timeout, retryable under the node's budget.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common transient failures.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Conservative default: retry and let the attempt budget bound it.
	return true
}

// Backoff returns the wait before attempt k+1 after attempt k failed:
// base * 2^(k-1), attempts counting from 1.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	multiplier := time.Duration(1)
	for i := 1; i < attempt; i++ {
		multiplier *= 2
	}
	return base * multiplier
}

// WaitForBackoff sleeps for the given delay or returns early when the
// context is cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
