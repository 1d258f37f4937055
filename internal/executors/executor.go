package executors

import (
	"context"
)

// NodeExecutor is the capability interface behind every node type. The
// engine resolves an executor by the node's type string and invokes it
// through the retry controller; it never inspects config beyond
// interpolation.
type NodeExecutor interface {
	// Type is the dispatch key, e.g. "http.request" or "transform.jq".
	Type() string
	// Execute runs the node once. Implementations must honor ctx
	// cancellation and are responsible for their own idempotency under
	// retry.
	Execute(ctx context.Context, inv Invocation) (*Result, error)
	// Validate checks a node config at definition time, before any run.
	Validate(config map[string]any) error
}

// Compensator is implemented by executors whose effects can be undone. The
// engine invokes it during a rollback pass, in reverse completion order,
// passing the output the node produced when it completed.
type Compensator interface {
	Compensate(ctx context.Context, inv Invocation, output any) error
}

// Invocation carries everything one node attempt needs. Config is the
// node's interpolated config; Input is the merged trigger payload plus
// predecessor outputs keyed by node id.
type Invocation struct {
	Config map[string]any
	Input  map[string]any
	Meta   Meta
}

// Meta identifies the run and node an invocation belongs to. Attempt counts
// from 1 and is rewritten by the retry controller on each try.
type Meta struct {
	ExecutionID   string
	WorkflowID    string
	NodeID        string
	CorrelationID string
	Attempt       int
}

// Result is the output of a successful node execution. Output must be a
// plain JSON value (map, slice, string, float64, bool, or nil) so it can be
// recorded, interpolated downstream, and persisted as-is.
type Result struct {
	Output any
}
