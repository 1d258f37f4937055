package expressions

import (
	"sync"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// ScopeBuilder constructs interpolation and condition scopes for one execution.
// It enforces:
//   - Node outputs are immutable after completion (frozen on insert).
//   - Append-only: a new output is added each time a node completes.
//   - Trigger input and run metadata are immutable after init.
type ScopeBuilder struct {
	mu      sync.RWMutex
	nodes   map[string]any // node ID -> frozen output (deep-copied on insert)
	trigger map[string]any // trigger input (immutable after init)
	run     map[string]any // run metadata (immutable after init)
}

// NewScopeBuilder creates a ScopeBuilder initialized with execution-level data.
// trigger and run are deep-copied to prevent external mutation.
func NewScopeBuilder(trigger, run map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		nodes:   make(map[string]any),
		trigger: deepCopyMap(trigger),
		run:     deepCopyMap(run),
	}
}

// AddNodeOutput registers a completed node's output. The output is frozen
// (deep-copied) at the time of insertion. Subsequent calls with the same
// nodeID are rejected: node outputs are immutable after completion.
func (sb *ScopeBuilder) AddNodeOutput(nodeID string, output any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.nodes[nodeID]; exists {
		return schema.NewErrorf(schema.ErrCodeInterpolation,
			"node %q output already registered; node outputs are immutable after completion", nodeID)
	}

	sb.nodes[nodeID] = deepCopyAny(output)
	return nil
}

// Build creates a Scope snapshot. The returned scope is safe for concurrent
// use (node outputs are copied; trigger and run were frozen at init).
func (sb *ScopeBuilder) Build() *Scope {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	return &Scope{
		Nodes:   deepCopyMap(sb.nodes),
		Trigger: sb.trigger,
		Run:     sb.run,
	}
}

// NodeOutput returns the frozen output of a node and whether it exists.
func (sb *ScopeBuilder) NodeOutput(nodeID string) (any, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out, ok := sb.nodes[nodeID]
	return out, ok
}

// NodeOutputs returns a read-only copy of the current node outputs.
func (sb *ScopeBuilder) NodeOutputs() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.nodes)
}

// Scope is a frozen snapshot of execution data for variable resolution
// and condition evaluation.
type Scope struct {
	Nodes   map[string]any // node ID -> output
	Trigger map[string]any // trigger input
	Run     map[string]any // run metadata (execution_id, workflow_id, ...)
}

// ConditionData builds the data map for evaluating an edge condition.
// "output" is the source node's output; "nodes", "trigger", and "run"
// come from the scope.
func (s *Scope) ConditionData(sourceOutput any) map[string]any {
	return map[string]any{
		"output":  sourceOutput,
		"nodes":   s.Nodes,
		"trigger": s.Trigger,
		"run":     s.Run,
	}
}

// EvalData builds the data map for eval and transform nodes: the node's
// assembled input plus the shared namespaces.
func (s *Scope) EvalData(input map[string]any) map[string]any {
	return map[string]any{
		"input":   input,
		"nodes":   s.Nodes,
		"trigger": s.Trigger,
		"run":     s.Run,
	}
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
