package schema

import "time"

// ErrorHandling selects the workflow-level policy applied after a node
// exhausts its retry budget.
type ErrorHandling string

const (
	// ErrorHandlingStop aborts the walk at the first failed node.
	ErrorHandlingStop ErrorHandling = "stop"
	// ErrorHandlingContinue records the failure and keeps walking.
	ErrorHandlingContinue ErrorHandling = "continue"
	// ErrorHandlingRollback compensates completed nodes, then fails the run.
	ErrorHandlingRollback ErrorHandling = "rollback"
)

// WorkflowGraph is the declarative input to the engine: nodes, directed
// edges, and run-wide settings. A graph is supplied per execution and is
// never mutated by the engine.
type WorkflowGraph struct {
	Nodes    []NodeSpec     `json:"nodes"`
	Edges    []EdgeSpec     `json:"edges,omitempty"`
	Settings GraphSettings  `json:"settings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NodeSpec declares one unit of work. Type is the dispatch key into the
// executor registry. Config is opaque to the engine apart from ${{...}}
// interpolation immediately before dispatch.
type NodeSpec struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Config    map[string]any `json:"config,omitempty"`
	Retry     *RetryPolicy   `json:"retry,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
}

// EdgeSpec is a directed dependency from Source to Target. A non-empty
// Condition gates traversal on an expression evaluated against the source
// node's recorded output at run time; an empty Condition is unconditional.
type EdgeSpec struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// GraphSettings carries run-wide defaults and the error-handling mode.
// TimeoutMs, MaxAttempts, and BaseDelayMs apply to every node that does not
// override them.
type GraphSettings struct {
	TimeoutMs     int64         `json:"timeout_ms,omitempty"`
	ErrorHandling ErrorHandling `json:"error_handling,omitempty"`
	MaxAttempts   int           `json:"max_attempts,omitempty"`
	BaseDelayMs   int64         `json:"base_delay_ms,omitempty"`
}

// RetryPolicy bounds re-execution of a failing node. MaxAttempts of 1 means
// no retries. The wait before attempt k+1 is BaseDelayMs * 2^(k-1).
type RetryPolicy struct {
	MaxAttempts int   `json:"max_attempts"`
	BaseDelayMs int64 `json:"base_delay_ms,omitempty"`
}

// ErrorMode returns the configured error-handling mode, defaulting to stop.
func (s GraphSettings) ErrorMode() ErrorHandling {
	switch s.ErrorHandling {
	case ErrorHandlingContinue, ErrorHandlingRollback:
		return s.ErrorHandling
	default:
		return ErrorHandlingStop
	}
}

// NodeByID returns the node with the given id, or nil.
func (g *WorkflowGraph) NodeByID(id string) *NodeSpec {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// ExecutionRequest is one admission into the engine, normally decoded from a
// queue job. Priority is the external queue's weight; the engine carries it
// opaque.
type ExecutionRequest struct {
	ExecutionID   string         `json:"execution_id,omitempty"`
	WorkflowID    string         `json:"workflow_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Graph         *WorkflowGraph `json:"graph"`
	Input         map[string]any `json:"input,omitempty"`
	Priority      int            `json:"priority,omitempty"`
}

// ExecutionRecord is the full result of one run. It is owned by the
// orchestrator driving the execution and mutated only on that control path.
type ExecutionRecord struct {
	ID             string                          `json:"id"`
	WorkflowID     string                          `json:"workflow_id"`
	CorrelationID  string                          `json:"correlation_id,omitempty"`
	Status         ExecutionStatus                 `json:"status"`
	StartedAt      time.Time                       `json:"started_at"`
	EndedAt        *time.Time                      `json:"ended_at,omitempty"`
	NodeExecutions map[string]*NodeExecutionRecord `json:"node_executions"`
	Outputs        map[string]any                  `json:"outputs,omitempty"`
	ErrorMessage   string                          `json:"error_message,omitempty"`
}

// NodeExecutionRecord tracks one node through a run. A record exists from
// the moment the orchestrator decides the node is reachable; pending covers
// planned-but-not-dispatched.
type NodeExecutionRecord struct {
	NodeID    string     `json:"node_id"`
	Status    NodeStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Progress is a point-in-time summary of a run, recomputed on every read.
// Percentage counts settled nodes (completed+failed+skipped) over total.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Running    int     `json:"running"`
	Pending    int     `json:"pending"`
	Percentage float64 `json:"percentage"`
}
