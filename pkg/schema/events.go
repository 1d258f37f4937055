package schema

import "time"

// Event type constants for the event log and streaming hub. The execution.*
// and node.* names are the contract exposed to persistence/event
// collaborators.
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
	EventExecutionCancelled = "execution.cancelled"

	EventNodeStarted     = "node.started"
	EventNodeCompleted   = "node.completed"
	EventNodeFailed      = "node.failed"
	EventNodeSkipped     = "node.skipped"
	EventNodeRetrying    = "node.retrying"
	EventNodeCompensated = "node.compensated"

	EventCircuitOpen     = "circuit.open"
	EventCircuitHalfOpen = "circuit.half_open"
	EventCircuitClosed   = "circuit.closed"

	EventScheduleTriggered = "schedule.triggered"
)

// Event is one engine occurrence, fanned out to the streaming hub and
// appended to the event log. Seq is the per-execution sequence number,
// assigned by the event log on append; it is zero on the in-flight copy.
type Event struct {
	ID          string         `json:"id,omitempty"`
	Seq         int64          `json:"seq,omitempty"`
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      string         `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// ExecutionStatus represents the lifecycle state of one execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final and irreversible.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// NodeStatus represents the lifecycle state of one node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the node status is final.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}
