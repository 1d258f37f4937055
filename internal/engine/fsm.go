package engine

import (
	"github.com/helmsmith/conveyor/pkg/schema"
)

// ValidExecutionTransitions defines the allowed status transitions for a
// whole execution. Terminal statuses allow nothing.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}

// ValidNodeTransitions defines the allowed status transitions for a node
// within a run. A node never leaves a terminal status.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:   {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning:   {schema.NodeStatusCompleted, schema.NodeStatusFailed},
	schema.NodeStatusCompleted: {},
	schema.NodeStatusFailed:    {},
	schema.NodeStatusSkipped:   {},
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func isValidNodeTransition(from, to schema.NodeStatus) bool {
	allowed, ok := ValidNodeTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// ExecutionEventType maps a newly entered execution status to its event
// name, or "" when no event corresponds.
func ExecutionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		return schema.EventExecutionStarted
	case schema.ExecutionStatusCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionStatusCancelled:
		return schema.EventExecutionCancelled
	default:
		return ""
	}
}

// NodeEventType maps a newly entered node status to its event name, or ""
// when no event corresponds.
func NodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	default:
		return ""
	}
}
