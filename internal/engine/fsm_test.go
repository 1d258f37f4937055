package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helmsmith/conveyor/pkg/schema"
)

func TestExecutionTransitions_Valid(t *testing.T) {
	valid := [][2]schema.ExecutionStatus{
		{schema.ExecutionStatusPending, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusPending, schema.ExecutionStatusFailed},
		{schema.ExecutionStatusPending, schema.ExecutionStatusCancelled},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	}
	for _, pair := range valid {
		assert.True(t, isValidExecutionTransition(pair[0], pair[1]),
			"%s -> %s should be valid", pair[0], pair[1])
	}
}

func TestExecutionTransitions_Invalid(t *testing.T) {
	invalid := [][2]schema.ExecutionStatus{
		{schema.ExecutionStatusPending, schema.ExecutionStatusCompleted},
		{schema.ExecutionStatusRunning, schema.ExecutionStatusPending},
		{schema.ExecutionStatusCompleted, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed},
		{schema.ExecutionStatusFailed, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusFailed, schema.ExecutionStatusCompleted},
		{schema.ExecutionStatusCancelled, schema.ExecutionStatusRunning},
		{schema.ExecutionStatusCancelled, schema.ExecutionStatusCompleted},
	}
	for _, pair := range invalid {
		assert.False(t, isValidExecutionTransition(pair[0], pair[1]),
			"%s -> %s should be invalid", pair[0], pair[1])
	}
}

func TestNodeTransitions_Valid(t *testing.T) {
	valid := [][2]schema.NodeStatus{
		{schema.NodeStatusPending, schema.NodeStatusRunning},
		{schema.NodeStatusPending, schema.NodeStatusSkipped},
		{schema.NodeStatusRunning, schema.NodeStatusCompleted},
		{schema.NodeStatusRunning, schema.NodeStatusFailed},
	}
	for _, pair := range valid {
		assert.True(t, isValidNodeTransition(pair[0], pair[1]),
			"%s -> %s should be valid", pair[0], pair[1])
	}
}

func TestNodeTransitions_Invalid(t *testing.T) {
	invalid := [][2]schema.NodeStatus{
		{schema.NodeStatusPending, schema.NodeStatusCompleted},
		{schema.NodeStatusPending, schema.NodeStatusFailed},
		{schema.NodeStatusRunning, schema.NodeStatusSkipped},
		{schema.NodeStatusRunning, schema.NodeStatusPending},
		{schema.NodeStatusCompleted, schema.NodeStatusRunning},
		{schema.NodeStatusCompleted, schema.NodeStatusFailed},
		{schema.NodeStatusFailed, schema.NodeStatusRunning},
		{schema.NodeStatusFailed, schema.NodeStatusCompleted},
		{schema.NodeStatusSkipped, schema.NodeStatusRunning},
	}
	for _, pair := range invalid {
		assert.False(t, isValidNodeTransition(pair[0], pair[1]),
			"%s -> %s should be invalid", pair[0], pair[1])
	}
}

func TestExecutionEventType(t *testing.T) {
	assert.Equal(t, schema.EventExecutionStarted, ExecutionEventType(schema.ExecutionStatusRunning))
	assert.Equal(t, schema.EventExecutionCompleted, ExecutionEventType(schema.ExecutionStatusCompleted))
	assert.Equal(t, schema.EventExecutionFailed, ExecutionEventType(schema.ExecutionStatusFailed))
	assert.Equal(t, schema.EventExecutionCancelled, ExecutionEventType(schema.ExecutionStatusCancelled))
	assert.Empty(t, ExecutionEventType(schema.ExecutionStatusPending))
}

func TestNodeEventType(t *testing.T) {
	assert.Equal(t, schema.EventNodeStarted, NodeEventType(schema.NodeStatusRunning))
	assert.Equal(t, schema.EventNodeCompleted, NodeEventType(schema.NodeStatusCompleted))
	assert.Equal(t, schema.EventNodeFailed, NodeEventType(schema.NodeStatusFailed))
	assert.Equal(t, schema.EventNodeSkipped, NodeEventType(schema.NodeStatusSkipped))
	assert.Empty(t, NodeEventType(schema.NodeStatusPending))
}
