package executors

import (
	"context"
	"sync"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// SubflowRunner executes a child workflow synchronously and returns its
// terminal record.
type SubflowRunner func(ctx context.Context, req *schema.ExecutionRequest) (*schema.ExecutionRecord, error)

// WorkflowLookup fetches a registered workflow by id.
type WorkflowLookup func(ctx context.Context, workflowID string) (*schema.Workflow, error)

// SubflowExecutor implements the "subflow" node type: it runs a registered
// workflow as a child execution and outputs the child's outputs. The runner
// is late-bound via Bind because the front door is constructed on top of the
// registry holding this executor.
type SubflowExecutor struct {
	mu     sync.RWMutex
	lookup WorkflowLookup
	run    SubflowRunner
}

// NewSubflowExecutor creates an unbound subflow executor.
func NewSubflowExecutor() *SubflowExecutor {
	return &SubflowExecutor{}
}

// Bind wires the workflow lookup and the child runner. Called once during
// host wiring, before traffic.
func (e *SubflowExecutor) Bind(lookup WorkflowLookup, run SubflowRunner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lookup = lookup
	e.run = run
}

func (e *SubflowExecutor) bound() (WorkflowLookup, SubflowRunner) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lookup, e.run
}

func (e *SubflowExecutor) Type() string { return "subflow" }

func (e *SubflowExecutor) Validate(config map[string]any) error {
	if stringParam(config, "workflow_id", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "subflow: missing required param 'workflow_id'")
	}
	return nil
}

func (e *SubflowExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	workflowID := stringParam(inv.Config, "workflow_id", "")
	if workflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "subflow: missing required param 'workflow_id'")
	}

	lookup, run := e.bound()
	if lookup == nil || run == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "subflow: child runner not configured")
	}

	workflow, err := lookup(ctx, workflowID)
	if err != nil {
		// Flattened to text on purpose: a NOT_FOUND cause in the chain would
		// read as a structural failure of the parent walk.
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"subflow: workflow %q: %s", workflowID, err.Error())
	}
	if workflow.Graph == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"subflow: workflow %q has no graph", workflowID)
	}

	childInput := inv.Input
	if raw, ok := inv.Config["input"]; ok {
		m, isMap := raw.(map[string]any)
		if !isMap {
			return nil, schema.NewError(schema.ErrCodeValidation, "subflow: 'input' must be an object")
		}
		childInput = m
	}

	record, err := run(ctx, &schema.ExecutionRequest{
		WorkflowID:    workflow.ID,
		CorrelationID: inv.Meta.CorrelationID,
		Graph:         workflow.Graph,
		Input:         childInput,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"subflow: submit child of workflow %q: %s", workflowID, err.Error()).WithCause(err)
	}

	switch record.Status {
	case schema.ExecutionStatusCompleted:
		return &Result{Output: map[string]any{
			"execution_id": record.ID,
			"status":       string(record.Status),
			"outputs":      record.Outputs,
		}}, nil
	case schema.ExecutionStatusCancelled:
		return nil, schema.NewErrorf(schema.ErrCodeCancelled,
			"subflow: child execution %s cancelled", record.ID)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"subflow: child execution %s failed: %s", record.ID, record.ErrorMessage).
			WithDetails(map[string]any{"child_execution_id": record.ID})
	}
}
