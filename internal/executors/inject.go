package executors

import (
	"context"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// InjectExecutor implements the "inject" node type: it returns the
// configured value as the node output, untouched. Useful as a workflow
// entry point and for wiring fixed parameters into downstream nodes.
type InjectExecutor struct{}

// NewInjectExecutor creates the inject executor.
func NewInjectExecutor() *InjectExecutor {
	return &InjectExecutor{}
}

func (e *InjectExecutor) Type() string { return "inject" }

func (e *InjectExecutor) Validate(config map[string]any) error {
	if _, ok := config["value"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "inject: missing required param 'value'")
	}
	return nil
}

func (e *InjectExecutor) Execute(_ context.Context, inv Invocation) (*Result, error) {
	return &Result{Output: inv.Config["value"]}, nil
}
