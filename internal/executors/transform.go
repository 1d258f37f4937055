package executors

import (
	"context"

	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// TransformJQExecutor implements the "transform.jq" node type: it runs a jq
// program with the node input as the root document. A program producing one
// value outputs that value; multiple values come back as a list.
type TransformJQExecutor struct {
	engine *expressions.GoJQEngine
}

// NewTransformJQExecutor creates the transform.jq executor.
func NewTransformJQExecutor() *TransformJQExecutor {
	return &TransformJQExecutor{engine: expressions.NewGoJQEngine()}
}

func (e *TransformJQExecutor) Type() string { return "transform.jq" }

func (e *TransformJQExecutor) Validate(config map[string]any) error {
	query := stringParam(config, "query", "")
	if query == "" {
		return schema.NewError(schema.ErrCodeValidation, "transform.jq: missing required param 'query'")
	}
	return e.engine.Compile(query)
}

func (e *TransformJQExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	query := stringParam(inv.Config, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform.jq: missing required param 'query'")
	}
	out, err := e.engine.Evaluate(ctx, query, inv.Input)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out}, nil
}
