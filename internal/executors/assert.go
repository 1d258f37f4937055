package executors

import (
	"context"

	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// AssertExecutor implements the "assert" node type: it evaluates a condition
// expression over the node input and fails the node with ASSERTION_FAILED
// when the condition does not hold. Conditions use the same engine routing
// as edge conditions ("cel:" and "jq:" prefixes, Expr otherwise).
type AssertExecutor struct {
	router *expressions.Router
}

// NewAssertExecutor creates the assert executor over a shared engine router.
func NewAssertExecutor(router *expressions.Router) *AssertExecutor {
	return &AssertExecutor{router: router}
}

func (e *AssertExecutor) Type() string { return "assert" }

func (e *AssertExecutor) Validate(config map[string]any) error {
	condition := stringParam(config, "condition", "")
	if condition == "" {
		return schema.NewError(schema.ErrCodeValidation, "assert: missing required param 'condition'")
	}
	return e.router.Compile(condition)
}

func (e *AssertExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	condition := stringParam(inv.Config, "condition", "")
	if condition == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "assert: missing required param 'condition'")
	}

	scope := make(map[string]any, len(inv.Input)+1)
	for k, v := range inv.Input {
		scope[k] = v
	}
	scope["input"] = inv.Input

	ok, err := e.router.EvaluateBool(ctx, condition, scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"assert: condition %q failed to evaluate: %s", condition, err.Error()).WithCause(err)
	}
	if !ok {
		msg := stringParam(inv.Config, "message", "")
		if msg == "" {
			msg = "assert: condition not satisfied"
		}
		return nil, schema.NewError(schema.ErrCodeAssertionFailed, msg).
			WithDetails(map[string]any{"condition": condition})
	}

	return &Result{Output: map[string]any{"passed": true}}, nil
}
