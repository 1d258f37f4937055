package executors

import (
	"context"

	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// EvalExecutor implements the "eval" node type: it evaluates an expression
// over the node input and outputs the result. The language config selects
// the engine, "expr" (default) or "cel".
type EvalExecutor struct {
	router *expressions.Router
}

// NewEvalExecutor creates the eval executor over a shared engine router.
func NewEvalExecutor(router *expressions.Router) *EvalExecutor {
	return &EvalExecutor{router: router}
}

func (e *EvalExecutor) Type() string { return "eval" }

func (e *EvalExecutor) engineFor(language string) (expressions.Engine, error) {
	switch language {
	case "", "expr":
		return e.router.Expr(), nil
	case "cel":
		return e.router.CEL(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "eval: unsupported language %q", language)
	}
}

func (e *EvalExecutor) Validate(config map[string]any) error {
	expression := stringParam(config, "expression", "")
	if expression == "" {
		return schema.NewError(schema.ErrCodeValidation, "eval: missing required param 'expression'")
	}
	engine, err := e.engineFor(stringParam(config, "language", ""))
	if err != nil {
		return err
	}
	if c, ok := engine.(interface{ Compile(string) error }); ok {
		return c.Compile(expression)
	}
	return nil
}

func (e *EvalExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	expression := stringParam(inv.Config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "eval: missing required param 'expression'")
	}
	engine, err := e.engineFor(stringParam(inv.Config, "language", ""))
	if err != nil {
		return nil, err
	}

	// Input keys are top-level variables for Expr; "input" holds the whole
	// map so CEL expressions can reach it through a declared name.
	scope := make(map[string]any, len(inv.Input)+1)
	for k, v := range inv.Input {
		scope[k] = v
	}
	scope["input"] = inv.Input

	out, err := engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out}, nil
}
