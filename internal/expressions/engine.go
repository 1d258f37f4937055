package expressions

import (
	"context"
	"strings"
)

// Engine evaluates expressions against workflow data.
// Three implementations: Expr (default logic), CEL (typed conditions), GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Router dispatches expressions to an engine based on an optional prefix.
// "cel:" routes to CEL, "jq:" routes to GoJQ, everything else goes to Expr.
type Router struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewRouter creates a Router backed by freshly constructed engines.
func NewRouter() (*Router, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Router{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}, nil
}

// Select returns the engine for the given expression along with the
// expression stripped of its routing prefix.
func (r *Router) Select(expression string) (Engine, string) {
	switch {
	case strings.HasPrefix(expression, "cel:"):
		return r.cel, strings.TrimSpace(strings.TrimPrefix(expression, "cel:"))
	case strings.HasPrefix(expression, "jq:"):
		return r.jq, strings.TrimSpace(strings.TrimPrefix(expression, "jq:"))
	default:
		return r.expr, expression
	}
}

// Evaluate routes the expression to the right engine and evaluates it.
func (r *Router) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	engine, stripped := r.Select(expression)
	return engine.Evaluate(ctx, stripped, data)
}

// EvaluateBool evaluates the expression and coerces the result to a boolean.
// Non-boolean results follow JSON truthiness: nil and false are false,
// everything else is true.
func (r *Router) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := r.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

// Compile validates an expression on its routed engine without evaluating it.
func (r *Router) Compile(expression string) error {
	engine, stripped := r.Select(expression)
	if c, ok := engine.(interface{ Compile(string) error }); ok {
		return c.Compile(stripped)
	}
	return nil
}

// Expr returns the underlying Expr engine.
func (r *Router) Expr() *ExprEngine { return r.expr }

// CEL returns the underlying CEL engine.
func (r *Router) CEL() *CELEngine { return r.cel }

// JQ returns the underlying GoJQ engine.
func (r *Router) JQ() *GoJQEngine { return r.jq }

// Truthy reports whether an evaluation result counts as true.
// Booleans are taken as-is; nil is false; all other values are true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	default:
		return true
	}
}
