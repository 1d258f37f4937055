package engine

import (
	"context"
	"log/slog"

	"github.com/helmsmith/conveyor/internal/expressions"
)

// EdgeEvaluator decides run-time eligibility for nodes whose incoming edges
// carry conditions. Conditions are evaluated against the source node's
// recorded output; a skipped or failed source has no recorded output, so its
// conditions see output as null.
type EdgeEvaluator struct {
	router *expressions.Router
	logger *slog.Logger
}

// NewEdgeEvaluator creates an evaluator over the given expression router.
func NewEdgeEvaluator(router *expressions.Router, logger *slog.Logger) *EdgeEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeEvaluator{router: router, logger: logger}
}

// Eligible reports whether a node should be dispatched. A node with no
// conditional incoming edges is always eligible; otherwise at least one
// conditional edge must evaluate true. The second return is the skip reason
// when the node is ineligible.
//
// A condition that fails to evaluate counts as false rather than failing
// the run; the error is logged and the walk moves on.
func (e *EdgeEvaluator) Eligible(ctx context.Context, plan *Plan, nodeID string, scope *expressions.Scope) (bool, string) {
	incoming := plan.Incoming[nodeID]
	if len(incoming) == 0 {
		return true, ""
	}

	hasConditional := false
	for _, edge := range incoming {
		if edge.Condition == "" {
			continue
		}
		hasConditional = true

		sourceOutput := scope.Nodes[edge.Source]
		data := scope.ConditionData(sourceOutput)
		ok, err := e.router.EvaluateBool(ctx, edge.Condition, data)
		if err != nil {
			e.logger.WarnContext(ctx, "edge condition failed to evaluate, treating as false",
				slog.String("source", edge.Source),
				slog.String("target", edge.Target),
				slog.String("condition", edge.Condition),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			return true, ""
		}
	}

	if !hasConditional {
		return true, ""
	}
	return false, "condition not met"
}
