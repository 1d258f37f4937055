package validation

import (
	"fmt"

	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// validateSemantic performs semantic analysis on the graph.
// Checks: node types registered, edge endpoints exist, node configs valid
// for their type, edge conditions compile.
func validateSemantic(graph *schema.WorkflowGraph, lookup ExecutorLookup, router *expressions.Router) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(graph.Nodes))
	for _, n := range graph.Nodes {
		nodeIDs[n.ID] = true
	}

	for i := range graph.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateNodeSemantic(&graph.Nodes[i], path, lookup, result)
	}

	seenEdges := make(map[[2]string]bool, len(graph.Edges))
	for i := range graph.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		validateEdgeSemantic(&graph.Edges[i], path, nodeIDs, seenEdges, router, result)
	}

	return result
}

// validateNodeSemantic checks a single node: executor type and config.
func validateNodeSemantic(node *schema.NodeSpec, path string, lookup ExecutorLookup, result *schema.ValidationResult) {
	if lookup != nil {
		if !lookup.Has(node.Type) {
			result.AddError(path+".type", schema.ErrCodeUnknownNodeType,
				fmt.Sprintf("no executor registered for node type %q", node.Type))
			return // config validation needs a known executor
		}

		if err := lookup.ValidateConfig(node.Type, node.Config); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation,
				fmt.Sprintf("invalid config for node %q: %s", node.ID, err.Error()))
		}
	}

	// Warning: high retry count.
	if node.Retry != nil && node.Retry.MaxAttempts > 10 {
		result.AddWarning(path+".retry.max_attempts", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may cause excessive delays", node.Retry.MaxAttempts))
	}
}

// validateEdgeSemantic checks a single edge: endpoint refs and condition syntax.
func validateEdgeSemantic(edge *schema.EdgeSpec, path string, nodeIDs map[string]bool, seenEdges map[[2]string]bool, router *expressions.Router, result *schema.ValidationResult) {
	if !nodeIDs[edge.Source] {
		result.AddError(path+".source", schema.ErrCodeMissingDependency,
			fmt.Sprintf("edge references non-existent node %q", edge.Source))
	}
	if !nodeIDs[edge.Target] {
		result.AddError(path+".target", schema.ErrCodeMissingDependency,
			fmt.Sprintf("edge references non-existent node %q", edge.Target))
	}

	key := [2]string{edge.Source, edge.Target}
	if seenEdges[key] {
		result.AddWarning(path, schema.ErrCodeValidation,
			fmt.Sprintf("duplicate edge %s -> %s", edge.Source, edge.Target))
	}
	seenEdges[key] = true

	if edge.Condition != "" && router != nil {
		if err := router.Compile(edge.Condition); err != nil {
			result.AddError(path+".condition", schema.ErrCodeValidation,
				fmt.Sprintf("condition does not compile: %s", err.Error()))
		}
	}
}
