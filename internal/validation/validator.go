package validation

import "github.com/helmsmith/conveyor/pkg/schema"

// Validator checks workflow graphs for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structural and input validation.
type Validator interface {
	ValidateGraph(graph *schema.WorkflowGraph) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ExecutorLookup answers whether a node type has a registered executor and
// pre-validates node configs. Satisfied by executors.Registry.
type ExecutorLookup interface {
	Has(nodeType string) bool
	ValidateConfig(nodeType string, config map[string]any) error
}
