package validation

import (
	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// GraphValidator orchestrates the validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, edge refs, configs, conditions)
// 3. DAG (cycles, reachability)
// 4. Interpolation (circular config references)
type GraphValidator struct {
	jsonSchema *GraphSchemaValidator
	executors  ExecutorLookup
	router     *expressions.Router
}

// NewGraphValidator creates a GraphValidator.
// lookup may be nil to skip executor checks; router may be nil to skip
// condition compilation.
func NewGraphValidator(lookup ExecutorLookup, router *expressions.Router) (*GraphValidator, error) {
	jsv, err := NewGraphSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{
		jsonSchema: jsv,
		executors:  lookup,
		router:     router,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: later stages are skipped.
func (gv *GraphValidator) Validate(graph *schema.WorkflowGraph) *schema.ValidationResult {
	if graph == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow graph is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(gv.jsonSchema, graph)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(graph, gv.executors, gv.router))

	// Stage 3: DAG (skip if semantic errors: the graph may be malformed).
	if result.Valid() {
		result.Merge(validateDAG(graph))
	}

	// Stage 4: Circular interpolation references.
	if result.Valid() {
		if err := expressions.DetectCircularRefs(graph.Nodes); err != nil {
			msg := err.Error()
			if engErr, ok := schema.AsEngineError(err); ok {
				msg = engErr.Message
			}
			result.AddError("nodes", schema.ErrCodeInterpolation, msg)
		}
	}

	return result
}

// ValidateGraph satisfies the Validator interface.
func (gv *GraphValidator) ValidateGraph(graph *schema.WorkflowGraph) error {
	return gv.Validate(graph).ToError()
}

// ValidateInput delegates to the underlying GraphSchemaValidator.
func (gv *GraphValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return gv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural wraps GraphSchemaValidator.ValidateGraph, converting
// its error output into ValidationResult.
func validateStructural(v *GraphSchemaValidator, graph *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateGraph(graph)
	if err == nil {
		return result
	}

	engErr, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if engErr.Details != nil {
		if violations, ok := engErr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, engErr.Message)
	return result
}

var _ Validator = (*GraphValidator)(nil)
