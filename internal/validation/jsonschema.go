package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/helmsmith/conveyor/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// graphSchemaJSON is the JSON Schema for WorkflowGraph validation.
// Embedded as a constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://conveyor.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "settings": { "$ref": "#/$defs/settings" },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "minLength": 1
        },
        "config": {
          "type": "object"
        },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout_ms": {
          "type": "integer",
          "minimum": 1
        }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "condition": {
          "type": "string"
        }
      },
      "additionalProperties": false
    },
    "settings": {
      "type": "object",
      "properties": {
        "timeout_ms": {
          "type": "integer",
          "minimum": 1
        },
        "error_handling": {
          "type": "string",
          "enum": ["stop", "continue", "rollback"]
        },
        "max_attempts": {
          "type": "integer",
          "minimum": 1
        },
        "base_delay_ms": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max_attempts"],
      "properties": {
        "max_attempts": {
          "type": "integer",
          "minimum": 1
        },
        "base_delay_ms": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    }
  }
}`

// GraphSchemaValidator validates graphs and inputs using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type GraphSchemaValidator struct {
	graphSchema *jsonschema.Schema

	// mu guards the cache for dynamic input schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewGraphSchemaValidator creates a new GraphSchemaValidator with the graph schema pre-compiled.
func NewGraphSchemaValidator() (*GraphSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://conveyor.dev/schemas/graph.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}

	gSchema, err := c.Compile("https://conveyor.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &GraphSchemaValidator{
		graphSchema: gSchema,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateGraph validates a WorkflowGraph against the graph JSON Schema.
func (v *GraphSchemaValidator) ValidateGraph(graph *schema.WorkflowGraph) error {
	if graph == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}

	doc, err := toJSONValue(graph)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow graph").WithCause(err)
	}

	if err := v.graphSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}

	// Structural checks that JSON Schema cannot express: duplicate node IDs.
	seen := make(map[string]struct{}, len(graph.Nodes))
	for _, node := range graph.Nodes {
		if _, exists := seen[node.ID]; exists {
			return schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", node.ID))
		}
		seen[node.ID] = struct{}{}
	}

	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *GraphSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *GraphSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("conveyor://input-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// with clear, actionable messages.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
