package executors

import (
	"context"

	"dario.cat/mergo"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// MergeExecutor implements the "merge" node type: it deep-merges selected
// input keys (predecessor outputs, trigger fields) into one object. Keys are
// merged in the configured order; with the "override" strategy later keys
// win on conflicts, with "deep" (default) the first value for a field is
// kept and nested objects are combined.
type MergeExecutor struct{}

// NewMergeExecutor creates the merge executor.
func NewMergeExecutor() *MergeExecutor {
	return &MergeExecutor{}
}

func (e *MergeExecutor) Type() string { return "merge" }

func (e *MergeExecutor) Validate(config map[string]any) error {
	if strategy := stringParam(config, "strategy", "deep"); strategy != "deep" && strategy != "override" {
		return schema.NewErrorf(schema.ErrCodeValidation, "merge: invalid strategy %q", strategy)
	}
	if raw, ok := config["keys"]; ok {
		if keys := stringSliceParam(config, "keys"); len(keys) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "merge: 'keys' must be a non-empty string list, got %T", raw)
		}
	}
	return nil
}

func (e *MergeExecutor) Execute(_ context.Context, inv Invocation) (*Result, error) {
	keys := stringSliceParam(inv.Config, "keys")
	if len(keys) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "merge: missing required param 'keys'")
	}
	override := stringParam(inv.Config, "strategy", "deep") == "override"

	merged := make(map[string]any)
	for _, key := range keys {
		raw, ok := inv.Input[key]
		if !ok {
			continue
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"merge: input %q is %T, only objects can be merged", key, raw)
		}
		opts := []func(*mergo.Config){}
		if override {
			opts = append(opts, mergo.WithOverride)
		}
		if err := mergo.Merge(&merged, m, opts...); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "merge: %s", err.Error()).WithCause(err)
		}
	}
	return &Result{Output: merged}, nil
}
