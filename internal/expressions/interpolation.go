package expressions

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/helmsmith/conveyor/internal/secrets"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// Interpolator resolves ${{...}} references in node configs.
// Two-pass: first resolves non-secret variables, second resolves secrets.
//
// A string that consists of exactly one reference resolves to the referenced
// value with its type preserved, so "${{nodes.fetch.output}}" can inject a
// whole object. A reference embedded in a larger string is stringified.
type Interpolator struct {
	vault secrets.Vault
}

// NewInterpolator creates a new Interpolator with an optional Vault for
// secret resolution.
func NewInterpolator(vault secrets.Vault) *Interpolator {
	return &Interpolator{vault: vault}
}

// Resolve performs two-pass interpolation on a node config.
// Pass 1: resolves nodes.*, trigger.*, and run.* references.
// Pass 2: resolves secrets.* references via the Vault.
// The input config is not mutated; a resolved copy is returned.
func (interp *Interpolator) Resolve(ctx context.Context, config map[string]any, scope *Scope) (map[string]any, error) {
	if len(config) == 0 {
		return config, nil
	}

	resolved, err := interp.resolveValue(ctx, config, scope, false)
	if err != nil {
		return nil, err
	}

	resolved, err = interp.resolveValue(ctx, resolved, scope, true)
	if err != nil {
		return nil, err
	}

	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "config resolved to a non-object value")
	}
	return out, nil
}

// resolveValue walks the config structure, resolving references in strings.
func (interp *Interpolator) resolveValue(ctx context.Context, v any, scope *Scope, secretPass bool) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := interp.resolveValue(ctx, item, scope, secretPass)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := interp.resolveValue(ctx, item, scope, secretPass)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return interp.resolveString(ctx, val, scope, secretPass)
	default:
		return v, nil
	}
}

// resolveString scans for ${{...}} tokens in a string and resolves them.
// If secretPass is false, it resolves everything except secrets.* and leaves
// secret tokens untouched. If secretPass is true, only secrets.* are resolved.
func (interp *Interpolator) resolveString(ctx context.Context, input string, scope *Scope, secretPass bool) (any, error) {
	first := strings.Index(input, "${{")
	if first == -1 {
		return input, nil
	}

	// Whole-token reference: preserve the resolved value's type.
	if whole, expr := wholeToken(input); whole {
		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}
		if isSecretRef(expr) != secretPass {
			return input, nil
		}
		return interp.resolveExpr(ctx, expr, scope)
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{".

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])

		if strings.Contains(expr, "${{") {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if expr == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		if isSecretRef(expr) != secretPass {
			// Not this pass's token; write it back unchanged.
			result.WriteString(input[i+idx : end+2])
			i = end + 2
			continue
		}

		val, err := interp.resolveExpr(ctx, expr, scope)
		if err != nil {
			return nil, err
		}

		result.WriteString(stringifyValue(val))
		i = end + 2 // skip "}}".
	}

	return result.String(), nil
}

// wholeToken reports whether the string is exactly one ${{...}} reference,
// returning the trimmed inner expression when it is.
func wholeToken(s string) (bool, string) {
	if !strings.HasPrefix(s, "${{") || !strings.HasSuffix(s, "}}") {
		return false, ""
	}
	inner := s[3 : len(s)-2]
	// A second token means this is string concatenation, not a whole reference.
	if strings.Contains(inner, "}}") {
		return false, ""
	}
	return true, strings.TrimSpace(inner)
}

func isSecretRef(expr string) bool {
	return strings.HasPrefix(expr, "secrets.")
}

// resolveExpr resolves a single expression path like "nodes.fetch.output.url".
func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "nodes":
		return interp.resolveNodes(expr, scope)
	case "trigger":
		return interp.resolveTrigger(expr, scope)
	case "run":
		return interp.resolveRun(expr, scope)
	case "secrets":
		return interp.resolveSecret(ctx, expr)
	default:
		available := []string{"nodes", "trigger", "run", "secrets"}
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, expr, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": expr, "available_namespaces": available})
	}
}

// resolveNodes resolves nodes.<id>.output[.<field>...] references.
func (interp *Interpolator) resolveNodes(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 4) // [nodes, id, output, rest...]
	if len(parts) < 3 {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid node reference %q: expected nodes.<id>.output[.<field>]", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	nodeID := parts[1]
	if parts[2] != "output" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid node reference %q: only 'output' property is supported (got %q)", expr, parts[2]).
			WithDetails(map[string]any{"expression": expr})
	}

	if scope.Nodes == nil {
		return nil, interp.missingNodeErr(expr, nodeID, scope)
	}

	output, ok := scope.Nodes[nodeID]
	if !ok {
		return nil, interp.missingNodeErr(expr, nodeID, scope)
	}

	// nodes.<id>.output returns the whole output.
	if len(parts) == 3 {
		return output, nil
	}

	return interp.traversePath(output, parts[3], expr)
}

// resolveTrigger resolves trigger.<field>[.<subfield>...] references.
func (interp *Interpolator) resolveTrigger(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid trigger reference %q: expected trigger.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	return interp.resolveFromMap(scope.Trigger, parts[1], expr, "trigger")
}

// resolveRun resolves run.<field> references.
func (interp *Interpolator) resolveRun(expr string, scope *Scope) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid run reference %q: expected run.<field>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	return interp.resolveFromMap(scope.Run, parts[1], expr, "run")
}

// resolveSecret resolves secrets.<key> via the Vault.
func (interp *Interpolator) resolveSecret(ctx context.Context, expr string) (any, error) {
	parts := strings.SplitN(expr, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"invalid secret reference %q: expected secrets.<KEY>", expr).
			WithDetails(map[string]any{"expression": expr})
	}

	key := parts[1]

	if interp.vault == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve secret %q: no vault configured", key).
			WithDetails(map[string]any{"expression": expr})
	}

	val, err := interp.vault.Resolve(ctx, key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"failed to resolve secret %q: %s", key, err.Error()).
			WithDetails(map[string]any{"expression": expr}).WithCause(err)
	}

	return string(val), nil
}

// resolveFromMap resolves a dot-delimited field path from a map.
func (interp *Interpolator) resolveFromMap(data map[string]any, fieldPath, expr, namespace string) (any, error) {
	if data == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", expr, namespace).
			WithDetails(map[string]any{"expression": expr})
	}

	// Direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	return interp.traversePath(data, fieldPath, expr)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, expr string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"empty segment in path %q at position %d", expr, i).
				WithDetails(map[string]any{"expression": expr})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, expr, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": expr, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, expr, current).
				WithDetails(map[string]any{"expression": expr})
		}
	}

	return current, nil
}

// missingNodeErr builds an error for missing node references with completed nodes listed.
func (interp *Interpolator) missingNodeErr(expr, id string, scope *Scope) *schema.EngineError {
	available := mapKeys(scope.Nodes)
	return schema.NewErrorf(schema.ErrCodeInterpolation,
		"node %q not found in ${{%s}}; completed nodes: [%s]", id, expr, strings.Join(available, ", ")).
		WithDetails(map[string]any{"expression": expr, "completed_nodes": available})
}

// stringifyValue converts a resolved value into its string form for embedding
// inside a larger string. Strings embed as-is; complex types JSON-encode.
func stringifyValue(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Simple insertion sort for small slices.
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation checks if a value contains any ${{...}} references.
func HasInterpolation(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, "${{")
	case map[string]any:
		for _, item := range val {
			if HasInterpolation(item) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range val {
			if HasInterpolation(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// DetectCircularRefs checks for circular references between node configs.
// A circular reference occurs when node A's config references node B's output
// and node B's config references node A's output. Such configs can never
// resolve, so they are rejected at validation time.
func DetectCircularRefs(nodes []schema.NodeSpec) error {
	refs := make(map[string]map[string]bool) // node ID -> set of referenced node IDs

	for _, node := range nodes {
		extracted := make(map[string]bool)
		collectNodeRefs(node.Config, extracted)
		if len(extracted) > 0 {
			refs[node.ID] = extracted
		}
	}

	// Detect cycles using DFS.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(refs))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for dep := range refs[id] {
			switch color[dep] {
			case gray:
				return schema.NewErrorf(schema.ErrCodeInterpolation,
					"circular variable reference detected: %s -> %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range refs {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}

// collectNodeRefs walks a config value accumulating node IDs referenced
// via ${{nodes.<id>...}} tokens in strings.
func collectNodeRefs(v any, refs map[string]bool) {
	switch val := v.(type) {
	case string:
		for id := range extractNodeRefs(val) {
			refs[id] = true
		}
	case map[string]any:
		for _, item := range val {
			collectNodeRefs(item, refs)
		}
	case []any:
		for _, item := range val {
			collectNodeRefs(item, refs)
		}
	}
}

// extractNodeRefs finds all node IDs referenced via ${{nodes.<id>...}} in a string.
func extractNodeRefs(s string) map[string]bool {
	refs := make(map[string]bool)
	for {
		idx := strings.Index(s, "${{nodes.")
		if idx == -1 {
			break
		}
		rest := s[idx+len("${{nodes."):]
		dotIdx := strings.IndexByte(rest, '.')
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			break
		}
		var nodeID string
		if dotIdx != -1 && dotIdx < closeIdx {
			nodeID = rest[:dotIdx]
		} else {
			nodeID = rest[:closeIdx]
		}
		nodeID = strings.TrimSpace(nodeID)
		if nodeID != "" {
			refs[nodeID] = true
		}
		s = rest[closeIdx+2:]
	}
	return refs
}
