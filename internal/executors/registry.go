package executors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// Registry is the thread-safe executor lookup. It is populated at startup
// and read-only afterwards, so concurrent Resolve calls from in-flight
// executions need no coordination beyond the lock.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]NodeExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]NodeExecutor),
	}
}

// Register adds an executor under its Type. Returns an error on duplicates.
func (r *Registry) Register(exec NodeExecutor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	nodeType := exec.Type()
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", nodeType)
	}

	r.executors[nodeType] = exec
	return nil
}

// Resolve retrieves an executor by node type. Unknown types fail before any
// retry or timeout machinery is engaged.
func (r *Registry) Resolve(nodeType string) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", nodeType)
	}
	return exec, nil
}

// RegisterProvider bulk-registers executors under a prefixed namespace. Each
// type becomes "prefix.originalType" (e.g. "aws.s3.put").
func (r *Registry) RegisterProvider(prefix string, execs []NodeExecutor) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "provider prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, exec := range execs {
		prefixed := fmt.Sprintf("%s.%s", prefix, exec.Type())
		if _, exists := r.executors[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "provider executor %q already registered", prefixed)
		}
		r.executors[prefixed] = &prefixedExecutor{inner: exec, nodeType: prefixed}
		registered++
	}
	return registered, nil
}

// Has checks whether a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// ValidateConfig runs the registered executor's config validation. Unknown
// types are reported as such so definition validation can surface them.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	exec, err := r.Resolve(nodeType)
	if err != nil {
		return err
	}
	return exec.Validate(config)
}

// Types returns all registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// prefixedExecutor wraps a provider executor with a namespaced type.
type prefixedExecutor struct {
	inner    NodeExecutor
	nodeType string
}

func (p *prefixedExecutor) Type() string { return p.nodeType }

func (p *prefixedExecutor) Validate(config map[string]any) error { return p.inner.Validate(config) }

func (p *prefixedExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	return p.inner.Execute(ctx, inv)
}

// Compensate delegates to the wrapped executor when it supports rollback.
func (p *prefixedExecutor) Compensate(ctx context.Context, inv Invocation, output any) error {
	if c, ok := p.inner.(Compensator); ok {
		return c.Compensate(ctx, inv, output)
	}
	return nil
}
