package expressions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsmith/conveyor/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

// --- Basic evaluation ---

func TestGoJQ_Identity(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"name": "conveyor"}

	out, err := e.Evaluate(context.Background(), ".", data)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "conveyor", m["name"])
}

func TestGoJQ_SelectField(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"name": "conveyor", "version": "1.0"}

	out, err := e.Evaluate(context.Background(), ".name", data)
	require.NoError(t, err)
	assert.Equal(t, "conveyor", out)
}

func TestGoJQ_NestedField(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"input": map[string]any{
			"a": map[string]any{"v": 1.0},
		},
	}

	out, err := e.Evaluate(context.Background(), ".input.a.v", data)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)
}

func TestGoJQ_MissingFieldIsNull(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"name": "conveyor"}

	out, err := e.Evaluate(context.Background(), ".missing", data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

// --- Aggregation ---

func TestGoJQ_SumPredecessorOutputs(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"a": map[string]any{"v": 1},
		"b": map[string]any{"v": 2},
	}

	out, err := e.Evaluate(context.Background(), `{v: (.a.v + .b.v)}`, data)
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, m["v"])
}

func TestGoJQ_ArraySelect(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"items": []any{
			map[string]any{"name": "a", "active": true},
			map[string]any{"name": "b", "active": false},
			map[string]any{"name": "c", "active": true},
		},
	}

	out, err := e.Evaluate(context.Background(), `[.items[] | select(.active)]`, data)
	require.NoError(t, err)

	arr, ok := out.([]any)
	require.True(t, ok)
	assert.Len(t, arr, 2)
}

func TestGoJQ_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"items": []any{1.0, 2.0, 3.0},
	}

	out, err := e.Evaluate(context.Background(), `.items[]`, data)
	require.NoError(t, err)

	arr, ok := out.([]any)
	require.True(t, ok)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, arr)
}

// --- Number normalization ---

func TestGoJQ_IntInputsNormalized(t *testing.T) {
	e := NewGoJQEngine()
	// Executors produce Go ints; jq arithmetic must still work.
	data := map[string]any{"count": 3}

	out, err := e.Evaluate(context.Background(), `.count + 1`, data)
	require.NoError(t, err)
	assert.EqualValues(t, 4, out)
}

// --- Sandbox ---

func TestGoJQ_EnvironmentBlocked(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `env | length`, map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)
}

// --- Errors ---

func TestGoJQ_EmptyExpression(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.[unclosed`, map[string]any{})
	require.Error(t, err)
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.name | keys`, map[string]any{"name": "str"})
	require.Error(t, err)
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, schema.ErrCodeExecution, engErr.Code)
}

// --- Caching ---

func TestGoJQ_CachesCompiledCode(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, ".a", map[string]any{"a": 1.0})
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, ".a", map[string]any{"a": 2.0})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestGoJQ_ConcurrentEvaluation(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(ctx, `.n * 2`, map[string]any{"n": 21.0})
			assert.NoError(t, err)
			assert.EqualValues(t, 42, out)
		}()
	}
	wg.Wait()
}
