package executors

import (
	"context"
	"testing"

	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *expressions.Router {
	t.Helper()
	router, err := expressions.NewRouter()
	require.NoError(t, err)
	return router
}

func TestEval_ExprDefault(t *testing.T) {
	ex := NewEvalExecutor(newTestRouter(t))
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"expression": "a + b"},
		Input:  map[string]any{"a": 2, "b": 3},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Output)
}

func TestEval_ExprArrayOps(t *testing.T) {
	ex := NewEvalExecutor(newTestRouter(t))
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"expression": `filter(items, .price > 10)`},
		Input: map[string]any{"items": []any{
			map[string]any{"name": "a", "price": 5},
			map[string]any{"name": "b", "price": 15},
			map[string]any{"name": "c", "price": 25},
		}},
	})
	require.NoError(t, err)

	filtered, ok := res.Output.([]any)
	require.True(t, ok)
	assert.Len(t, filtered, 2)
}

func TestEval_CELLanguage(t *testing.T) {
	ex := NewEvalExecutor(newTestRouter(t))
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{
			"language":   "cel",
			"expression": `input.count > 3`,
		},
		Input: map[string]any{"count": 7},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output)
}

func TestEval_InputReachableAsWholeMap(t *testing.T) {
	// The "input" variable mirrors the whole input map, so the same
	// expression shape works in both languages.
	ex := NewEvalExecutor(newTestRouter(t))
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"expression": "input.a * 2"},
		Input:  map[string]any{"a": 21},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.Output)
}

func TestEval_UnsupportedLanguage(t *testing.T) {
	ex := NewEvalExecutor(newTestRouter(t))
	_, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"language": "lua", "expression": "1 + 1"},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, engineErrCode(t, err))
}

func TestEval_EvaluationError(t *testing.T) {
	ex := NewEvalExecutor(newTestRouter(t))
	_, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"expression": `a.missing.deep`},
		Input:  map[string]any{"a": 1},
	})
	require.Error(t, err)
}

func TestEval_Validate(t *testing.T) {
	ex := NewEvalExecutor(newTestRouter(t))

	assert.NoError(t, ex.Validate(map[string]any{"expression": "x > 1"}))
	assert.NoError(t, ex.Validate(map[string]any{"language": "cel", "expression": "input.x > 1"}))

	err := ex.Validate(map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, engineErrCode(t, err))

	// Broken expressions are rejected at definition time.
	err = ex.Validate(map[string]any{"expression": "x >"})
	require.Error(t, err)

	err = ex.Validate(map[string]any{"language": "cel", "expression": "input..x"})
	require.Error(t, err)

	err = ex.Validate(map[string]any{"language": "lua", "expression": "x"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, engineErrCode(t, err))
}
