package executors

import (
	"context"
	"testing"
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_DurationString(t *testing.T) {
	ex := NewDelayExecutor()
	start := time.Now()
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"duration": "20ms"},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(20), out["delayed_ms"])
}

func TestDelay_DurationMs(t *testing.T) {
	ex := NewDelayExecutor()
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"duration_ms": 10},
	})
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Equal(t, int64(10), out["delayed_ms"])
}

func TestDelay_ZeroDuration(t *testing.T) {
	ex := NewDelayExecutor()
	res, err := ex.Execute(context.Background(), Invocation{
		Config: map[string]any{"duration_ms": 0},
	})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestDelay_Cancellation(t *testing.T) {
	ex := NewDelayExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := ex.Execute(ctx, Invocation{
		Config: map[string]any{"duration": "10s"},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDelay_Validate(t *testing.T) {
	ex := NewDelayExecutor()

	assert.NoError(t, ex.Validate(map[string]any{"duration": "1s"}))
	assert.NoError(t, ex.Validate(map[string]any{"duration_ms": 250}))

	err := ex.Validate(map[string]any{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, engineErrCode(t, err))

	err = ex.Validate(map[string]any{"duration": "not-a-duration"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, engineErrCode(t, err))

	err = ex.Validate(map[string]any{"duration": "-5s"})
	require.Error(t, err)
}
