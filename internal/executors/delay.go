package executors

import (
	"context"
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// DelayExecutor implements the "delay" node type: a cancellable pause.
// Duration comes from "duration" (Go duration string) or "duration_ms".
type DelayExecutor struct{}

// NewDelayExecutor creates the delay executor.
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

func (e *DelayExecutor) Type() string { return "delay" }

func delayDuration(config map[string]any) (time.Duration, error) {
	if ds := stringParam(config, "duration", ""); ds != "" {
		d, err := time.ParseDuration(ds)
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "delay: invalid duration %q", ds).WithCause(err)
		}
		if d < 0 {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "delay: negative duration %q", ds)
		}
		return d, nil
	}
	if ms := intParam(config, "duration_ms", -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, schema.NewError(schema.ErrCodeValidation, "delay: requires 'duration' or 'duration_ms'")
}

func (e *DelayExecutor) Validate(config map[string]any) error {
	_, err := delayDuration(config)
	return err
}

func (e *DelayExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	d, err := delayDuration(inv.Config)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &Result{Output: map[string]any{"delayed_ms": d.Milliseconds()}}, nil
}
