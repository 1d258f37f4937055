package main

import (
	"context"
	"log/slog"

	"github.com/helmsmith/conveyor/internal/store"
	"github.com/helmsmith/conveyor/internal/streaming"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// eventFanout stamps the process origin on engine events, appends them to
// the durable log, and publishes them to the streaming hub. The execution
// record, not the event stream, is the source of truth, so append failures
// are logged and swallowed rather than failing the run.
type eventFanout struct {
	origin string
	log    *store.EventLog
	hub    *streaming.MemoryHub
	logger *slog.Logger
}

func (f *eventFanout) Emit(ctx context.Context, event *schema.Event) {
	// Terminal events must land even when the run context was cancelled.
	ctx = context.WithoutCancel(ctx)

	if event.Origin == "" {
		event.Origin = f.origin
	}
	if err := f.log.AppendEvent(ctx, event); err != nil {
		f.logger.Error("append event",
			slog.String("event_type", event.Type),
			slog.String("execution_id", event.ExecutionID),
			slog.String("error", err.Error()))
	}
	f.hub.Emit(ctx, event)
}
