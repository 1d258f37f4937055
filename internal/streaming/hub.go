package streaming

import (
	"context"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// Filter specifies which events a subscriber wants to receive. Zero fields
// match everything.
type Filter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	WorkflowID  string   `json:"workflow_id,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// Hub provides pub/sub fan-out of engine events. Events are immutable once
// published; subscribers must not mutate what they receive.
type Hub interface {
	Publish(ctx context.Context, event *schema.Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan *schema.Event, func(), error)
}
