package store

import (
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// The store persists the wire types from pkg/schema directly; there is no
// separate row model. Executions are normalized across the executions and
// node_runs tables and reassembled on read.

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID    string                  `json:"workflow_id,omitempty"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	Status        *schema.ExecutionStatus `json:"status,omitempty"`
	Since         *time.Time              `json:"since,omitempty"`
	Limit         int                     `json:"limit,omitempty"`
	Offset        int                     `json:"offset,omitempty"`
}

// EventFilter specifies criteria for listing events of one type.
type EventFilter struct {
	ExecutionID string     `json:"execution_id,omitempty"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	NodeID      string     `json:"node_id,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// WorkflowFilter specifies criteria for listing registered workflows.
type WorkflowFilter struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule. Nil fields are left
// unchanged.
type ScheduleUpdate struct {
	CronExpr  *string        `json:"cron_expr,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Enabled   *bool          `json:"enabled,omitempty"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
}
