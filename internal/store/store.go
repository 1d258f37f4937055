package store

import (
	"context"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions. SaveExecution persists the record and its node runs as one
	// unit; ListExecutions returns rows without node runs (GetExecution loads
	// the full record).
	SaveExecution(ctx context.Context, record *schema.ExecutionRecord) error
	GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error)
	DeleteExecution(ctx context.Context, executionID string) error

	// Event log (append-only). AppendEvent assigns the per-execution sequence.
	AppendEvent(ctx context.Context, event *schema.Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*schema.Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.Event, error)

	// Registered workflows (graph templates referenced by schedules, queue
	// jobs, and subflow nodes).
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Schedules
	CreateSchedule(ctx context.Context, sched *schema.Schedule) error
	GetSchedule(ctx context.Context, id string) (*schema.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*schema.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Secrets. Values are opaque bytes; encryption is the vault's concern.
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
