package schema

import "time"

// Workflow is a registered graph template. Executions reference a workflow
// by id; the graph stored here is the one submitted when a schedule or queue
// job names the workflow without carrying its own graph.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version"`
	Graph       *WorkflowGraph `json:"graph"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Schedule is a cron-driven trigger for a registered workflow. Input is the
// trigger payload submitted with each firing.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	CronExpr   string         `json:"cron_expr"`
	Input      map[string]any `json:"input,omitempty"`
	Enabled    bool           `json:"enabled"`
	CreatedAt  time.Time      `json:"created_at"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
}
