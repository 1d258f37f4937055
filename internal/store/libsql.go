package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Executions ---

// SaveExecution upserts the execution row and replaces its node runs in one
// transaction. The engine calls this once per run, at settlement; resaving
// after a crash-recovery resubmission overwrites the stale row.
func (s *LibSQLStore) SaveExecution(ctx context.Context, record *schema.ExecutionRecord) error {
	outputs, err := mapJSONOrNil(record.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, correlation_id, status, started_at, ended_at, outputs, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, ended_at=excluded.ended_at, outputs=excluded.outputs,
		   error=excluded.error, updated_at=CURRENT_TIMESTAMP`,
		record.ID, record.WorkflowID, nullStr(record.CorrelationID), string(record.Status),
		timeOrNow(record.StartedAt), nullTime(record.EndedAt), outputs, nullStr(record.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM node_runs WHERE execution_id = ?`, record.ID); err != nil {
		return fmt.Errorf("clear node runs: %w", err)
	}
	for _, nr := range record.NodeExecutions {
		output, err := anyJSONOrNil(nr.Output)
		if err != nil {
			return fmt.Errorf("marshal node %s output: %w", nr.NodeID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO node_runs (execution_id, node_id, status, attempts, started_at, ended_at, output, error, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID, nr.NodeID, string(nr.Status), nr.Attempts,
			nullTime(nr.StartedAt), nullTime(nr.EndedAt), output, nullStr(nr.Error), nullStr(nr.Reason),
		)
		if err != nil {
			return fmt.Errorf("insert node run %s: %w", nr.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execution: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error) {
	record := &schema.ExecutionRecord{}
	var (
		correlationID, outputsJSON, errMsg sql.NullString
		endedAt                            sql.NullTime
		status                             string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, correlation_id, status, started_at, ended_at, outputs, error
		 FROM executions WHERE id = ?`, executionID,
	).Scan(&record.ID, &record.WorkflowID, &correlationID, &status, &record.StartedAt, &endedAt, &outputsJSON, &errMsg)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", executionID)
	}
	if err != nil {
		return nil, err
	}
	record.CorrelationID = correlationID.String
	record.Status = schema.ExecutionStatus(status)
	record.ErrorMessage = errMsg.String
	record.Outputs = mapOrNil(outputsJSON)
	if endedAt.Valid {
		record.EndedAt = &endedAt.Time
	}

	record.NodeExecutions = make(map[string]*schema.NodeExecutionRecord)
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, status, attempts, started_at, ended_at, output, error, reason
		 FROM node_runs WHERE execution_id = ?`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		nr := &schema.NodeExecutionRecord{}
		var (
			nodeStatus         string
			startedAt, nodeEnd sql.NullTime
			output, nodeErr    sql.NullString
			reason             sql.NullString
		)
		if err := rows.Scan(&nr.NodeID, &nodeStatus, &nr.Attempts, &startedAt, &nodeEnd, &output, &nodeErr, &reason); err != nil {
			return nil, err
		}
		nr.Status = schema.NodeStatus(nodeStatus)
		nr.Error = nodeErr.String
		nr.Reason = reason.String
		nr.Output = anyOrNil(output)
		if startedAt.Valid {
			nr.StartedAt = &startedAt.Time
		}
		if nodeEnd.Valid {
			nr.EndedAt = &nodeEnd.Time
		}
		record.NodeExecutions[nr.NodeID] = nr
	}
	return record, rows.Err()
}

// ListExecutions returns execution rows matching the filter, newest first.
// Node runs are not loaded; use GetExecution for the full record.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, correlation_id, status, started_at, ended_at, outputs, error FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*schema.ExecutionRecord
	for rows.Next() {
		record := &schema.ExecutionRecord{}
		var (
			correlationID, outputsJSON, errMsg sql.NullString
			endedAt                            sql.NullTime
			status                             string
		)
		if err := rows.Scan(&record.ID, &record.WorkflowID, &correlationID, &status,
			&record.StartedAt, &endedAt, &outputsJSON, &errMsg); err != nil {
			return nil, err
		}
		record.CorrelationID = correlationID.String
		record.Status = schema.ExecutionStatus(status)
		record.ErrorMessage = errMsg.String
		record.Outputs = mapOrNil(outputsJSON)
		if endedAt.Valid {
			record.EndedAt = &endedAt.Time
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteExecution removes the execution, its node runs, and its events.
func (s *LibSQLStore) DeleteExecution(ctx context.Context, executionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, executionID)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "execution", executionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return tx.Commit()
}

// --- Events ---

// AppendEvent inserts one event with the next per-execution sequence. The
// EventLog wrapper adds write-lock hardening for concurrent appenders; this
// path is sufficient alone because the store holds a single connection.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *schema.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Seq = seq

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *schema.Event) error {
	payload, err := mapJSONOrNil(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, execution_id, workflow_id, node_id, event_type, origin, status, error, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullStr(event.ID), event.ExecutionID, nullStr(event.WorkflowID), nullStr(event.NodeID),
		event.Type, nullStr(event.Origin), nullStr(event.Status), nullStr(event.Error),
		payload, event.Timestamp, event.Seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by
// sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*schema.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, execution_id, workflow_id, node_id, event_type, origin, status, error, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByType returns events of a specific type matching the filter,
// newest first.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT event_id, execution_id, workflow_id, node_id, event_type, origin, status, error, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*schema.Event, error) {
	var events []*schema.Event
	for rows.Next() {
		e := &schema.Event{}
		var eventID, workflowID, nodeID, origin, status, errMsg, payload sql.NullString
		if err := rows.Scan(&eventID, &e.ExecutionID, &workflowID, &nodeID, &e.Type,
			&origin, &status, &errMsg, &payload, &e.Timestamp, &e.Seq); err != nil {
			return nil, err
		}
		e.ID = eventID.String
		e.WorkflowID = workflowID.String
		e.NodeID = nodeID.String
		e.Origin = origin.String
		e.Status = status.String
		e.Error = errMsg.String
		e.Payload = mapOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Workflows ---

// SaveWorkflow upserts a registered workflow by id. Version management is the
// caller's concern; the store writes what it is given.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	graph, err := json.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, version, graph, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, description=excluded.description, version=excluded.version,
		   graph=excluded.graph, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.Description), wf.Version, string(graph),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		description sql.NullString
		graphJSON   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, version, graph, created_at, updated_at
		 FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &description, &wf.Version, &graphJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.Description = description.String
	if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT id, name, description, version, graph, created_at, updated_at FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, version DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf := &schema.Workflow{}
		var (
			description sql.NullString
			graphJSON   string
		)
		if err := rows.Scan(&wf.ID, &wf.Name, &description, &wf.Version, &graphJSON,
			&wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Description = description.String
		if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *schema.Schedule) error {
	input, err := mapJSONOrNil(sched.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, workflow_id, cron_expr, input, enabled, created_at, last_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.WorkflowID, sched.CronExpr, input, sched.Enabled,
		timeOrNow(sched.CreatedAt), nullTime(sched.LastRunAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*schema.Schedule, error) {
	sched := &schema.Schedule{}
	var (
		inputJSON sql.NullString
		lastRunAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, cron_expr, input, enabled, created_at, last_run_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.WorkflowID, &sched.CronExpr, &inputJSON, &sched.Enabled, &sched.CreatedAt, &lastRunAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	sched.Input = mapOrNil(inputJSON)
	if lastRunAt.Valid {
		sched.LastRunAt = &lastRunAt.Time
	}
	return sched, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any

	if update.CronExpr != nil {
		sets = append(sets, "cron_expr = ?")
		args = append(args, *update.CronExpr)
	}
	if update.Input != nil {
		input, err := mapJSONOrNil(update.Input)
		if err != nil {
			return fmt.Errorf("marshal input: %w", err)
		}
		sets = append(sets, "input = ?")
		args = append(args, input)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*schema.Schedule, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	query := `SELECT id, workflow_id, cron_expr, input, enabled, created_at, last_run_at FROM schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*schema.Schedule
	for rows.Next() {
		sched := &schema.Schedule{}
		var (
			inputJSON sql.NullString
			lastRunAt sql.NullTime
		)
		if err := rows.Scan(&sched.ID, &sched.WorkflowID, &sched.CronExpr, &inputJSON,
			&sched.Enabled, &sched.CreatedAt, &lastRunAt); err != nil {
			return nil, err
		}
		sched.Input = mapOrNil(inputJSON)
		if lastRunAt.Valid {
			sched.LastRunAt = &lastRunAt.Time
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mapJSONOrNil marshals a map for a nullable TEXT column; empty maps store NULL.
func mapJSONOrNil(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// anyJSONOrNil marshals an arbitrary value; nil stores NULL.
func anyJSONOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func mapOrNil(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(ns.String), &m)
	return m
}

func anyOrNil(ns sql.NullString) any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var v any
	_ = json.Unmarshal([]byte(ns.String), &v)
	return v
}
