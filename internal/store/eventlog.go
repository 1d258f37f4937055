package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// EventLog provides append and replay operations on top of a LibSQLStore.
// It is the engine-facing path: appends assign event ids and per-execution
// sequence numbers under a write lock.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. A write-intent statement forces the lock before the sequence is
// read, so concurrent appenders cannot interleave read and insert.
func (el *EventLog) AppendEvent(ctx context.Context, event *schema.Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; an immediate write
	// upgrades it to a write lock before the MAX(sequence) read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Seq = seq
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by
// sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, executionID string, since int64) ([]*schema.Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*schema.Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ReplayEvents replays an execution's event stream and returns the node runs
// it reconstructs. Outputs are not carried by events, so replayed records
// hold the status timeline only; the persisted execution record remains the
// source of truth. Returns an error on sequence gaps.
func (el *EventLog) ReplayEvents(ctx context.Context, executionID string) (map[string]*schema.NodeExecutionRecord, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	nodes := make(map[string]*schema.NodeExecutionRecord)
	if len(events) == 0 {
		return nodes, nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Seq != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Seq)
		}
	}

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		nr, ok := nodes[e.NodeID]
		if !ok {
			nr = &schema.NodeExecutionRecord{
				NodeID: e.NodeID,
				Status: schema.NodeStatusPending,
			}
			nodes[e.NodeID] = nr
		}

		switch e.Type {
		case schema.EventNodeStarted:
			nr.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			nr.StartedAt = &ts
			nr.Attempts = 1

		case schema.EventNodeRetrying:
			nr.Attempts++

		case schema.EventNodeCompleted:
			nr.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			nr.EndedAt = &ts

		case schema.EventNodeFailed:
			nr.Status = schema.NodeStatusFailed
			ts := e.Timestamp
			nr.EndedAt = &ts
			nr.Error = e.Error

		case schema.EventNodeSkipped:
			nr.Status = schema.NodeStatusSkipped

		case schema.EventNodeCompensated:
			// Compensation does not rewrite the node's terminal status; the
			// completed record stands.
		}
	}

	return nodes, nil
}
