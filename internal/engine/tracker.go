package engine

import (
	"sync"
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// StateTracker owns one ExecutionRecord and guards every status change with
// the transition tables. All mutation happens on the orchestrator's control
// path; the lock exists so Progress and Snapshot can be read concurrently by
// the front door while a run is in flight.
type StateTracker struct {
	mu     sync.RWMutex
	record *schema.ExecutionRecord
}

// NewStateTracker builds a tracker for a pending execution with one pending
// NodeExecutionRecord per planned node.
func NewStateTracker(executionID, workflowID, correlationID string, nodeIDs []string) *StateTracker {
	record := &schema.ExecutionRecord{
		ID:             executionID,
		WorkflowID:     workflowID,
		CorrelationID:  correlationID,
		Status:         schema.ExecutionStatusPending,
		StartedAt:      time.Now().UTC(),
		NodeExecutions: make(map[string]*schema.NodeExecutionRecord, len(nodeIDs)),
		Outputs:        make(map[string]any),
	}
	for _, id := range nodeIDs {
		record.NodeExecutions[id] = &schema.NodeExecutionRecord{
			NodeID: id,
			Status: schema.NodeStatusPending,
		}
	}
	return &StateTracker{record: record}
}

// Begin transitions the execution from pending to running.
func (t *StateTracker) Begin() error {
	return t.transitionExecution(schema.ExecutionStatusRunning)
}

// Finish moves the execution into a terminal status. A non-nil err is
// recorded as the execution's error message.
func (t *StateTracker) Finish(status schema.ExecutionStatus, err error) error {
	if !status.IsTerminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "finish with non-terminal status %s", status)
	}
	if terr := t.transitionExecution(status); terr != nil {
		return terr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.record.EndedAt = &now
	if err != nil {
		t.record.ErrorMessage = err.Error()
	}
	return nil
}

func (t *StateTracker) transitionExecution(to schema.ExecutionStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.record.Status
	if !isValidExecutionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": t.record.ID, "from": string(from), "to": string(to)})
	}
	t.record.Status = to
	return nil
}

// MarkRunning transitions a node from pending to running.
func (t *StateTracker) MarkRunning(nodeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.nodeLocked(nodeID)
	if err != nil {
		return err
	}
	if err := t.transitionNodeLocked(rec, schema.NodeStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.StartedAt = &now
	return nil
}

// MarkCompleted transitions a node from running to completed and records its
// output for downstream consumption.
func (t *StateTracker) MarkCompleted(nodeID string, output any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.nodeLocked(nodeID)
	if err != nil {
		return err
	}
	if err := t.transitionNodeLocked(rec, schema.NodeStatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.Output = output
	t.record.Outputs[nodeID] = output
	return nil
}

// MarkFailed transitions a node from running to failed.
func (t *StateTracker) MarkFailed(nodeID string, nodeErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.nodeLocked(nodeID)
	if err != nil {
		return err
	}
	if err := t.transitionNodeLocked(rec, schema.NodeStatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.EndedAt = &now
	if nodeErr != nil {
		rec.Error = nodeErr.Error()
	}
	return nil
}

// MarkSkipped transitions a node from pending to skipped, recording why.
func (t *StateTracker) MarkSkipped(nodeID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.nodeLocked(nodeID)
	if err != nil {
		return err
	}
	if err := t.transitionNodeLocked(rec, schema.NodeStatusSkipped); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.Reason = reason
	return nil
}

// SetAttempts records how many attempts the retry controller consumed for a
// node. Called before the node settles into completed or failed.
func (t *StateTracker) SetAttempts(nodeID string, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.record.NodeExecutions[nodeID]; ok {
		rec.Attempts = attempts
	}
}

func (t *StateTracker) nodeLocked(nodeID string) (*schema.NodeExecutionRecord, error) {
	rec, ok := t.record.NodeExecutions[nodeID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "node %q is not part of this execution", nodeID).WithNode(nodeID)
	}
	return rec, nil
}

func (t *StateTracker) transitionNodeLocked(rec *schema.NodeExecutionRecord, to schema.NodeStatus) error {
	if !isValidNodeTransition(rec.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", rec.Status, to).
			WithNode(rec.NodeID).
			WithDetails(map[string]any{"execution_id": t.record.ID, "from": string(rec.Status), "to": string(to)})
	}
	rec.Status = to
	return nil
}

// Status returns the execution's current status.
func (t *StateTracker) Status() schema.ExecutionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.record.Status
}

// IsTerminal reports whether the execution has reached a final status.
func (t *StateTracker) IsTerminal() bool {
	return t.Status().IsTerminal()
}

// NodeStatus returns a node's current status.
func (t *StateTracker) NodeStatus(nodeID string) (schema.NodeStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.record.NodeExecutions[nodeID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// Output returns a node's recorded output. The second return is false when
// the node has not completed.
func (t *StateTracker) Output(nodeID string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out, ok := t.record.Outputs[nodeID]
	return out, ok
}

// Outputs returns a copy of the recorded output map.
func (t *StateTracker) Outputs() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]any, len(t.record.Outputs))
	for k, v := range t.record.Outputs {
		out[k] = v
	}
	return out
}

// CompletedNodes returns the ids of completed nodes in no particular order.
func (t *StateTracker) CompletedNodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, rec := range t.record.NodeExecutions {
		if rec.Status == schema.NodeStatusCompleted {
			out = append(out, id)
		}
	}
	return out
}

// Progress recomputes the run summary from the node records on every call.
func (t *StateTracker) Progress() schema.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := schema.Progress{Total: len(t.record.NodeExecutions)}
	for _, rec := range t.record.NodeExecutions {
		switch rec.Status {
		case schema.NodeStatusCompleted:
			p.Completed++
		case schema.NodeStatusFailed:
			p.Failed++
		case schema.NodeStatusSkipped:
			p.Skipped++
		case schema.NodeStatusRunning:
			p.Running++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Completed+p.Failed+p.Skipped) / float64(p.Total) * 100
	}
	return p
}

// Snapshot returns a copy of the execution record safe to hand outside the
// orchestrator. Node records are copied; outputs are shared references and
// must be treated as read-only.
func (t *StateTracker) Snapshot() *schema.ExecutionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	copyRec := *t.record
	copyRec.NodeExecutions = make(map[string]*schema.NodeExecutionRecord, len(t.record.NodeExecutions))
	for id, rec := range t.record.NodeExecutions {
		nodeCopy := *rec
		copyRec.NodeExecutions[id] = &nodeCopy
	}
	copyRec.Outputs = make(map[string]any, len(t.record.Outputs))
	for id, out := range t.record.Outputs {
		copyRec.Outputs[id] = out
	}
	return &copyRec
}
