package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/helmsmith/conveyor/internal/diagram"
	"github.com/helmsmith/conveyor/internal/logging"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// RecordStore persists terminal execution records and serves them back for
// inspection. Satisfied by the libSQL store; nil disables persistence.
type RecordStore interface {
	SaveExecution(ctx context.Context, record *schema.ExecutionRecord) error
	GetExecution(ctx context.Context, executionID string) (*schema.ExecutionRecord, error)
}

// Admission is the front door's acknowledgment of an async submission.
type Admission struct {
	ExecutionID string    `json:"execution_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// FrontDoorConfig bounds the engine's intake.
type FrontDoorConfig struct {
	// MaxConcurrentExecutions caps simultaneously running executions.
	// Submissions beyond the cap are rejected with CAPACITY_EXCEEDED.
	MaxConcurrentExecutions int
}

type inFlightExecution struct {
	cancel context.CancelFunc
	done   atomic.Bool
}

// FrontDoor is the engine's single intake: it admits execution requests
// against the concurrency cap, runs them on the worker pool, exposes
// cancellation, and finalizes terminal records into the store.
type FrontDoor struct {
	orchestrator *Orchestrator
	store        RecordStore
	pool         *WorkerPool
	logger       *slog.Logger

	max      int
	mu       sync.Mutex
	closed   bool
	admitted map[string]*inFlightExecution
}

// NewFrontDoor wires a front door over an orchestrator. store may be nil.
func NewFrontDoor(orchestrator *Orchestrator, store RecordStore, cfg FrontDoorConfig, logger *slog.Logger) *FrontDoor {
	max := cfg.MaxConcurrentExecutions
	if max <= 0 {
		max = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrontDoor{
		orchestrator: orchestrator,
		store:        store,
		pool:         NewWorkerPool(max),
		logger:       logger,
		max:          max,
		admitted:     make(map[string]*inFlightExecution),
	}
}

// Submit admits a request and runs it asynchronously on the worker pool.
// The execution id (assigned when the request carries none) comes back in
// the Admission; results land in the store and on the event sink.
func (f *FrontDoor) Submit(ctx context.Context, req *schema.ExecutionRequest) (*Admission, error) {
	admittedReq, handle, err := f.admit(req)
	if err != nil {
		return nil, err
	}

	// The execution outlives the submitter's context; keep its values for
	// log correlation but detach its cancellation.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle.cancel = cancel

	submitErr := f.pool.Submit(runCtx, func(runCtx context.Context) error {
		defer cancel()
		record := f.orchestrator.Run(runCtx, admittedReq)
		f.finalize(runCtx, admittedReq, handle, record)
		return nil
	})
	if submitErr != nil {
		cancel()
		f.evict(admittedReq.ExecutionID)
		return nil, schema.NewErrorf(schema.ErrCodeCapacity, "submit execution: %s", submitErr.Error()).WithCause(submitErr)
	}

	return &Admission{ExecutionID: admittedReq.ExecutionID, SubmittedAt: time.Now().UTC()}, nil
}

// Execute admits a request and runs it on the caller's goroutine, returning
// the terminal record. The synchronous path serves tests, subflows, and the
// scheduler; it counts against the same concurrency cap as Submit.
func (f *FrontDoor) Execute(ctx context.Context, req *schema.ExecutionRequest) (*schema.ExecutionRecord, error) {
	admittedReq, handle, err := f.admit(req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle.cancel = cancel
	defer cancel()

	record := f.orchestrator.Run(runCtx, admittedReq)
	f.finalize(runCtx, admittedReq, handle, record)
	return record, nil
}

// admit reserves a concurrency slot and registers the cancellation handle.
func (f *FrontDoor) admit(req *schema.ExecutionRequest) (*schema.ExecutionRequest, *inFlightExecution, error) {
	if req == nil || req.Graph == nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "execution request has no graph")
	}

	reqCopy := *req
	if reqCopy.ExecutionID == "" {
		reqCopy.ExecutionID = uuid.NewString()
	}
	if reqCopy.CorrelationID == "" {
		reqCopy.CorrelationID = uuid.NewString()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nil, schema.NewError(schema.ErrCodeCapacity, "engine is shut down, not accepting executions")
	}
	if _, exists := f.admitted[reqCopy.ExecutionID]; exists {
		return nil, nil, schema.NewErrorf(schema.ErrCodeConflict, "execution %q is already in flight", reqCopy.ExecutionID)
	}
	if len(f.admitted) >= f.max {
		return nil, nil, schema.NewErrorf(schema.ErrCodeCapacity,
			"max concurrent executions reached (%d)", f.max).
			WithDetails(map[string]any{"max_concurrent_executions": f.max, "in_flight": len(f.admitted)})
	}

	handle := &inFlightExecution{}
	f.admitted[reqCopy.ExecutionID] = handle
	return &reqCopy, handle, nil
}

// finalize persists the terminal record and releases the admission slot.
// The in-memory record is discarded once handed over.
func (f *FrontDoor) finalize(ctx context.Context, req *schema.ExecutionRequest, handle *inFlightExecution, record *schema.ExecutionRecord) {
	handle.done.Store(true)
	// The record must land even when the run context was cancelled.
	ctx = context.WithoutCancel(ctx)
	if f.store != nil {
		if err := f.store.SaveExecution(ctx, record); err != nil {
			logging.LogWith(ctx, f.logger).ErrorContext(ctx, "persist execution record",
				slog.String("execution_id", req.ExecutionID),
				slog.String("error", err.Error()))
		}
	}
	f.evict(req.ExecutionID)
}

func (f *FrontDoor) evict(executionID string) {
	f.mu.Lock()
	delete(f.admitted, executionID)
	f.mu.Unlock()
}

// Cancel signals the owning orchestrator's cancellation token. It returns
// false when the execution is unknown or already terminal.
func (f *FrontDoor) Cancel(executionID string) bool {
	f.mu.Lock()
	handle, ok := f.admitted[executionID]
	f.mu.Unlock()

	if !ok || handle.done.Load() || handle.cancel == nil {
		return false
	}
	handle.cancel()
	return true
}

// InFlight returns the number of admitted, non-terminal executions.
func (f *FrontDoor) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admitted)
}

// Metrics returns the worker pool counters.
func (f *FrontDoor) Metrics() PoolMetrics {
	return f.pool.Metrics()
}

// Shutdown stops intake and drains running executions, bounded by ctx.
func (f *FrontDoor) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		f.pool.Shutdown()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Diagram renders the graph in the given format. A non-empty executionID
// overlays per-node statuses from the stored record.
func (f *FrontDoor) Diagram(ctx context.Context, graph *schema.WorkflowGraph, executionID string, format diagram.Format) ([]byte, error) {
	if graph == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram requires a graph")
	}
	var record *schema.ExecutionRecord
	if executionID != "" {
		if f.store == nil {
			return nil, schema.NewError(schema.ErrCodeNotFound, "no store configured, cannot look up execution")
		}
		rec, err := f.store.GetExecution(ctx, executionID)
		if err != nil {
			return nil, err
		}
		record = rec
	}
	return diagram.Render(graph, record, format)
}
