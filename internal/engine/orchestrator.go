package engine

import (
	"context"
	"log/slog"
	"time"

	"dario.cat/mergo"

	"github.com/helmsmith/conveyor/internal/executors"
	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/internal/logging"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// EventSink receives engine events. Emit must not block; implementations
// drop or buffer under backpressure. Emission is best-effort: the
// ExecutionRecord, not the event stream, is the source of truth.
type EventSink interface {
	Emit(ctx context.Context, event *schema.Event)
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, *schema.Event) {}

// Orchestrator drives one execution at a time: plan, walk the order,
// evaluate edge conditions, dispatch through the retry controller, and
// settle the record. A single Orchestrator is shared across executions; all
// per-run state lives in the runState built inside Run.
type Orchestrator struct {
	registry     *executors.Registry
	interpolator *expressions.Interpolator
	edges        *EdgeEvaluator
	retry        *RetryController
	breakers     *CircuitBreakerRegistry
	sink         EventSink
	logger       *slog.Logger
}

// NewOrchestrator wires an orchestrator. sink may be nil for silent runs;
// breakers may be nil to disable circuit breaking.
func NewOrchestrator(
	registry *executors.Registry,
	router *expressions.Router,
	interpolator *expressions.Interpolator,
	breakers *CircuitBreakerRegistry,
	sink EventSink,
	logger *slog.Logger,
) *Orchestrator {
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry:     registry,
		interpolator: interpolator,
		edges:        NewEdgeEvaluator(router, logger),
		breakers:     breakers,
		sink:         sink,
		logger:       logger,
	}
	o.retry = &RetryController{OnRetry: o.onRetry}
	return o
}

// runState is the per-execution working set, owned by one Run call.
type runState struct {
	req      *schema.ExecutionRequest
	plan     *Plan
	tracker  *StateTracker
	scope    *expressions.ScopeBuilder
	resolved map[string]map[string]any
}

// Run executes one workflow graph to a terminal status and returns the
// record. Structural failures (nil graph, cycles, unknown edge endpoints,
// unknown node types) fail the whole execution with no node dispatched
// beyond the point of discovery. The returned record is always terminal.
func (o *Orchestrator) Run(ctx context.Context, req *schema.ExecutionRequest) *schema.ExecutionRecord {
	ctx = logging.WithIDs(ctx, req.ExecutionID, req.WorkflowID, req.CorrelationID)
	logger := logging.LogWith(ctx, o.logger)

	var nodeIDs []string
	if req.Graph != nil {
		nodeIDs = make([]string, 0, len(req.Graph.Nodes))
		for i := range req.Graph.Nodes {
			nodeIDs = append(nodeIDs, req.Graph.Nodes[i].ID)
		}
	}
	tracker := NewStateTracker(req.ExecutionID, req.WorkflowID, req.CorrelationID, nodeIDs)

	plan, err := BuildPlan(req.Graph)
	if err != nil {
		logger.ErrorContext(ctx, "planning failed", slog.String("error", err.Error()))
		return o.finish(ctx, tracker, req, schema.ExecutionStatusFailed, err)
	}

	if err := tracker.Begin(); err != nil {
		return o.finish(ctx, tracker, req, schema.ExecutionStatusFailed, err)
	}
	o.emitExecution(ctx, req, schema.ExecutionStatusRunning, nil)
	logger.InfoContext(ctx, "execution started", slog.Int("nodes", len(plan.Order)))

	run := &runState{
		req:      req,
		plan:     plan,
		tracker:  tracker,
		scope:    expressions.NewScopeBuilder(req.Input, runMeta(req)),
		resolved: make(map[string]map[string]any, len(plan.Order)),
	}

	mode := req.Graph.Settings.ErrorMode()
	for _, nodeID := range plan.Order {
		// Cancellation is honored at node boundaries only; an in-flight
		// node settles on its own before this check is reached again.
		if ctx.Err() != nil {
			return o.finish(ctx, tracker, req, schema.ExecutionStatusCancelled,
				cancelledError("", ctx.Err()))
		}

		scope := run.scope.Build()
		if eligible, reason := o.edges.Eligible(ctx, plan, nodeID, scope); !eligible {
			if err := tracker.MarkSkipped(nodeID, reason); err != nil {
				return o.finish(ctx, tracker, req, schema.ExecutionStatusFailed, err)
			}
			o.emitNode(ctx, req, nodeID, schema.NodeStatusSkipped, nil)
			continue
		}

		nodeErr := o.runNode(ctx, run, nodeID, scope)
		if nodeErr == nil {
			continue
		}

		// Structural and invariant errors abort regardless of mode.
		if isStructural(nodeErr) {
			return o.finish(ctx, tracker, req, schema.ExecutionStatusFailed, nodeErr)
		}
		if schema.IsCode(nodeErr, schema.ErrCodeCancelled) {
			return o.finish(ctx, tracker, req, schema.ExecutionStatusCancelled, nodeErr)
		}

		switch mode {
		case schema.ErrorHandlingContinue:
			logger.WarnContext(ctx, "node failed, continuing walk",
				slog.String("node_id", nodeID), slog.String("error", nodeErr.Error()))
			continue
		case schema.ErrorHandlingRollback:
			o.compensate(ctx, run)
			return o.finish(ctx, tracker, req, schema.ExecutionStatusFailed, nodeErr)
		default:
			return o.finish(ctx, tracker, req, schema.ExecutionStatusFailed, nodeErr)
		}
	}

	if ctx.Err() != nil {
		return o.finish(ctx, tracker, req, schema.ExecutionStatusCancelled,
			cancelledError("", ctx.Err()))
	}
	return o.finish(ctx, tracker, req, schema.ExecutionStatusCompleted, nil)
}

// runNode dispatches a single eligible node and settles its record. The
// returned error is the node's terminal failure, nil on success.
func (o *Orchestrator) runNode(ctx context.Context, run *runState, nodeID string, scope *expressions.Scope) error {
	tracker := run.tracker
	node := run.plan.Nodes[nodeID]

	// Unknown types fail fast, before any state or retry machinery.
	exec, err := o.registry.Resolve(node.Type)
	if err != nil {
		return err
	}

	if err := tracker.MarkRunning(nodeID); err != nil {
		return err
	}
	nodeCtx := logging.WithNodeID(ctx, nodeID)
	o.emitNode(nodeCtx, run.req, nodeID, schema.NodeStatusRunning, nil)

	config, input, prepErr := o.prepareInvocation(nodeCtx, run, node, scope)
	if prepErr == nil && o.breakers != nil {
		prepErr = o.breakers.AllowRequest(node.Type)
	}

	var output any
	attempts := 0
	runErr := prepErr
	if runErr == nil {
		inv := executors.Invocation{
			Config: config,
			Input:  input,
			Meta: executors.Meta{
				ExecutionID:   run.req.ExecutionID,
				WorkflowID:    run.req.WorkflowID,
				NodeID:        nodeID,
				CorrelationID: run.req.CorrelationID,
			},
		}
		policy := ResolvePolicy(node, run.req.Graph.Settings)
		output, attempts, runErr = o.retry.Run(nodeCtx, exec, inv, policy)
		tracker.SetAttempts(nodeID, attempts)

		if o.breakers != nil {
			if runErr == nil {
				o.breakers.RecordSuccess(node.Type)
			} else if !schema.IsCode(runErr, schema.ErrCodeCancelled) {
				o.breakers.RecordFailure(node.Type)
			}
		}
	}

	if runErr != nil {
		if err := tracker.MarkFailed(nodeID, runErr); err != nil {
			return err
		}
		o.emitNode(nodeCtx, run.req, nodeID, schema.NodeStatusFailed, runErr)
		return runErr
	}

	if err := tracker.MarkCompleted(nodeID, output); err != nil {
		return err
	}
	run.resolved[nodeID] = config
	if err := run.scope.AddNodeOutput(nodeID, output); err != nil {
		return err
	}
	o.emitNode(nodeCtx, run.req, nodeID, schema.NodeStatusCompleted, nil)
	return nil
}

// prepareInvocation interpolates the node config and builds the node input:
// the trigger payload overlaid with predecessor outputs keyed by node id.
// Predecessor keys shadow same-named trigger keys.
func (o *Orchestrator) prepareInvocation(ctx context.Context, run *runState, node *schema.NodeSpec, scope *expressions.Scope) (map[string]any, map[string]any, error) {
	config := node.Config
	if expressions.HasInterpolation(config) {
		resolved, err := o.interpolator.Resolve(ctx, config, scope)
		if err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"node %s: config interpolation failed: %s", node.ID, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		config = resolved
	}

	input := make(map[string]any)
	if len(run.req.Input) > 0 {
		if err := mergo.Merge(&input, run.req.Input, mergo.WithOverride); err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeExecution,
				"node %s: build input: %s", node.ID, err.Error()).WithNode(node.ID).WithCause(err)
		}
	}
	for _, pred := range run.plan.Predecessors(node.ID) {
		if out, ok := run.tracker.Output(pred); ok {
			input[pred] = out
		}
	}
	return config, input, nil
}

// compensate walks already-completed nodes in reverse planned order and
// invokes their executors' compensation hooks. Best effort: failures are
// logged and the pass keeps going.
func (o *Orchestrator) compensate(ctx context.Context, run *runState) {
	order := run.plan.Order
	for i := len(order) - 1; i >= 0; i-- {
		nodeID := order[i]
		status, ok := run.tracker.NodeStatus(nodeID)
		if !ok || status != schema.NodeStatusCompleted {
			continue
		}
		node := run.plan.Nodes[nodeID]
		exec, err := o.registry.Resolve(node.Type)
		if err != nil {
			continue
		}
		comp, ok := exec.(executors.Compensator)
		if !ok {
			continue
		}

		output, _ := run.tracker.Output(nodeID)
		config := run.resolved[nodeID]
		if config == nil {
			config = node.Config
		}
		inv := executors.Invocation{
			Config: config,
			Input:  map[string]any{},
			Meta: executors.Meta{
				ExecutionID:   run.req.ExecutionID,
				WorkflowID:    run.req.WorkflowID,
				NodeID:        nodeID,
				CorrelationID: run.req.CorrelationID,
			},
		}
		if cerr := comp.Compensate(ctx, inv, output); cerr != nil {
			logging.LogWith(ctx, o.logger).WarnContext(ctx, "compensation failed",
				slog.String("node_id", nodeID), slog.String("error", cerr.Error()))
			continue
		}
		o.sink.Emit(ctx, &schema.Event{
			Type:        schema.EventNodeCompensated,
			ExecutionID: run.req.ExecutionID,
			WorkflowID:  run.req.WorkflowID,
			NodeID:      nodeID,
			Timestamp:   time.Now().UTC(),
		})
	}
}

// finish settles the execution into a terminal status and returns the final
// snapshot. Transition errors here mean an orchestrator bug; they are logged
// loudly and the snapshot is returned as-is.
func (o *Orchestrator) finish(ctx context.Context, tracker *StateTracker, req *schema.ExecutionRequest, status schema.ExecutionStatus, cause error) *schema.ExecutionRecord {
	if err := tracker.Finish(status, cause); err != nil {
		logging.LogWith(ctx, o.logger).ErrorContext(ctx, "terminal transition rejected",
			slog.String("status", string(status)), slog.String("error", err.Error()))
	} else {
		o.emitExecution(ctx, req, status, cause)
	}
	return tracker.Snapshot()
}

func (o *Orchestrator) onRetry(ctx context.Context, meta executors.Meta, attempt int, delay time.Duration, err error) {
	logging.LogWith(ctx, o.logger).WarnContext(ctx, "node attempt failed, retrying",
		slog.String("node_id", meta.NodeID),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", delay),
		slog.String("error", err.Error()))
	o.sink.Emit(ctx, &schema.Event{
		Type:        schema.EventNodeRetrying,
		ExecutionID: meta.ExecutionID,
		WorkflowID:  meta.WorkflowID,
		NodeID:      meta.NodeID,
		Timestamp:   time.Now().UTC(),
		Error:       err.Error(),
		Payload: map[string]any{
			"attempt": attempt,
			"backoff": delay.String(),
		},
	})
}

func (o *Orchestrator) emitExecution(ctx context.Context, req *schema.ExecutionRequest, status schema.ExecutionStatus, cause error) {
	eventType := ExecutionEventType(status)
	if eventType == "" {
		return
	}
	event := &schema.Event{
		Type:        eventType,
		ExecutionID: req.ExecutionID,
		WorkflowID:  req.WorkflowID,
		Timestamp:   time.Now().UTC(),
		Status:      string(status),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	o.sink.Emit(ctx, event)
}

func (o *Orchestrator) emitNode(ctx context.Context, req *schema.ExecutionRequest, nodeID string, status schema.NodeStatus, cause error) {
	eventType := NodeEventType(status)
	if eventType == "" {
		return
	}
	event := &schema.Event{
		Type:        eventType,
		ExecutionID: req.ExecutionID,
		WorkflowID:  req.WorkflowID,
		NodeID:      nodeID,
		Timestamp:   time.Now().UTC(),
		Status:      string(status),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	o.sink.Emit(ctx, event)
}

// runMeta is the run namespace visible to expressions and interpolation.
func runMeta(req *schema.ExecutionRequest) map[string]any {
	return map[string]any{
		"execution_id":   req.ExecutionID,
		"workflow_id":    req.WorkflowID,
		"correlation_id": req.CorrelationID,
	}
}

// isStructural reports whether an error must abort the execution regardless
// of the configured error-handling mode.
func isStructural(err error) bool {
	return schema.IsCode(err, schema.ErrCodeCycleDetected) ||
		schema.IsCode(err, schema.ErrCodeUnknownNodeType) ||
		schema.IsCode(err, schema.ErrCodeMissingDependency) ||
		schema.IsCode(err, schema.ErrCodeInvalidTransition) ||
		schema.IsCode(err, schema.ErrCodeNotFound)
}
