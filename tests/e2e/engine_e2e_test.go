package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsmith/conveyor/internal/engine"
	"github.com/helmsmith/conveyor/internal/executors"
	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/internal/secrets"
	"github.com/helmsmith/conveyor/internal/store"
	"github.com/helmsmith/conveyor/internal/streaming"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// --- Test harness ---

type harness struct {
	t         *testing.T
	store     *store.LibSQLStore
	events    *store.EventLog
	hub       *streaming.MemoryHub
	door      *engine.FrontDoor
	vault     secrets.Vault
	filesRoot string
}

// fanoutSink mirrors the process wiring: events land in the durable log and
// on the hub. The context is detached so terminal events survive
// cancellation.
type fanoutSink struct {
	log *store.EventLog
	hub *streaming.MemoryHub
}

func (s *fanoutSink) Emit(ctx context.Context, event *schema.Event) {
	ctx = context.WithoutCancel(ctx)
	_ = s.log.AppendEvent(ctx, event)
	s.hub.Emit(ctx, event)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, 4)
}

func newHarnessWith(t *testing.T, maxConcurrent int) *harness {
	t.Helper()

	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "e2e.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	hub := streaming.NewMemoryHub()
	el := store.NewEventLog(s)
	vault := secrets.NewStaticVault(map[string]string{
		"api_token": "tok-e2e-1",
	})

	router, err := expressions.NewRouter()
	require.NoError(t, err)
	interp := expressions.NewInterpolator(vault)

	filesRoot := filepath.Join(dir, "files")
	reg := executors.NewRegistry()
	require.NoError(t, executors.RegisterBuiltins(reg, executors.BuiltinConfig{
		File:   executors.FileConfig{Root: filesRoot},
		Vault:  vault,
		Router: router,
	}))
	subflow, err := executors.RegisterSubflow(reg)
	require.NoError(t, err)

	logger := discardLogger()
	breakers := engine.NewCircuitBreakerRegistry(engine.DefaultCircuitBreakerConfig())
	sink := &fanoutSink{log: el, hub: hub}
	orch := engine.NewOrchestrator(reg, router, interp, breakers, sink, logger)
	door := engine.NewFrontDoor(orch, s, engine.FrontDoorConfig{
		MaxConcurrentExecutions: maxConcurrent,
	}, logger)
	subflow.Bind(s.GetWorkflow, door.Execute)

	t.Cleanup(func() { _ = s.Close() })
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = door.Shutdown(ctx)
	})

	return &harness{
		t:         t,
		store:     s,
		events:    el,
		hub:       hub,
		door:      door,
		vault:     vault,
		filesRoot: filesRoot,
	}
}

func (h *harness) run(g *schema.WorkflowGraph, input map[string]any) *schema.ExecutionRecord {
	h.t.Helper()
	rec, err := h.door.Execute(context.Background(), &schema.ExecutionRequest{
		WorkflowID: h.t.Name(),
		Graph:      g,
		Input:      input,
	})
	require.NoError(h.t, err)
	return rec
}

func (h *harness) runOK(g *schema.WorkflowGraph, input map[string]any) *schema.ExecutionRecord {
	h.t.Helper()
	rec := h.run(g, input)
	require.Equal(h.t, schema.ExecutionStatusCompleted, rec.Status, "execution failed: %s", rec.ErrorMessage)
	return rec
}

func (h *harness) runFail(g *schema.WorkflowGraph, input map[string]any) *schema.ExecutionRecord {
	h.t.Helper()
	rec := h.run(g, input)
	require.Equal(h.t, schema.ExecutionStatusFailed, rec.Status)
	return rec
}

// waitTerminal polls the store until the execution's record lands with a
// terminal status.
func (h *harness) waitTerminal(executionID string) *schema.ExecutionRecord {
	h.t.Helper()
	var rec *schema.ExecutionRecord
	require.Eventually(h.t, func() bool {
		r, err := h.store.GetExecution(context.Background(), executionID)
		if err != nil {
			return false
		}
		rec = r
		return r.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
	return rec
}

// --- Graph builders ---

func node(id, nodeType string, config map[string]any) schema.NodeSpec {
	return schema.NodeSpec{ID: id, Type: nodeType, Config: config}
}

func withRetry(n schema.NodeSpec, attempts int, delayMs int64) schema.NodeSpec {
	n.Retry = &schema.RetryPolicy{MaxAttempts: attempts, BaseDelayMs: delayMs}
	return n
}

func withNodeTimeout(n schema.NodeSpec, ms int64) schema.NodeSpec {
	n.TimeoutMs = ms
	return n
}

func edge(source, target string) schema.EdgeSpec {
	return schema.EdgeSpec{Source: source, Target: target}
}

func when(source, target, condition string) schema.EdgeSpec {
	return schema.EdgeSpec{Source: source, Target: target, Condition: condition}
}

func graph(nodes []schema.NodeSpec, edges []schema.EdgeSpec) *schema.WorkflowGraph {
	return &schema.WorkflowGraph{Nodes: nodes, Edges: edges}
}

func withMode(g *schema.WorkflowGraph, mode schema.ErrorHandling) *schema.WorkflowGraph {
	g.Settings.ErrorHandling = mode
	return g
}

// --- Core walks ---

func TestLinearPipeline(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("seed", "inject", map[string]any{"value": map[string]any{"n": 2}}),
			node("double", "eval", map[string]any{"expression": "seed.n * 3"}),
			node("check", "assert", map[string]any{"condition": "double == 6"}),
		},
		[]schema.EdgeSpec{edge("seed", "double"), edge("double", "check")},
	)

	rec := h.runOK(g, nil)

	assert.EqualValues(t, 6, rec.Outputs["double"])
	for _, id := range []string{"seed", "double", "check"} {
		require.Contains(t, rec.NodeExecutions, id)
		assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions[id].Status)
		assert.Equal(t, 1, rec.NodeExecutions[id].Attempts)
	}
	assert.NotNil(t, rec.EndedAt)
	assert.Empty(t, rec.ErrorMessage)
}

func TestConditionalBranchRouting(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("stock", "inject", map[string]any{"value": map[string]any{"quantity": 2}}),
			node("charge", "inject", map[string]any{"value": map[string]any{"path": "in_stock"}}),
			node("restock", "inject", map[string]any{"value": map[string]any{"path": "out_of_stock"}}),
			node("join", "merge", map[string]any{"keys": []any{"charge", "restock"}}),
		},
		[]schema.EdgeSpec{
			when("stock", "charge", "output.quantity > 0"),
			when("stock", "restock", "output.quantity == 0"),
			edge("charge", "join"),
			edge("restock", "join"),
		},
	)

	rec := h.runOK(g, nil)

	assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions["charge"].Status)
	assert.Equal(t, schema.NodeStatusSkipped, rec.NodeExecutions["restock"].Status)
	assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions["join"].Status)

	joined, ok := rec.Outputs["join"].(map[string]any)
	require.True(t, ok, "join output is %T", rec.Outputs["join"])
	assert.Equal(t, "in_stock", joined["path"])
	// The skipped branch contributes nothing.
	assert.NotContains(t, rec.Outputs, "restock")
}

func TestDiamondDependency(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("a", "inject", map[string]any{"value": 1}),
			node("b", "eval", map[string]any{"expression": "a * 2"}),
			node("c", "eval", map[string]any{"expression": "a + 10"}),
			node("d", "eval", map[string]any{"expression": "b + c"}),
		},
		[]schema.EdgeSpec{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
	)

	rec := h.runOK(g, nil)
	assert.EqualValues(t, 13, rec.Outputs["d"])
}

func TestDeepChain(t *testing.T) {
	h := newHarness(t)

	nodes := []schema.NodeSpec{node("c0", "inject", map[string]any{"value": 0})}
	var edges []schema.EdgeSpec
	for i := 1; i <= 40; i++ {
		id := fmt.Sprintf("c%d", i)
		prev := fmt.Sprintf("c%d", i-1)
		nodes = append(nodes, node(id, "eval", map[string]any{"expression": prev + " + 1"}))
		edges = append(edges, edge(prev, id))
	}

	rec := h.runOK(graph(nodes, edges), nil)
	assert.EqualValues(t, 40, rec.Outputs["c40"])
}

func TestWideFanIn(t *testing.T) {
	h := newHarness(t)

	var nodes []schema.NodeSpec
	var edges []schema.EdgeSpec
	keys := make([]any, 0, 30)
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("n%d", i)
		nodes = append(nodes, node(id, "inject", map[string]any{
			"value": map[string]any{fmt.Sprintf("k%d", i): i},
		}))
		edges = append(edges, edge(id, "collect"))
		keys = append(keys, id)
	}
	nodes = append(nodes, node("collect", "merge", map[string]any{"keys": keys}))

	rec := h.runOK(graph(nodes, edges), nil)

	collected, ok := rec.Outputs["collect"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, collected, 30)
	assert.EqualValues(t, 7, collected["k7"])
}

func TestTransformJQ(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("seed", "inject", map[string]any{"value": map[string]any{"items": []any{1, 2, 3}}}),
			node("sum", "transform.jq", map[string]any{"query": ".seed.items | add"}),
		},
		[]schema.EdgeSpec{edge("seed", "sum")},
	)

	rec := h.runOK(g, nil)
	assert.EqualValues(t, 6, rec.Outputs["sum"])
}

// --- Interpolation ---

func TestInterpolationResolvesNodeRefsAndSecrets(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("fetch", "inject", map[string]any{"value": map[string]any{"user": "ada"}}),
			node("greet", "inject", map[string]any{"value": map[string]any{
				"msg":   "hello ${{nodes.fetch.output.user}}",
				"token": "${{secrets.api_token}}",
			}}),
		},
		[]schema.EdgeSpec{edge("fetch", "greet")},
	)

	rec := h.runOK(g, nil)

	greeted, ok := rec.Outputs["greet"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello ada", greeted["msg"])
	assert.Equal(t, "tok-e2e-1", greeted["token"])
}

func TestTriggerInputInterpolation(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("echo", "inject", map[string]any{"value": "${{trigger.region}}"}),
		},
		nil,
	)

	rec := h.runOK(g, map[string]any{"region": "eu"})
	assert.Equal(t, "eu", rec.Outputs["echo"])
}

// --- Retries and timeouts ---

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	g := graph(
		[]schema.NodeSpec{
			withRetry(node("fetch", "http.get", map[string]any{
				"url":                  srv.URL,
				"fail_on_error_status": true,
			}), 3, 1),
		},
		nil,
	)

	rec := h.runOK(g, nil)

	assert.Equal(t, 3, rec.NodeExecutions["fetch"].Attempts)
	assert.EqualValues(t, 3, calls.Load())
	out, ok := rec.Outputs["fetch"].(map[string]any)
	require.True(t, ok)
	body, ok := out["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
}

func TestRetryExhausted(t *testing.T) {
	h := newHarness(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := graph(
		[]schema.NodeSpec{
			withRetry(node("fetch", "http.get", map[string]any{
				"url":                  srv.URL,
				"fail_on_error_status": true,
			}), 3, 1),
		},
		nil,
	)

	rec := h.runFail(g, nil)

	assert.Equal(t, 3, rec.NodeExecutions["fetch"].Attempts)
	assert.Equal(t, schema.NodeStatusFailed, rec.NodeExecutions["fetch"].Status)
	assert.Contains(t, rec.ErrorMessage, "retries exhausted")

	// Each retry leaves a trail in the event log.
	events, err := h.events.GetEvents(context.Background(), rec.ID, 0)
	require.NoError(t, err)
	retrying := 0
	for _, ev := range events {
		if ev.Type == schema.EventNodeRetrying {
			retrying++
		}
	}
	assert.Equal(t, 2, retrying)
}

func TestClientErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := graph(
		[]schema.NodeSpec{
			withRetry(node("fetch", "http.get", map[string]any{
				"url":                  srv.URL,
				"fail_on_error_status": true,
			}), 3, 1),
		},
		nil,
	)

	rec := h.runFail(g, nil)

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, rec.NodeExecutions["fetch"].Attempts)
}

func TestNodeTimeout(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			withNodeTimeout(node("slow", "delay", map[string]any{"duration_ms": 5000}), 50),
		},
		nil,
	)

	start := time.Now()
	rec := h.runFail(g, nil)

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, rec.NodeExecutions["slow"].Error, "timed out")
}

// --- Error handling modes ---

func TestErrorModeStopHaltsWalk(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("a", "inject", map[string]any{"value": 1}),
			node("boom", "assert", map[string]any{"condition": "false", "message": "always fails"}),
			node("after", "inject", map[string]any{"value": 2}),
		},
		[]schema.EdgeSpec{edge("a", "boom"), edge("boom", "after")},
	)

	rec := h.runFail(g, nil)

	assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions["a"].Status)
	assert.Equal(t, schema.NodeStatusFailed, rec.NodeExecutions["boom"].Status)
	assert.Equal(t, schema.NodeStatusPending, rec.NodeExecutions["after"].Status)
	assert.Contains(t, rec.ErrorMessage, "always fails")
}

func TestErrorModeContinueWalksPastFailure(t *testing.T) {
	h := newHarness(t)

	g := withMode(graph(
		[]schema.NodeSpec{
			node("boom", "assert", map[string]any{"condition": "false"}),
			node("side", "inject", map[string]any{"value": "ok"}),
			node("after", "inject", map[string]any{"value": "ran anyway"}),
		},
		[]schema.EdgeSpec{edge("boom", "after")},
	), schema.ErrorHandlingContinue)

	rec := h.run(g, nil)

	// The walk records the failure and keeps going; the run itself completes.
	assert.Equal(t, schema.ExecutionStatusCompleted, rec.Status)
	assert.Equal(t, schema.NodeStatusFailed, rec.NodeExecutions["boom"].Status)
	assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions["side"].Status)
	assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions["after"].Status)
	assert.Equal(t, "ran anyway", rec.Outputs["after"])
}

func TestErrorModeRollbackCompensates(t *testing.T) {
	h := newHarness(t)

	g := withMode(graph(
		[]schema.NodeSpec{
			node("write", "file.write", map[string]any{
				"path":    "undo/out.txt",
				"content": "data",
			}),
			node("boom", "assert", map[string]any{"condition": "false"}),
		},
		[]schema.EdgeSpec{edge("write", "boom")},
	), schema.ErrorHandlingRollback)

	rec := h.runFail(g, nil)

	assert.Equal(t, schema.NodeStatusCompleted, rec.NodeExecutions["write"].Status)
	assert.Equal(t, schema.NodeStatusFailed, rec.NodeExecutions["boom"].Status)

	// The compensation hook undid the write.
	_, statErr := os.Stat(filepath.Join(h.filesRoot, "undo", "out.txt"))
	assert.True(t, os.IsNotExist(statErr), "file should have been removed by rollback")

	events, err := h.events.GetEvents(context.Background(), rec.ID, 0)
	require.NoError(t, err)
	var compensated bool
	for _, ev := range events {
		if ev.Type == schema.EventNodeCompensated && ev.NodeID == "write" {
			compensated = true
		}
	}
	assert.True(t, compensated, "expected a compensation event for the write node")
}

// --- Structural validation ---

func TestCycleFailsExecution(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("a", "inject", map[string]any{"value": 1}),
			node("b", "inject", map[string]any{"value": 2}),
		},
		[]schema.EdgeSpec{edge("a", "b"), edge("b", "a")},
	)

	rec := h.runFail(g, nil)
	assert.Contains(t, strings.ToLower(rec.ErrorMessage), "cycle")
	for _, nodeRec := range rec.NodeExecutions {
		assert.Equal(t, schema.NodeStatusPending, nodeRec.Status)
	}
}

func TestDuplicateNodeIDsFailExecution(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("a", "inject", map[string]any{"value": 1}),
			node("a", "inject", map[string]any{"value": 2}),
		},
		nil,
	)

	rec := h.runFail(g, nil)
	assert.Contains(t, rec.ErrorMessage, "duplicate node id")
}

func TestUnknownNodeTypeFailsExecution(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{node("x", "warp.drive", nil)},
		nil,
	)

	rec := h.runFail(g, nil)
	assert.Contains(t, rec.ErrorMessage, "warp.drive")
}

func TestNilGraphRejectedAtAdmission(t *testing.T) {
	h := newHarness(t)

	_, err := h.door.Execute(context.Background(), &schema.ExecutionRequest{
		WorkflowID: t.Name(),
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

// --- Front door admission ---

func TestSubmitAsyncCompletes(t *testing.T) {
	h := newHarness(t)

	adm, err := h.door.Submit(context.Background(), &schema.ExecutionRequest{
		WorkflowID: t.Name(),
		Graph: graph([]schema.NodeSpec{
			node("only", "inject", map[string]any{"value": 41}),
		}, nil),
	})
	require.NoError(t, err)
	require.NotEmpty(t, adm.ExecutionID)
	assert.False(t, adm.SubmittedAt.IsZero())

	rec := h.waitTerminal(adm.ExecutionID)
	assert.Equal(t, schema.ExecutionStatusCompleted, rec.Status)
	assert.EqualValues(t, 41, rec.Outputs["only"])
}

func TestSubmitDetachedFromCallerContext(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	adm, err := h.door.Submit(ctx, &schema.ExecutionRequest{
		WorkflowID: t.Name(),
		Graph: graph([]schema.NodeSpec{
			node("nap", "delay", map[string]any{"duration_ms": 100}),
		}, nil),
	})
	require.NoError(t, err)
	cancel()

	rec := h.waitTerminal(adm.ExecutionID)
	assert.Equal(t, schema.ExecutionStatusCompleted, rec.Status)
}

func TestCapacityRejection(t *testing.T) {
	h := newHarnessWith(t, 1)

	adm, err := h.door.Submit(context.Background(), &schema.ExecutionRequest{
		ExecutionID: "cap-holder",
		WorkflowID:  t.Name(),
		Graph: graph([]schema.NodeSpec{
			node("nap", "delay", map[string]any{"duration_ms": 2000}),
		}, nil),
	})
	require.NoError(t, err)

	_, err = h.door.Execute(context.Background(), &schema.ExecutionRequest{
		WorkflowID: t.Name(),
		Graph: graph([]schema.NodeSpec{
			node("only", "inject", map[string]any{"value": 1}),
		}, nil),
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCapacity), "got %v", err)

	require.True(t, h.door.Cancel(adm.ExecutionID))
	h.waitTerminal(adm.ExecutionID)
}

func TestDuplicateExecutionIDConflict(t *testing.T) {
	h := newHarness(t)

	req := func() *schema.ExecutionRequest {
		return &schema.ExecutionRequest{
			ExecutionID: "dup-1",
			WorkflowID:  t.Name(),
			Graph: graph([]schema.NodeSpec{
				node("nap", "delay", map[string]any{"duration_ms": 500}),
			}, nil),
		}
	}

	_, err := h.door.Submit(context.Background(), req())
	require.NoError(t, err)

	_, err = h.door.Execute(context.Background(), req())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict), "got %v", err)

	rec := h.waitTerminal("dup-1")
	assert.Equal(t, schema.ExecutionStatusCompleted, rec.Status)
}

func TestConcurrentExecutionsIsolated(t *testing.T) {
	h := newHarnessWith(t, 8)

	const runs = 8
	ids := make([]string, runs)
	for i := 0; i < runs; i++ {
		adm, err := h.door.Submit(context.Background(), &schema.ExecutionRequest{
			WorkflowID: fmt.Sprintf("wf-%d", i),
			Graph: graph([]schema.NodeSpec{
				node("seed", "inject", map[string]any{"value": i}),
				node("out", "eval", map[string]any{"expression": "seed * 10"}),
			}, []schema.EdgeSpec{edge("seed", "out")}),
		})
		require.NoError(t, err)
		ids[i] = adm.ExecutionID
	}

	for i, id := range ids {
		rec := h.waitTerminal(id)
		require.Equal(t, schema.ExecutionStatusCompleted, rec.Status)
		assert.EqualValues(t, i*10, rec.Outputs["out"], "execution %d leaked state", i)
		assert.Equal(t, fmt.Sprintf("wf-%d", i), rec.WorkflowID)
	}
}

// --- Cancellation ---

func TestCancelRunningExecution(t *testing.T) {
	h := newHarness(t)

	adm, err := h.door.Submit(context.Background(), &schema.ExecutionRequest{
		ExecutionID: "cancel-1",
		WorkflowID:  t.Name(),
		Graph: graph([]schema.NodeSpec{
			node("nap", "delay", map[string]any{"duration_ms": 30000}),
		}, nil),
	})
	require.NoError(t, err)

	// Wait for the run to actually start before cancelling.
	require.Eventually(t, func() bool {
		events, err := h.events.GetEvents(context.Background(), adm.ExecutionID, 0)
		if err != nil {
			return false
		}
		for _, ev := range events {
			if ev.Type == schema.EventExecutionStarted {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, h.door.Cancel(adm.ExecutionID))

	rec := h.waitTerminal(adm.ExecutionID)
	assert.Equal(t, schema.ExecutionStatusCancelled, rec.Status)

	// A settled execution cannot be cancelled again.
	assert.False(t, h.door.Cancel(adm.ExecutionID))
	// Unknown ids report false rather than erroring.
	assert.False(t, h.door.Cancel("no-such-execution"))
}

// --- Circuit breaker ---

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)

	failing := func() *schema.WorkflowGraph {
		return graph([]schema.NodeSpec{
			node("boom", "assert", map[string]any{"condition": "false"}),
		}, nil)
	}

	// The default breaker opens after five consecutive failures of a type.
	for i := 0; i < 5; i++ {
		rec := h.runFail(failing(), nil)
		assert.Equal(t, schema.NodeStatusFailed, rec.NodeExecutions["boom"].Status)
	}

	rec := h.runFail(failing(), nil)
	assert.Contains(t, strings.ToLower(rec.NodeExecutions["boom"].Error), "circuit")

	// The rejection happened before dispatch, so no attempt was consumed.
	assert.Equal(t, 0, rec.NodeExecutions["boom"].Attempts)
}

// --- Events ---

func TestEventOrderingAndSequence(t *testing.T) {
	h := newHarness(t)

	g := graph(
		[]schema.NodeSpec{
			node("first", "inject", map[string]any{"value": 1}),
			node("second", "inject", map[string]any{"value": 2}),
		},
		[]schema.EdgeSpec{edge("first", "second")},
	)

	rec := h.runOK(g, nil)

	events, err := h.events.GetEvents(context.Background(), rec.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	assert.Equal(t, schema.EventExecutionStarted, events[0].Type)
	assert.Equal(t, schema.EventExecutionCompleted, events[len(events)-1].Type)

	var last int64
	index := make(map[string]int)
	for i, ev := range events {
		require.Greater(t, ev.Seq, last, "sequence must be strictly increasing")
		last = ev.Seq
		index[ev.Type+"/"+ev.NodeID] = i
	}

	assert.Less(t, index[schema.EventNodeStarted+"/first"], index[schema.EventNodeCompleted+"/first"])
	assert.Less(t, index[schema.EventNodeCompleted+"/first"], index[schema.EventNodeStarted+"/second"])
}

func TestEventStreamDelivery(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	ch, cancel, err := h.hub.Subscribe(ctx, streaming.Filter{ExecutionID: "stream-1"})
	require.NoError(t, err)
	defer cancel()

	_, err = h.door.Submit(ctx, &schema.ExecutionRequest{
		ExecutionID: "stream-1",
		WorkflowID:  t.Name(),
		Graph: graph([]schema.NodeSpec{
			node("only", "inject", map[string]any{"value": "hi"}),
		}, nil),
	})
	require.NoError(t, err)

	seen := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for !seen[schema.EventExecutionCompleted] {
		select {
		case ev := <-ch:
			require.Equal(t, "stream-1", ev.ExecutionID)
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event, saw %v", seen)
		}
	}

	assert.True(t, seen[schema.EventExecutionStarted])
	assert.True(t, seen[schema.EventNodeStarted])
	assert.True(t, seen[schema.EventNodeCompleted])
}
