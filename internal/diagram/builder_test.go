package diagram

import (
	"testing"
	"time"

	"github.com/helmsmith/conveyor/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test graph builders ---

func linearGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{
			{ID: "fetch", Type: "http.get"},
			{ID: "transform", Type: "transform.jq"},
			{ID: "store", Type: "file.write"},
		},
		Edges: []schema.EdgeSpec{
			{Source: "fetch", Target: "transform"},
			{Source: "transform", Target: "store"},
		},
		Metadata: map[string]any{"name": "ETL Pipeline"},
	}
}

func branchGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{
			{ID: "check", Type: "http.get"},
			{ID: "deploy", Type: "http.post"},
			{ID: "notify", Type: "http.post"},
		},
		Edges: []schema.EdgeSpec{
			{Source: "check", Target: "deploy", Condition: "output.ok == true"},
			{Source: "check", Target: "notify", Condition: "output.ok == false"},
		},
	}
}

func mixedKindGraph() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{
			{ID: "warm-up", Type: "delay"},
			{ID: "child", Type: "subflow"},
			{ID: "report", Type: "http.post"},
		},
		Edges: []schema.EdgeSpec{
			{Source: "warm-up", Target: "child"},
			{Source: "child", Target: "report"},
		},
		Metadata: map[string]any{"name": "Nightly Sync"},
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func linearRecord() *schema.ExecutionRecord {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &schema.ExecutionRecord{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     schema.ExecutionStatusFailed,
		StartedAt:  start,
		NodeExecutions: map[string]*schema.NodeExecutionRecord{
			"fetch": {
				NodeID:    "fetch",
				Status:    schema.NodeStatusCompleted,
				Attempts:  1,
				StartedAt: timePtr(start),
				EndedAt:   timePtr(start.Add(150 * time.Millisecond)),
			},
			"transform": {
				NodeID:    "transform",
				Status:    schema.NodeStatusCompleted,
				Attempts:  2,
				StartedAt: timePtr(start.Add(150 * time.Millisecond)),
				EndedAt:   timePtr(start.Add(192 * time.Millisecond)),
			},
			"store": {
				NodeID:   "store",
				Status:   schema.NodeStatusFailed,
				Attempts: 3,
				Error:    "connection timeout",
			},
		},
	}
}

// --- Tests ---

func TestBuildLinearGraph(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	assert.Equal(t, "ETL Pipeline", model.Title)
	// 3 nodes + start + end = 5
	assert.Len(t, model.Nodes, 5)
	assert.NotEmpty(t, model.Edges)
	assert.NotEmpty(t, model.Levels)

	// First level is start, last is end.
	assert.Equal(t, []string{"__start__"}, model.Levels[0])
	assert.Equal(t, []string{"__end__"}, model.Levels[len(model.Levels)-1])

	// Verify node kinds.
	kinds := make(map[string]NodeKind)
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, NodeKindStart, kinds["__start__"])
	assert.Equal(t, NodeKindEnd, kinds["__end__"])
	assert.Equal(t, NodeKindTask, kinds["fetch"])
	assert.Equal(t, NodeKindTask, kinds["transform"])
	assert.Equal(t, NodeKindTask, kinds["store"])
}

func TestBuildLinearLevels(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	// start, fetch, transform, store, end.
	require.Len(t, model.Levels, 5)
	assert.Equal(t, []string{"fetch"}, model.Levels[1])
	assert.Equal(t, []string{"transform"}, model.Levels[2])
	assert.Equal(t, []string{"store"}, model.Levels[3])
}

func TestBuildBranchGraphConditionalEdges(t *testing.T) {
	model, err := Build(branchGraph(), nil)
	require.NoError(t, err)

	conditional := 0
	for _, e := range model.Edges {
		if e.Conditional {
			conditional++
			assert.NotEmpty(t, e.Label)
		}
	}
	assert.Equal(t, 2, conditional)

	// Both branches sit on the same level.
	require.Len(t, model.Levels, 4)
	assert.ElementsMatch(t, []string{"deploy", "notify"}, model.Levels[2])
}

func TestBuildFramesRootsAndLeaves(t *testing.T) {
	model, err := Build(branchGraph(), nil)
	require.NoError(t, err)

	var startEdges, endEdges int
	for _, e := range model.Edges {
		if e.From == "__start__" {
			startEdges++
			assert.Equal(t, "check", e.To)
		}
		if e.To == "__end__" {
			endEdges++
		}
	}
	assert.Equal(t, 1, startEdges)
	assert.Equal(t, 2, endEdges, "both leaves connect to end")
}

func TestBuildMixedKinds(t *testing.T) {
	model, err := Build(mixedKindGraph(), nil)
	require.NoError(t, err)

	kinds := make(map[string]NodeKind)
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, NodeKindDelay, kinds["warm-up"])
	assert.Equal(t, NodeKindSubflow, kinds["child"])
	assert.Equal(t, NodeKindTask, kinds["report"])
}

func TestBuildWithStatusOverlay(t *testing.T) {
	model, err := Build(linearGraph(), linearRecord())
	require.NoError(t, err)

	for _, node := range model.Nodes {
		switch node.ID {
		case "fetch":
			require.NotNil(t, node.Status)
			assert.Equal(t, "completed", node.Status.Status)
			assert.Equal(t, int64(150), node.Status.DurationMs)
		case "transform":
			require.NotNil(t, node.Status)
			assert.Equal(t, "completed", node.Status.Status)
			assert.Equal(t, 2, node.Status.Attempts)
			assert.Equal(t, int64(42), node.Status.DurationMs)
		case "store":
			require.NotNil(t, node.Status)
			assert.Equal(t, "failed", node.Status.Status)
			assert.Equal(t, "connection timeout", node.Status.Error)
			assert.Zero(t, node.Status.DurationMs, "no duration without timestamps")
		case "__start__", "__end__":
			assert.Nil(t, node.Status)
		}
	}
}

func TestBuildDiamondLevels(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{
			{ID: "a", Type: "inject"},
			{ID: "b", Type: "inject"},
			{ID: "c", Type: "inject"},
			{ID: "d", Type: "inject"},
		},
		Edges: []schema.EdgeSpec{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
			// Long path forces d a level deeper than c alone would.
			{Source: "a", Target: "d"},
		},
	}

	model, err := Build(graph, nil)
	require.NoError(t, err)

	// Longest path wins: d lands below b and c despite the direct a->d edge.
	require.Len(t, model.Levels, 5)
	assert.Equal(t, []string{"a"}, model.Levels[1])
	assert.ElementsMatch(t, []string{"b", "c"}, model.Levels[2])
	assert.Equal(t, []string{"d"}, model.Levels[3])
}

func TestBuildNilGraph(t *testing.T) {
	_, err := Build(nil, nil)
	require.Error(t, err)
}

func TestBuildEmptyGraph(t *testing.T) {
	_, err := Build(&schema.WorkflowGraph{}, nil)
	require.Error(t, err)
}

func TestBuildCyclicGraph(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{
			{ID: "a", Type: "inject"},
			{ID: "b", Type: "inject"},
		},
		Edges: []schema.EdgeSpec{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	_, err := Build(graph, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildUnknownEdgeEndpoint(t *testing.T) {
	graph := &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{{ID: "a", Type: "inject"}},
		Edges: []schema.EdgeSpec{{Source: "a", Target: "ghost"}},
	}
	_, err := Build(graph, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestBuildDefaultTitle(t *testing.T) {
	model, err := Build(branchGraph(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Workflow", model.Title)
}

func TestKindForType(t *testing.T) {
	assert.Equal(t, NodeKindDelay, kindForType("delay"))
	assert.Equal(t, NodeKindDelay, kindForType("delay.jitter"))
	assert.Equal(t, NodeKindSubflow, kindForType("subflow"))
	assert.Equal(t, NodeKindTask, kindForType("http.get"))
	assert.Equal(t, NodeKindTask, kindForType(""))
}
