package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCIILinear(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.NotEmpty(t, output)

	// Verify title.
	assert.Contains(t, output, "ETL Pipeline")

	// Verify box-drawing characters.
	assert.Contains(t, output, "┌") // ┌
	assert.Contains(t, output, "┐") // ┐
	assert.Contains(t, output, "└") // └
	assert.Contains(t, output, "┘") // ┘
	assert.Contains(t, output, "│") // │
	assert.Contains(t, output, "─") // ─

	// Verify node labels.
	assert.Contains(t, output, "Start")
	assert.Contains(t, output, "End")
	assert.Contains(t, output, "fetch")
	assert.Contains(t, output, "transform")
	assert.Contains(t, output, "store")
}

func TestRenderASCIIWithStatus(t *testing.T) {
	model := &Model{
		Title: "Test",
		Nodes: []*Node{
			{ID: "s", Label: "Start", Kind: NodeKindStart},
			{ID: "a", Label: "node-a", Kind: NodeKindTask, Status: &StatusOverlay{Status: "completed", DurationMs: 100}},
			{ID: "b", Label: "node-b", Kind: NodeKindTask, Status: &StatusOverlay{Status: "failed", Attempts: 3}},
			{ID: "c", Label: "node-c", Kind: NodeKindTask, Status: &StatusOverlay{Status: "running"}},
			{ID: "d", Label: "node-d", Kind: NodeKindTask, Status: &StatusOverlay{Status: "skipped"}},
			{ID: "e", Label: "node-e", Kind: NodeKindTask, Status: &StatusOverlay{Status: "pending"}},
			{ID: "end", Label: "End", Kind: NodeKindEnd},
		},
		Levels: [][]string{{"s"}, {"a", "b", "c"}, {"d", "e"}, {"end"}},
	}

	output := RenderASCII(model)

	// Verify status indicators.
	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[FAIL] x3")
	assert.Contains(t, output, "[RUN]")
	assert.Contains(t, output, "[SKIP]")
	assert.Contains(t, output, "[PEND]")
	assert.Contains(t, output, "100ms")
}

func TestRenderASCIIMultiLineLabel(t *testing.T) {
	model := &Model{
		Nodes: []*Node{
			{ID: "a", Label: "fetch\n(http.get)", Kind: NodeKindTask},
		},
		Levels: [][]string{{"a"}},
	}

	output := RenderASCII(model)

	// Only the first label line lands in the box.
	assert.Contains(t, output, "fetch")
	assert.NotContains(t, output, "http.get")
}
