// gen-diagrams generates sample diagram outputs for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/helmsmith/conveyor/internal/diagram"
	"github.com/helmsmith/conveyor/pkg/schema"
)

func main() {
	// Branching fulfillment flow: fetch → validate → conditional split on
	// stock level, both branches joining again before the shipping manifest.
	graph := &schema.WorkflowGraph{
		Nodes: []schema.NodeSpec{
			{ID: "fetch-order", Type: "http.get", Config: map[string]any{"url": "https://shop.example.com/orders/4711"}},
			{ID: "validate", Type: "transform.jq", Config: map[string]any{"query": "{sku, quantity}"}},
			{ID: "charge-card", Type: "http.post", Config: map[string]any{"url": "https://pay.example.com/charge"}},
			{ID: "notify-restock", Type: "http.post", Config: map[string]any{"url": "https://ops.example.com/restock"}},
			{ID: "merge-results", Type: "merge"},
			{ID: "settle", Type: "delay", Config: map[string]any{"duration_ms": 2000}},
			{ID: "write-manifest", Type: "file.write", Config: map[string]any{"path": "manifests/4711.json"}},
		},
		Edges: []schema.EdgeSpec{
			{Source: "fetch-order", Target: "validate"},
			{Source: "validate", Target: "charge-card", Condition: "output.quantity > 0"},
			{Source: "validate", Target: "notify-restock", Condition: "output.quantity == 0"},
			{Source: "charge-card", Target: "merge-results"},
			{Source: "notify-restock", Target: "merge-results"},
			{Source: "merge-results", Target: "settle"},
			{Source: "settle", Target: "write-manifest"},
		},
		Metadata: map[string]any{"name": "Order Fulfillment"},
	}

	model, err := diagram.Build(graph, sampleRecord())
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		os.Exit(1)
	}

	outDir := filepath.Join("docs", "assets")
	os.MkdirAll(outDir, 0o755)

	ascii := diagram.RenderASCII(model)
	os.WriteFile(filepath.Join(outDir, "diagram-ascii.txt"), []byte(ascii), 0o644)
	fmt.Println("=== ASCII ===")
	fmt.Println(ascii)

	mermaid := diagram.RenderMermaid(model)
	os.WriteFile(filepath.Join(outDir, "diagram-mermaid.md"), []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644)
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	dot := diagram.RenderDOT(model)
	os.WriteFile(filepath.Join(outDir, "diagram.dot"), []byte(dot), 0o644)
	fmt.Println("=== DOT ===")
	fmt.Println(dot)

	png, imgErr := diagram.RenderImage(model)
	if imgErr != nil {
		fmt.Fprintf(os.Stderr, "image error: %v\n", imgErr)
	} else {
		pngPath := filepath.Join(outDir, "diagram-sample.png")
		os.WriteFile(pngPath, png, 0o644)
		fmt.Printf("=== Image (PNG) ===\nWritten: %s (%d bytes)\n", pngPath, len(png))
	}
}

// sampleRecord fakes a mid-run execution so the rendered diagrams show the
// full status palette.
func sampleRecord() *schema.ExecutionRecord {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	at := func(offsetMs int64) *time.Time {
		t := base.Add(time.Duration(offsetMs) * time.Millisecond)
		return &t
	}
	return &schema.ExecutionRecord{
		ID:         "exec-sample",
		WorkflowID: "order-fulfillment",
		Status:     schema.ExecutionStatusRunning,
		StartedAt:  base,
		NodeExecutions: map[string]*schema.NodeExecutionRecord{
			"fetch-order":    {NodeID: "fetch-order", Status: schema.NodeStatusCompleted, Attempts: 1, StartedAt: at(0), EndedAt: at(450)},
			"validate":       {NodeID: "validate", Status: schema.NodeStatusCompleted, Attempts: 1, StartedAt: at(450), EndedAt: at(462)},
			"charge-card":    {NodeID: "charge-card", Status: schema.NodeStatusCompleted, Attempts: 2, StartedAt: at(462), EndedAt: at(1350)},
			"notify-restock": {NodeID: "notify-restock", Status: schema.NodeStatusSkipped},
			"merge-results":  {NodeID: "merge-results", Status: schema.NodeStatusCompleted, Attempts: 1, StartedAt: at(1350), EndedAt: at(1353)},
			"settle":         {NodeID: "settle", Status: schema.NodeStatusRunning, Attempts: 1, StartedAt: at(1353)},
			"write-manifest": {NodeID: "write-manifest", Status: schema.NodeStatusPending},
		},
	}
}
