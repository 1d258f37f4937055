package diagram

import (
	"fmt"
	"strings"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// Build constructs a Model from a WorkflowGraph and an optional execution
// record for status overlay. Virtual start/end nodes frame the graph.
func Build(graph *schema.WorkflowGraph, record *schema.ExecutionRecord) (*Model, error) {
	if graph == nil {
		return nil, fmt.Errorf("diagram: graph is nil")
	}
	if len(graph.Nodes) == 0 {
		return nil, fmt.Errorf("diagram: graph has no nodes")
	}

	levels, roots, leaves, err := layout(graph)
	if err != nil {
		return nil, err
	}

	nodes := make([]*Node, 0, len(graph.Nodes)+2)
	nodes = append(nodes, &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart})

	for i := range graph.Nodes {
		spec := &graph.Nodes[i]
		node := &Node{
			ID:    spec.ID,
			Label: nodeLabel(spec),
			Kind:  kindForType(spec.Type),
		}
		overlayStatus(node, record)
		nodes = append(nodes, node)
	}

	nodes = append(nodes, &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd})

	edges := make([]Edge, 0, len(graph.Edges)+len(roots)+len(leaves))
	for _, root := range roots {
		edges = append(edges, Edge{From: "__start__", To: root})
	}
	for _, edge := range graph.Edges {
		edges = append(edges, Edge{
			From:        edge.Source,
			To:          edge.Target,
			Label:       edge.Condition,
			Conditional: edge.Condition != "",
		})
	}
	for _, leaf := range leaves {
		edges = append(edges, Edge{From: leaf, To: "__end__"})
	}

	framed := make([][]string, 0, len(levels)+2)
	framed = append(framed, []string{"__start__"})
	framed = append(framed, levels...)
	framed = append(framed, []string{"__end__"})

	return &Model{
		Title:  titleFromGraph(graph),
		Nodes:  nodes,
		Edges:  edges,
		Levels: framed,
	}, nil
}

// layout groups nodes into dependency levels (level = longest path from a
// root) and reports roots and leaves. Fails on cyclic graphs.
func layout(graph *schema.WorkflowGraph) (levels [][]string, roots, leaves []string, err error) {
	known := make(map[string]bool, len(graph.Nodes))
	for i := range graph.Nodes {
		known[graph.Nodes[i].ID] = true
	}

	inDegree := make(map[string]int, len(graph.Nodes))
	outgoing := make(map[string][]string)
	hasOut := make(map[string]bool)
	seen := make(map[[2]string]bool, len(graph.Edges))
	for _, edge := range graph.Edges {
		if !known[edge.Source] || !known[edge.Target] {
			return nil, nil, nil, fmt.Errorf("diagram: edge %s -> %s references unknown node", edge.Source, edge.Target)
		}
		pair := [2]string{edge.Source, edge.Target}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		outgoing[edge.Source] = append(outgoing[edge.Source], edge.Target)
		inDegree[edge.Target]++
		hasOut[edge.Source] = true
	}

	depth := make(map[string]int, len(graph.Nodes))
	var queue []string
	for i := range graph.Nodes {
		id := graph.Nodes[i].ID
		if inDegree[id] == 0 {
			queue = append(queue, id)
			roots = append(roots, id)
		}
		if !hasOut[id] {
			leaves = append(leaves, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range outgoing[id] {
			if depth[id]+1 > depth[next] {
				depth[next] = depth[id] + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(graph.Nodes) {
		return nil, nil, nil, fmt.Errorf("diagram: workflow graph contains a cycle")
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels = make([][]string, maxDepth+1)
	for i := range graph.Nodes {
		id := graph.Nodes[i].ID
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels, roots, leaves, nil
}

// kindForType maps an executor type to a diagram node kind.
func kindForType(nodeType string) NodeKind {
	switch {
	case nodeType == "delay":
		return NodeKindDelay
	case nodeType == "subflow":
		return NodeKindSubflow
	case strings.HasPrefix(nodeType, "delay."):
		return NodeKindDelay
	default:
		return NodeKindTask
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(spec *schema.NodeSpec) string {
	if spec.Type != "" {
		return fmt.Sprintf("%s\n(%s)", spec.ID, spec.Type)
	}
	return spec.ID
}

// overlayStatus applies the node's run record to the diagram node.
func overlayStatus(node *Node, record *schema.ExecutionRecord) {
	if record == nil {
		return
	}
	rec, ok := record.NodeExecutions[node.ID]
	if !ok {
		return
	}
	overlay := &StatusOverlay{
		Status:   string(rec.Status),
		Attempts: rec.Attempts,
		Error:    rec.Error,
	}
	if rec.StartedAt != nil && rec.EndedAt != nil {
		overlay.DurationMs = rec.EndedAt.Sub(*rec.StartedAt).Milliseconds()
	}
	node.Status = overlay
}

// titleFromGraph generates a diagram title from graph metadata.
func titleFromGraph(graph *schema.WorkflowGraph) string {
	if graph.Metadata != nil {
		if name, ok := graph.Metadata["name"].(string); ok && name != "" {
			return name
		}
	}
	return "Workflow"
}
