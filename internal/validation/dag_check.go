package validation

import (
	"fmt"
	"sort"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// validateDAG performs graph analysis: cycle detection (Kahn's algorithm)
// and root reachability (BFS from entry nodes).
func validateDAG(graph *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(graph.Nodes))
	for _, n := range graph.Nodes {
		nodeIDs[n.ID] = true
	}

	// outgoing[id] = successors of node id, deduplicated.
	outgoing := make(map[string][]string, len(graph.Nodes))
	inDegree := make(map[string]int, len(graph.Nodes))
	for id := range nodeIDs {
		inDegree[id] = 0
	}

	seen := make(map[[2]string]bool, len(graph.Edges))
	for _, e := range graph.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue // invalid refs already caught by semantic
		}
		key := [2]string{e.Source, e.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		outgoing[e.Source] = append(outgoing[e.Source], e.Target)
		inDegree[e.Target]++
	}

	// Kahn's algorithm for cycle detection.
	queue := make([]string, 0, len(graph.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)

	remaining := make(map[string]int, len(inDegree))
	for id, deg := range inDegree {
		remaining[id] = deg
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range outgoing[node] {
			remaining[succ]--
			if remaining[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited != len(nodeIDs) {
		result.AddError("edges", schema.ErrCodeCycleDetected, "workflow graph contains a cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from root nodes (no incoming edges) through outgoing edges.
	roots := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			roots = append(roots, id)
		}
	}

	reachable := make(map[string]bool, len(nodeIDs))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}

	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, succ := range outgoing[node] {
			if !reachable[succ] {
				reachable[succ] = true
				bfsQueue = append(bfsQueue, succ)
			}
		}
	}

	for _, n := range graph.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from any root node", n.ID))
		}
	}

	return result
}
