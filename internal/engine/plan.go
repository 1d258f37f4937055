package engine

import (
	"github.com/helmsmith/conveyor/pkg/schema"
)

// Plan is the static execution order for one graph, produced once per run
// before any node is touched. Conditional edges participate in ordering like
// any other edge; their conditions are evaluated later, during the walk.
type Plan struct {
	// Order is the full topological order, one entry per node.
	Order []string
	// Nodes indexes the graph's node specs by id.
	Nodes map[string]*schema.NodeSpec
	// Incoming holds every edge arriving at a node, in declaration order.
	Incoming map[string][]schema.EdgeSpec
	// Outgoing holds every edge leaving a node, in declaration order.
	Outgoing map[string][]schema.EdgeSpec
	// Roots are the zero-in-degree nodes, in declaration order.
	Roots []string
}

// BuildPlan validates the graph's shape and computes a deterministic
// topological order via Kahn's algorithm. Ties are broken by node
// declaration order, so two calls over the same graph yield the same plan.
func BuildPlan(graph *schema.WorkflowGraph) (*Plan, error) {
	if graph == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}
	if len(graph.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow graph has no nodes")
	}

	plan := &Plan{
		Nodes:    make(map[string]*schema.NodeSpec, len(graph.Nodes)),
		Incoming: make(map[string][]schema.EdgeSpec),
		Outgoing: make(map[string][]schema.EdgeSpec),
	}

	// First pass: index nodes and their declaration position.
	index := make(map[string]int, len(graph.Nodes))
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		if node.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty id", i)
		}
		if _, exists := plan.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id: %s", node.ID)
		}
		plan.Nodes[node.ID] = node
		index[node.ID] = i
	}

	// Second pass: adjacency and in-degrees. Repeated source->target pairs
	// count once toward in-degree but all edges are kept for condition
	// evaluation during the walk.
	inDegree := make(map[string]int, len(graph.Nodes))
	seenPair := make(map[[2]string]bool, len(graph.Edges))
	for _, edge := range graph.Edges {
		if _, ok := plan.Nodes[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeMissingDependency,
				"edge references non-existent node %q", edge.Source)
		}
		if _, ok := plan.Nodes[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeMissingDependency,
				"edge references non-existent node %q", edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"node %s depends on itself", edge.Source)
		}
		plan.Incoming[edge.Target] = append(plan.Incoming[edge.Target], edge)
		plan.Outgoing[edge.Source] = append(plan.Outgoing[edge.Source], edge)
		pair := [2]string{edge.Source, edge.Target}
		if !seenPair[pair] {
			seenPair[pair] = true
			inDegree[edge.Target]++
		}
	}

	// Kahn's algorithm. The ready queue stays sorted by declaration order.
	var ready []string
	for i := range graph.Nodes {
		id := graph.Nodes[i].ID
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	plan.Roots = append([]string(nil), ready...)

	decremented := make(map[[2]string]bool, len(seenPair))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		plan.Order = append(plan.Order, id)

		for _, edge := range plan.Outgoing[id] {
			pair := [2]string{edge.Source, edge.Target}
			if decremented[pair] {
				continue
			}
			decremented[pair] = true
			inDegree[edge.Target]--
			if inDegree[edge.Target] == 0 {
				ready = insertByIndex(ready, edge.Target, index)
			}
		}
	}

	if len(plan.Order) != len(graph.Nodes) {
		remaining := make([]string, 0, len(graph.Nodes)-len(plan.Order))
		placed := make(map[string]bool, len(plan.Order))
		for _, id := range plan.Order {
			placed[id] = true
		}
		for i := range graph.Nodes {
			if !placed[graph.Nodes[i].ID] {
				remaining = append(remaining, graph.Nodes[i].ID)
			}
		}
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow graph contains a cycle").
			WithDetails(map[string]any{"remaining_nodes": remaining})
	}

	return plan, nil
}

// Predecessors returns the distinct source ids of a node's incoming edges,
// in edge declaration order.
func (p *Plan) Predecessors(nodeID string) []string {
	edges := p.Incoming[nodeID]
	if len(edges) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(edges))
	out := make([]string, 0, len(edges))
	for _, edge := range edges {
		if !seen[edge.Source] {
			seen[edge.Source] = true
			out = append(out, edge.Source)
		}
	}
	return out
}

// insertByIndex inserts id into the queue keeping it ordered by the nodes'
// declaration positions. Queues here are tiny, so a linear scan is fine.
func insertByIndex(queue []string, id string, index map[string]int) []string {
	pos := len(queue)
	for i, existing := range queue {
		if index[id] < index[existing] {
			pos = i
			break
		}
	}
	queue = append(queue, "")
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = id
	return queue
}
