package diagram

// NodeKind classifies a diagram node by its executor family, which decides
// the shape each renderer draws.
type NodeKind string

const (
	NodeKindTask    NodeKind = "task"
	NodeKindDelay   NodeKind = "delay"
	NodeKindSubflow NodeKind = "subflow"
	NodeKindStart   NodeKind = "start"
	NodeKindEnd     NodeKind = "end"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	Attempts   int
	DurationMs int64
	Error      string
}

// Edge represents a dependency between two nodes. Label carries the edge
// condition when one is set.
type Edge struct {
	From        string
	To          string
	Label       string
	Conditional bool
}
