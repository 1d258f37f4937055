package diagram

import (
	"fmt"
	"strings"
)

// RenderDOT renders a Model as Graphviz DOT text, usable directly with the
// dot CLI or any Graphviz-compatible viewer.
func RenderDOT(model *Model) string {
	var b strings.Builder

	b.WriteString("digraph workflow {\n")
	b.WriteString("    rankdir=TB;\n")
	b.WriteString("    node [fontname=\"Helvetica\"];\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    label=%q;\n", model.Title))
		b.WriteString("    labelloc=t;\n")
	}

	for _, node := range model.Nodes {
		attrs := []string{
			fmt.Sprintf("label=%q", firstLine(node.Label)),
			fmt.Sprintf("shape=%s", dotShape(node.Kind)),
		}
		attrs = append(attrs, dotStatusAttrs(node.Status)...)
		b.WriteString(fmt.Sprintf("    %q [%s];\n", node.ID, strings.Join(attrs, ", ")))
	}

	for _, edge := range model.Edges {
		var attrs []string
		if edge.Label != "" {
			attrs = append(attrs, fmt.Sprintf("label=%q", firstLine(edge.Label)))
		}
		if edge.Conditional {
			attrs = append(attrs, "style=dashed")
		}
		if len(attrs) > 0 {
			b.WriteString(fmt.Sprintf("    %q -> %q [%s];\n", edge.From, edge.To, strings.Join(attrs, ", ")))
		} else {
			b.WriteString(fmt.Sprintf("    %q -> %q;\n", edge.From, edge.To))
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func dotShape(kind NodeKind) string {
	switch kind {
	case NodeKindDelay:
		return "ellipse"
	case NodeKindSubflow:
		return "box3d"
	case NodeKindStart, NodeKindEnd:
		return "circle"
	default:
		return "box"
	}
}

func dotStatusAttrs(status *StatusOverlay) []string {
	if status == nil {
		return nil
	}
	switch status.Status {
	case "completed":
		return []string{"style=filled", `fillcolor="#2d6a2d"`, "fontcolor=white"}
	case "failed":
		return []string{"style=filled", `fillcolor="#8b1a1a"`, "fontcolor=white"}
	case "running":
		return []string{"style=filled", `fillcolor="#1a5276"`, "fontcolor=white"}
	case "pending":
		return []string{"style=filled", `fillcolor="#d3d3d3"`}
	case "skipped":
		return []string{`style="filled,dashed"`, `fillcolor="#e8e8e8"`, `fontcolor="#888888"`}
	default:
		return nil
	}
}
