package diagram

import (
	"fmt"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// Format selects a diagram renderer.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatPNG     Format = "png"
	FormatASCII   Format = "ascii"
)

// Render builds the model for a graph, overlaying per-node statuses when a
// record is given, and renders it in the requested format.
func Render(graph *schema.WorkflowGraph, record *schema.ExecutionRecord, format Format) ([]byte, error) {
	model, err := Build(graph, record)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatMermaid:
		return []byte(RenderMermaid(model)), nil
	case FormatDOT:
		return []byte(RenderDOT(model)), nil
	case FormatPNG:
		return RenderImage(model)
	case FormatASCII:
		return []byte(RenderASCII(model)), nil
	default:
		return nil, fmt.Errorf("diagram: unknown format %q", format)
	}
}
