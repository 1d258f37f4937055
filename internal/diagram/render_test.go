package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDispatch(t *testing.T) {
	graph := linearGraph()

	mermaid, err := Render(graph, nil, FormatMermaid)
	require.NoError(t, err)
	assert.Contains(t, string(mermaid), "graph TD")

	dot, err := Render(graph, nil, FormatDOT)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph workflow")

	ascii, err := Render(graph, nil, FormatASCII)
	require.NoError(t, err)
	assert.Contains(t, string(ascii), "┌")

	png, err := Render(graph, nil, FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), png[0])
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render(linearGraph(), nil, Format("svg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestRenderInvalidGraph(t *testing.T) {
	_, err := Render(nil, nil, FormatMermaid)
	require.Error(t, err)
}

func TestRenderWithRecord(t *testing.T) {
	out, err := Render(linearGraph(), linearRecord(), FormatMermaid)
	require.NoError(t, err)
	assert.Contains(t, string(out), "class store failed")
}
