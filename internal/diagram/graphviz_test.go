package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderImageLinear(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)

	// Verify PNG magic bytes: 0x89 P N G.
	assert.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}

func TestRenderImageBranch(t *testing.T) {
	model, err := Build(branchGraph(), nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
}

func TestRenderImageMixedKinds(t *testing.T) {
	model, err := Build(mixedKindGraph(), nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
}

func TestRenderImageWithStatus(t *testing.T) {
	model, err := Build(linearGraph(), linearRecord())
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
}
