package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsim/pkg/schema"
)

func TestRenderImagePNG(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model, FormatPNG)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImageSVGWithOverlay(t *testing.T) {
	exec := &schema.Execution{
		Status: schema.ExecutionStatusCompleted,
		Logs: []*schema.ExecutionLog{
			logAt("docs", schema.StepStatusCompleted, 1),
			logAt("review", schema.StepStatusSkipped, 2),
		},
	}
	model, err := Build(branchingGraph(), exec)
	require.NoError(t, err)

	svg, err := RenderImage(context.Background(), model, FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "Documents")
}

func TestRenderImageUnsupportedFormat(t *testing.T) {
	model, err := Build(linearGraph(), nil)
	require.NoError(t, err)

	_, err = RenderImage(context.Background(), model, "gif")
	assert.Error(t, err)
}
