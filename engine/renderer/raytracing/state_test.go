package raytracing

import (
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStateRejectsSkippedStep(t *testing.T) {
	var s buildState
	assert.Error(t, s.advance(metadata.BuildStateAllocated))
	assert.Equal(t, metadata.BuildStateUnbuilt, s.get())

	require.NoError(t, s.advance(metadata.BuildStateSizeQueried))
	assert.Error(t, s.advance(metadata.BuildStateBuilt))
	assert.Equal(t, metadata.BuildStateSizeQueried, s.get())
}
