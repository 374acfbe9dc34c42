package headless

import (
	"context"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffers(t *testing.T) {
	d := NewDevice(DefaultConfig())

	a, err := d.CreateBuffer(metadata.BufferDescription{Name: "a", Size: 10, HostVisible: true})
	require.NoError(t, err)
	b, err := d.CreateBuffer(metadata.BufferDescription{Name: "b", Size: 300})
	require.NoError(t, err)

	assert.Equal(t, uint64(0x10000), a.DeviceAddress())
	assert.Equal(t, uint64(0x10100), b.DeviceAddress())
	assert.Equal(t, 2, d.LiveBuffers())

	require.NoError(t, a.Write(2, []byte{1, 2}))
	assert.Equal(t, []byte{0, 0, 1, 2, 0, 0, 0, 0, 0, 0}, a.(*Buffer).Bytes())
	assert.Error(t, a.Write(9, []byte{1, 2}))
	assert.Error(t, b.Write(0, []byte{1}), "device local buffers cannot be written")

	_, err = d.CreateBuffer(metadata.BufferDescription{Name: "empty"})
	assert.ErrorIs(t, err, core.ErrAllocationFailure)

	a.Destroy()
	a.Destroy()
	assert.Equal(t, 1, d.LiveBuffers())
	assert.Error(t, a.Write(0, []byte{1}))
}

func TestAllocationLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAllocation = 64
	d := NewDevice(cfg)
	_, err := d.CreateBuffer(metadata.BufferDescription{Name: "big", Size: 65})
	assert.ErrorIs(t, err, core.ErrAllocationFailure)
	assert.Zero(t, d.Allocations())
}

func TestStructures(t *testing.T) {
	d := NewDevice(DefaultConfig())
	storage, err := d.CreateBuffer(metadata.BufferDescription{Name: "storage", Size: 512})
	require.NoError(t, err)

	_, err = d.CreateAccelerationStructure(metadata.AccelerationStructureTypeBottomLevel, storage, 1024)
	assert.ErrorIs(t, err, core.ErrAllocationFailure)

	as, err := d.CreateAccelerationStructure(metadata.AccelerationStructureTypeTopLevel, storage, 512)
	require.NoError(t, err)
	assert.Equal(t, storage.DeviceAddress(), as.DeviceAddress())
	assert.Equal(t, metadata.AccelerationStructureTypeTopLevel, as.Type())
	assert.Equal(t, 1, d.LiveStructures())
	as.Destroy()
	as.Destroy()
	assert.Zero(t, d.LiveStructures())

	small, err := d.QueryBuildSizes(metadata.BuildGeometryInfo{Triangles: metadata.GeometryDescription{PrimitiveCount: 1}})
	require.NoError(t, err)
	large, err := d.QueryBuildSizes(metadata.BuildGeometryInfo{Triangles: metadata.GeometryDescription{PrimitiveCount: 1000}})
	require.NoError(t, err)
	assert.Less(t, small.ResultSize, large.ResultSize)
	assert.Less(t, small.BuildScratchSize, large.BuildScratchSize)
}

func TestPipelineHandles(t *testing.T) {
	p := NewPipeline(3, 4)
	h, err := p.GroupHandle(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 3, 3, 3}, h)

	_, err = p.GroupHandle(3)
	assert.ErrorIs(t, err, core.ErrInvalidShaderGroup)
}

func TestFence(t *testing.T) {
	f := NewFence()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)

	f.Signal()
	f.Signal()
	assert.NoError(t, f.Wait(context.Background()))
	assert.NoError(t, SignaledFence().Wait(context.Background()))
}
