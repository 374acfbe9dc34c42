package raytracing_test

import (
	"context"
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMesh(t *testing.T, dev *headless.Device, name string, triangles uint32) raytracing.MeshBuffers {
	t.Helper()
	usage := metadata.BufferUsageAccelerationStructureBuildInput | metadata.BufferUsageShaderDeviceAddress
	indexSize := uint64(triangles) * 3 * 4
	if indexSize == 0 {
		indexSize = 4
	}
	index, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-indices", Size: indexSize, Usage: usage, HostVisible: true})
	require.NoError(t, err)
	vertex, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-vertices", Size: 3 * 12 * 8, Usage: usage, HostVisible: true})
	require.NoError(t, err)
	return raytracing.MeshBuffers{
		Name:           name,
		Index:          index,
		Vertex:         vertex,
		VertexStride:   12,
		VertexCount:    8,
		PrimitiveCount: triangles,
		VertexFormat:   metadata.VertexFormatR32G32B32Sfloat,
		IndexType:      metadata.IndexTypeUint32,
	}
}

func passNames(ps []*graph.Pass) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

func identity(b *raytracing.Blas) raytracing.Instance {
	return raytracing.Instance{Blas: b, Transform: math.NewMat3x4Identity(), Mask: 0xFF}
}

func TestSceneBuildOrder(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 8, 0)
	g := graph.New("frame")

	b0, err := raytracing.NewBlas(g, dev, pool, newMesh(t, dev, "m0", 10))
	require.NoError(t, err)
	b1, err := raytracing.NewBlas(g, dev, pool, newMesh(t, dev, "m1", 4))
	require.NoError(t, err)
	assert.Equal(t, metadata.BuildStateBuildScheduled, b0.State())

	moved := identity(b1)
	moved.Transform = math.NewMat4Translation(math.NewVec3(1, 2, 3)).ToMat3x4()
	moved.CustomIndex = 7
	tlas, err := raytracing.NewTlas(g, dev, pool, "scene", []raytracing.Instance{identity(b0), moved, identity(b0)})
	require.NoError(t, err)
	require.NotNil(t, tlas)
	assert.Equal(t, uint32(3), tlas.InstanceCount())
	assert.True(t, tlas.HasInstanceBuffer())

	order, err := g.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"blas/m0", "blas/m1", "tlas/scene"}, passNames(order))

	top, ok := g.Pass("tlas/scene")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"blas/m0", "blas/m1"}, passNames(top.Dependencies()))
	for _, name := range []string{"blas/m0", "blas/m1"} {
		p, _ := g.Pass(name)
		dep, err := g.DependsOn(top, p)
		require.NoError(t, err)
		assert.True(t, dep, name)
	}

	rec := &headless.Recorder{}
	sub, err := g.Submit(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"build bottom-level 10",
		"build bottom-level 4",
		"barrier [blas/m0 blas/m1] -> tlas/scene",
		"build top-level 3",
	}, rec.Events())

	builds := rec.Builds()
	require.Len(t, builds, 3)
	assert.Equal(t, []metadata.BuildRange{{PrimitiveCount: 10}}, builds[0].Ranges)
	assert.Same(t, b0.Structure(), builds[0].Command.Destination)
	assert.Equal(t, []metadata.BuildRange{{PrimitiveCount: 3}}, builds[2].Ranges)
	assert.Same(t, tlas.Structure(), builds[2].Command.Destination)
	for _, b := range builds {
		assert.Zero(t, b.Command.ScratchAddress%128)
	}
	assert.Equal(t, uint32(3), builds[2].Command.Geometry.InstanceCount)
	assert.Equal(t, uint32(7), builds[0].Command.Geometry.Triangles.MaxVertex)

	assert.Equal(t, 3, pool.Blocks())
	assert.Zero(t, pool.FreeBlocks())

	require.NoError(t, sub.Retire(context.Background(), headless.SignaledFence()))
	assert.Equal(t, metadata.BuildStateBuilt, b0.State())
	assert.Equal(t, metadata.BuildStateBuilt, b1.State())
	assert.Equal(t, metadata.BuildStateBuilt, tlas.State())
	assert.False(t, tlas.HasInstanceBuffer())
	assert.Equal(t, 3, pool.FreeBlocks())

	tlas.Destroy()
	b0.Destroy()
	b1.Destroy()
	assert.Zero(t, dev.LiveStructures())
	assert.Equal(t, 3, dev.LiveBuffers(), "only scratch blocks remain")
}

func TestTlasInstanceRecords(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 4, 0)
	g := graph.New("records")

	b, err := raytracing.NewBlas(g, dev, pool, newMesh(t, dev, "m", 2))
	require.NoError(t, err)

	inst := identity(b)
	inst.SBTOffset = 2
	inst.Flags = metadata.InstanceFlagForceOpaque
	tlas, err := raytracing.NewTlas(g, dev, pool, "scene", []raytracing.Instance{inst})
	require.NoError(t, err)
	require.NotNil(t, tlas)

	rec := &headless.Recorder{}
	_, err = g.Submit(context.Background(), rec)
	require.NoError(t, err)

	builds := rec.Builds()
	require.Len(t, builds, 2)
	info := builds[1].Command.Geometry
	assert.Equal(t, metadata.AccelerationStructureTypeTopLevel, info.Type)
	assert.NotZero(t, info.InstanceBufferAddress)
	assert.Equal(t, tlas.BuildSizes().ResultSize, tlas.Structure().Size())

	want := metadata.EncodeInstances([]metadata.InstanceRecord{{
		Transform:         math.NewMat3x4Identity(),
		Mask:              0xFF,
		SBTOffset:         2,
		Flags:             metadata.InstanceFlagForceOpaque,
		BlasDeviceAddress: b.DeviceAddress(),
	}})
	instances := dev.BufferAt(info.InstanceBufferAddress)
	require.NotNil(t, instances)
	assert.Equal(t, want, instances.Bytes())
	assert.True(t, instances.Usage().Has(metadata.BufferUsageAccelerationStructureBuildInput))
}

func TestTlasEmptyInstanceSet(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)
	g := graph.New("empty")

	tlas, err := raytracing.NewTlas(g, dev, pool, "scene", nil)
	assert.NoError(t, err)
	assert.Nil(t, tlas)
	assert.Empty(t, g.Passes())
	assert.Zero(t, dev.LiveBuffers())

	_, err = raytracing.NewTlasStrict(g, dev, pool, "scene", []raytracing.Instance{})
	assert.ErrorIs(t, err, core.ErrEmptyInstanceSet)
}

func TestTlasRejectsMissingBlas(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)
	g := graph.New("nil-blas")

	_, err := raytracing.NewTlas(g, dev, pool, "scene", []raytracing.Instance{{Mask: 0xFF}})
	assert.Error(t, err)
	assert.Empty(t, g.Passes())
	assert.Zero(t, dev.LiveBuffers())
}

func TestTlasOverBlasFromEarlierGraph(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 2, 0)

	first := graph.New("upload")
	b, err := raytracing.NewBlas(first, dev, pool, newMesh(t, dev, "m", 12))
	require.NoError(t, err)
	sub, err := first.Submit(context.Background(), &headless.Recorder{})
	require.NoError(t, err)
	sub.Complete()
	require.Equal(t, metadata.BuildStateBuilt, b.State())

	frame := graph.New("frame")
	tlas, err := raytracing.NewTlas(frame, dev, pool, "scene", []raytracing.Instance{identity(b)})
	require.NoError(t, err)
	require.NotNil(t, tlas)

	top, _ := frame.Pass("tlas/scene")
	assert.Empty(t, top.Dependencies())

	rec := &headless.Recorder{}
	_, err = frame.Submit(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"build top-level 1"}, rec.Events())
}

func TestTlasWaitsForBlasStillInFlight(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 2, 0)

	upload := graph.New("upload")
	b, err := raytracing.NewBlas(upload, dev, pool, newMesh(t, dev, "m", 12))
	require.NoError(t, err)
	uploadSub, err := upload.Submit(context.Background(), &headless.Recorder{})
	require.NoError(t, err)
	require.Equal(t, metadata.BuildStateBuildScheduled, b.State())

	frame := graph.New("frame")
	tlas, err := raytracing.NewTlas(frame, dev, pool, "scene", []raytracing.Instance{identity(b)})
	require.NoError(t, err)
	top, _ := frame.Pass("tlas/scene")
	assert.Empty(t, top.Dependencies())

	rec := &headless.Recorder{}
	frameSub, err := frame.Submit(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"barrier [] pending [m] -> tlas/scene", "build top-level 1"}, rec.Events())
	require.Len(t, rec.Barriers(), 1)
	assert.Equal(t, []string{"m"}, rec.Barriers()[0].Pending)

	require.NoError(t, uploadSub.Retire(context.Background(), headless.SignaledFence()))
	require.NoError(t, frameSub.Retire(context.Background(), headless.SignaledFence()))
	assert.Equal(t, metadata.BuildStateBuilt, tlas.State())
	tlas.Destroy()
	b.Destroy()
	assert.Zero(t, dev.LiveStructures())
}

func TestTlasRejectsDestroyedBlas(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 2, 0)

	upload := graph.New("upload")
	b, err := raytracing.NewBlas(upload, dev, pool, newMesh(t, dev, "m", 2))
	require.NoError(t, err)
	b.Destroy()
	assert.Zero(t, b.DeviceAddress())

	frame := graph.New("frame")
	tlas, err := raytracing.NewTlas(frame, dev, pool, "scene", []raytracing.Instance{identity(b)})
	assert.Error(t, err)
	assert.Nil(t, tlas)
	assert.Empty(t, frame.Passes())
	assert.Zero(t, dev.LiveStructures())
}

func TestBlasZeroPrimitives(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)
	g := graph.New("empty-mesh")

	b, err := raytracing.NewBlas(g, dev, pool, newMesh(t, dev, "nothing", 0))
	require.NoError(t, err)
	assert.Zero(t, b.PrimitiveCount())

	rec := &headless.Recorder{}
	_, err = g.Submit(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, rec.Builds(), 1)
	assert.Equal(t, []metadata.BuildRange{{}}, rec.Builds()[0].Ranges)
}

func TestBlasFailuresLeaveNothingBehind(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)
	g := graph.New("failures")

	mesh := newMesh(t, dev, "m", 4)
	buffers := dev.LiveBuffers()

	dev.FailAllocations(true)
	_, err := raytracing.NewBlas(g, dev, pool, mesh)
	assert.ErrorIs(t, err, core.ErrAllocationFailure)
	dev.FailAllocations(false)
	assert.Equal(t, buffers, dev.LiveBuffers())
	assert.Zero(t, dev.LiveStructures())
	assert.Empty(t, g.Passes())

	_, err = raytracing.NewBlas(g, dev, pool, mesh)
	require.NoError(t, err)

	// Same name, same pass: the second declaration is refused and cleaned up.
	_, err = raytracing.NewBlas(g, dev, pool, newMesh(t, dev, "m", 4))
	assert.Error(t, err)
	assert.Equal(t, 1, dev.LiveStructures())
	assert.Len(t, g.Passes(), 1)

	short := newMesh(t, dev, "short", 1)
	short.PrimitiveCount = 50
	_, err = raytracing.NewBlas(g, dev, pool, short)
	assert.Error(t, err)
}

func TestBuildWithoutRecorderSupport(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)
	g := graph.New("plain")

	_, err := raytracing.NewBlas(g, dev, pool, newMesh(t, dev, "m", 1))
	require.NoError(t, err)

	_, err = g.Submit(context.Background(), plainCommands{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
	assert.Equal(t, pool.Blocks(), pool.FreeBlocks())
}

type plainCommands struct{}

func (plainCommands) PipelineBarrier(graph.Barrier) {}

func TestBlasSharedBuffers(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)
	g := graph.New("shared")

	mesh := newMesh(t, dev, "m", 2)
	vertices := mesh.Vertex.(*headless.Buffer)
	shared := raytracing.Share(mesh.Vertex)
	mesh.Vertex = shared.Retain()
	assert.Equal(t, 2, shared.Holders())

	b, err := raytracing.NewBlas(g, dev, pool, mesh)
	require.NoError(t, err)
	b.Destroy()
	assert.False(t, vertices.Destroyed())
	assert.True(t, mesh.Index.(*headless.Buffer).Destroyed())
	assert.Equal(t, 1, shared.Holders())

	shared.Destroy()
	shared.Destroy()
	assert.True(t, vertices.Destroyed())
	assert.Zero(t, shared.Holders())
}
