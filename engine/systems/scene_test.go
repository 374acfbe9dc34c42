package systems

import (
	"context"
	"testing"

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
	index, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-indices", Size: uint64(triangles) * 3 * 4, Usage: usage, HostVisible: true})
	require.NoError(t, err)
	vertex, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-vertices", Size: 12 * 8, Usage: usage, HostVisible: true})
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

func newScene(t *testing.T) (*headless.Device, *raytracing.ScratchPool, *SceneSystem) {
	t.Helper()
	dev := headless.NewDevice(headless.DefaultConfig())
	pool, err := raytracing.NewScratchPool(dev, raytracing.ScratchPoolConfig{MaxLeases: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)
	ss, err := NewSceneSystem(&SceneSystemConfig{MaxMeshCount: 4, MaxInstanceCount: 8}, dev, pool)
	require.NoError(t, err)
	return dev, pool, ss
}

func TestNewSceneSystemRejectsConfig(t *testing.T) {
	_, err := NewSceneSystem(&SceneSystemConfig{MaxMeshCount: 0, MaxInstanceCount: 1}, nil, nil)
	assert.Error(t, err)
}

func TestSceneBuildTopLevel(t *testing.T) {
	dev, _, ss := newScene(t)
	g := graph.New("frame-0")

	cube, err := ss.AddMesh(g, newMesh(t, dev, "cube", 12))
	require.NoError(t, err)
	plane, err := ss.AddMesh(g, newMesh(t, dev, "plane", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, ss.MeshCount())

	_, err = ss.AddInstance(SceneInstance{Mesh: cube, Transform: math.NewMat3x4Identity(), Mask: 0xFF})
	require.NoError(t, err)
	moved, err := ss.AddInstance(SceneInstance{Mesh: plane, Transform: math.NewMat3x4Identity(), Mask: 0x01, CustomIndex: 5})
	require.NoError(t, err)
	require.NoError(t, ss.SetTransform(moved, math.NewMat4Translation(math.NewVec3(0, -1, 0)).ToMat3x4()))
	assert.Equal(t, 2, ss.InstanceCount())

	tlas, err := ss.BuildTopLevel(g)
	require.NoError(t, err)
	require.NotNil(t, tlas)
	assert.Equal(t, "scene-0", tlas.Name())
	assert.Equal(t, uint32(2), tlas.InstanceCount())

	order, err := g.Resolve()
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, "tlas/scene-0", order[2].Name())

	rec := &headless.Recorder{}
	sub, err := g.Submit(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, sub.Retire(context.Background(), headless.SignaledFence()))

	b, ok := ss.Mesh(cube)
	require.True(t, ok)
	assert.Equal(t, metadata.BuildStateBuilt, b.State())
	assert.Equal(t, metadata.BuildStateBuilt, tlas.State())

	// A second frame rebuilds the top level only.
	g1 := graph.New("frame-1")
	next, err := ss.BuildTopLevel(g1)
	require.NoError(t, err)
	assert.Equal(t, "scene-1", next.Name())
	assert.Len(t, g1.Passes(), 1)

	tlas.Destroy()
	next.Destroy()
	require.NoError(t, ss.Shutdown())
	assert.Zero(t, dev.LiveStructures())
	assert.Zero(t, ss.MeshCount())
}

func TestSceneEmptyTopLevel(t *testing.T) {
	_, _, ss := newScene(t)
	g := graph.New("empty")
	tlas, err := ss.BuildTopLevel(g)
	require.NoError(t, err)
	assert.Nil(t, tlas)
	assert.Empty(t, g.Passes())
}

func TestSceneMeshReferences(t *testing.T) {
	dev, _, ss := newScene(t)
	g := graph.New("refs")

	mesh, err := ss.AddMesh(g, newMesh(t, dev, "rock", 3))
	require.NoError(t, err)

	_, err = ss.AddInstance(SceneInstance{Mesh: mesh + 7, Mask: 0xFF})
	assert.ErrorIs(t, err, ErrUnknownMesh)
	_, err = ss.AddInstance(SceneInstance{Mesh: mesh, Mask: 0xFF, CustomIndex: 1 << 24})
	assert.Error(t, err)

	a, err := ss.AddInstance(SceneInstance{Mesh: mesh, Mask: 0xFF})
	require.NoError(t, err)
	b, err := ss.AddInstance(SceneInstance{Mesh: mesh, Mask: 0xFF})
	require.NoError(t, err)

	assert.ErrorIs(t, ss.RemoveMesh(mesh), ErrMeshInUse)
	require.NoError(t, ss.RemoveInstance(a))
	assert.ErrorIs(t, ss.RemoveInstance(a), ErrUnknownInstance)
	assert.ErrorIs(t, ss.RemoveMesh(mesh), ErrMeshInUse)
	require.NoError(t, ss.RemoveInstance(b))

	require.NoError(t, ss.RemoveMesh(mesh))
	assert.ErrorIs(t, ss.RemoveMesh(mesh), ErrUnknownMesh)
	assert.ErrorIs(t, ss.SetTransform(a, math.NewMat3x4Identity()), ErrUnknownInstance)
	assert.Zero(t, dev.LiveStructures())
}

func TestSceneMeshLimit(t *testing.T) {
	dev, _, ss := newScene(t)
	g := graph.New("limit")
	for i := 0; i < 4; i++ {
		_, err := ss.AddMesh(g, newMesh(t, dev, string(rune('a'+i)), 1))
		require.NoError(t, err)
	}
	_, err := ss.AddMesh(g, newMesh(t, dev, "e", 1))
	assert.Error(t, err)
}
