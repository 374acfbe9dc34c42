package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/systems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addMesh(dev *headless.Device, sm *systems.SystemManager, upload *graph.Graph, name string, triangles uint32) (systems.MeshID, error) {
	usage := metadata.BufferUsageAccelerationStructureBuildInput | metadata.BufferUsageShaderDeviceAddress
	index, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-indices", Size: uint64(triangles) * 12, Usage: usage, HostVisible: true})
	if err != nil {
		return 0, err
	}
	vertex, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-vertices", Size: 12 * 8, Usage: usage, HostVisible: true})
	if err != nil {
		return 0, err
	}
	return sm.Scene().AddMesh(upload, raytracing.MeshBuffers{
		Name:           name,
		Index:          index,
		Vertex:         vertex,
		VertexStride:   12,
		VertexCount:    8,
		PrimitiveCount: triangles,
		VertexFormat:   metadata.VertexFormatR32G32B32Sfloat,
		IndexType:      metadata.IndexTypeUint32,
	})
}

func newGame(dev *headless.Device, frames uint64) *Game {
	return &Game{
		ApplicationConfig: &ApplicationConfig{Name: "test", Frames: frames},
		FnInitialize: func(sm *systems.SystemManager, upload *graph.Graph) error {
			for _, m := range []struct {
				name      string
				triangles uint32
			}{{"cube", 12}, {"plane", 2}} {
				id, err := addMesh(dev, sm, upload, m.name, m.triangles)
				if err != nil {
					return err
				}
				if _, err := sm.Scene().AddInstance(systems.SceneInstance{Mesh: id, Transform: math.NewMat3x4Identity(), Mask: 0xFF}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func TestEngineRunsFrames(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	queue := &headless.Queue{}
	var updates int
	var rendered []uint32
	game := newGame(dev, 3)
	game.FnUpdate = func(*systems.SystemManager, float64) error {
		updates++
		return nil
	}
	game.FnRender = func(_ *systems.SystemManager, _ *graph.Graph, tlas *raytracing.Tlas) error {
		rendered = append(rendered, tlas.InstanceCount())
		return nil
	}

	e, err := New(game, dev, queue)
	require.NoError(t, err)
	require.Error(t, e.Run(context.Background()), "run before initialize")

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, EngineStageInitialized, e.Stage())
	require.NoError(t, e.Run(context.Background()))
	assert.EqualValues(t, 3, e.FrameNumber())
	assert.Equal(t, 3, updates)
	assert.Equal(t, []uint32{2, 2, 2}, rendered)
	assert.Zero(t, e.SystemManager().FramesInFlight())

	recs := queue.Recorders()
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"build bottom-level 12", "build bottom-level 2"}, recs[0].Events())
	for _, r := range recs[1:] {
		// The upload may still be retiring when the first frame is recorded.
		events := r.Events()
		require.NotEmpty(t, events)
		assert.Equal(t, "build top-level 2", events[len(events)-1])
		for _, ev := range events[:len(events)-1] {
			assert.Contains(t, ev, "pending")
		}
	}

	require.NoError(t, e.Shutdown())
	assert.Zero(t, dev.LiveStructures())
	assert.Zero(t, dev.LiveBuffers())
}

func TestEngineQuitEvent(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	game := newGame(dev, 0)
	game.FnUpdate = func(*systems.SystemManager, float64) error {
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
		return nil
	}

	e, err := New(game, dev, &headless.Queue{})
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Run(context.Background()))
	assert.EqualValues(t, 1, e.FrameNumber())
	require.NoError(t, e.Shutdown())
}

func TestEngineEmptyScene(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	queue := &headless.Queue{}
	var tlases []*raytracing.Tlas
	game := &Game{
		ApplicationConfig: &ApplicationConfig{Name: "empty", Frames: 2},
		FnRender: func(_ *systems.SystemManager, _ *graph.Graph, tlas *raytracing.Tlas) error {
			tlases = append(tlases, tlas)
			return nil
		},
	}
	e, err := New(game, dev, queue)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []*raytracing.Tlas{nil, nil}, tlases)
	assert.Len(t, queue.Recorders(), 2)
	require.NoError(t, e.Shutdown())
}

func TestEngineLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.toml")
	require.NoError(t, os.WriteFile(path, []byte("[raytracing]\nmax_frames_in_flight = 1\n"), 0o644))

	dev := headless.NewDevice(headless.DefaultConfig())
	game := newGame(dev, 2)
	game.ApplicationConfig.ConfigPath = path
	e, err := New(game, dev, &headless.Queue{})
	require.NoError(t, err)
	assert.Equal(t, 1, e.SystemManager().Config().RayTracing.MaxFramesInFlight)
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, e.Shutdown())

	game.ApplicationConfig.ConfigPath = filepath.Join(t.TempDir(), "missing.toml")
	_, err = New(game, dev, &headless.Queue{})
	assert.Error(t, err)
}
