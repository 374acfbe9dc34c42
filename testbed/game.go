package testbed

import (
	"encoding/binary"
	gomath "math"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

// Shader groups of the demo pipeline.
const (
	GroupRayGen uint32 = iota
	GroupMiss
	GroupShadowMiss
	GroupHit
	GroupCount
)

const (
	// The last cube bobs along y between -bobHeight and bobHeight.
	bobHeight float32 = 2.0
	bobSpeed  float32 = 1.0
	// The middle cube pulses by this fraction of its size.
	pulse float32 = 0.25
)

type TestGame struct {
	*engine.Game
}

type cube struct {
	name      string
	extent    float32
	transform *math.Transform
	mesh      systems.MeshID
	instance  systems.InstanceID
}

type gameState struct {
	pipeline raytracing.Pipeline
	sbt      *raytracing.SbtLayout
	cubes    []*cube

	elapsed        float64
	bobVelocity    float32
	framesRendered uint64
}

// NewTestGame builds a scene of three cubes, each parented to the previous
// one. pipeline may be nil, in which case no shader binding table is built.
func NewTestGame(config *engine.ApplicationConfig, pipeline raytracing.Pipeline) *TestGame {
	first := math.TransformCreate()
	second := math.TransformCreate()
	second.SetPosition(math.NewVec3(10.0, 0.0, 1.0))
	second.Parent = first
	third := math.TransformCreate()
	third.SetPosition(math.NewVec3(5.0, 0.0, 1.0))
	third.Parent = second

	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State: &gameState{
				pipeline:    pipeline,
				bobVelocity: bobSpeed,
				cubes: []*cube{
					{name: "test_cube", extent: 10.0, transform: first},
					{name: "test_cube_2", extent: 5.0, transform: second},
					{name: "test_cube_3", extent: 2.0, transform: third},
				},
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(sm *systems.SystemManager, upload *graph.Graph) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()

	for _, c := range state.cubes {
		mesh, err := createCube(sm.Device(), c.name, c.extent)
		if err != nil {
			return err
		}
		if c.mesh, err = sm.Scene().AddMesh(upload, mesh); err != nil {
			mesh.Index.Destroy()
			mesh.Vertex.Destroy()
			return err
		}
		c.instance, err = sm.Scene().AddInstance(systems.SceneInstance{
			Mesh:      c.mesh,
			Transform: c.transform.InstanceMatrix(),
			Mask:      0xFF,
			SBTOffset: 0,
			Flags:     metadata.InstanceFlagTriangleFacingCullDisable,
		})
		if err != nil {
			return err
		}
	}

	if state.pipeline == nil {
		core.LogWarn("no ray tracing pipeline, skipping the shader binding table")
		return nil
	}
	sbt, err := raytracing.NewSbtLayout(sm.Device(), state.pipeline, raytracing.ShaderGroups{
		RayGen: GroupRayGen,
		Miss:   []uint32{GroupMiss, GroupShadowMiss},
		Hit:    []uint32{GroupHit},
	})
	if err != nil {
		return err
	}
	state.sbt = sbt

	rgen, hit, miss, callable := sbt.Regions()
	core.LogInfo("shader binding table: %d bytes, handle stride %d", sbt.Size(), sbt.HandleStride())
	core.LogInfo("  raygen   addr=%#x stride=%d size=%d", rgen.DeviceAddress, rgen.Stride, rgen.Size)
	core.LogInfo("  miss     addr=%#x stride=%d size=%d", miss.DeviceAddress, miss.Stride, miss.Size)
	core.LogInfo("  hit      addr=%#x stride=%d size=%d", hit.DeviceAddress, hit.Stride, hit.Size)
	core.LogInfo("  callable addr=%#x stride=%d size=%d", callable.DeviceAddress, callable.Stride, callable.Size)
	return nil
}

func (g *TestGame) Update(sm *systems.SystemManager, deltaTime float64) error {
	state := g.state()

	state.elapsed += deltaTime
	up := math.NewVec3(0, 1, 0)

	// The root spins at a fixed rate. Children inherit it and add their own
	// spin on top.
	state.cubes[0].transform.SetRotation(math.NewQuatFromAxisAngle(up, float32(0.5*state.elapsed), false))
	rotation := math.NewQuatFromAxisAngle(up, float32(0.5*deltaTime), false)
	for _, c := range state.cubes[1:] {
		c.transform.Rotate(rotation)
	}

	s := 1 + pulse*float32(gomath.Sin(state.elapsed))
	state.cubes[1].transform.SetScale(math.NewVec3(s, s, s))

	bob := state.cubes[2].transform
	bob.Translate(math.NewVec3(0, state.bobVelocity*float32(deltaTime), 0))
	if y := bob.Position.Y; y > bobHeight || y < -bobHeight {
		p := bob.Position
		p.Y = bobHeight
		if y < 0 {
			p.Y = -bobHeight
		}
		bob.SetPosition(p)
		state.bobVelocity = -state.bobVelocity
	}

	for _, c := range state.cubes {
		if err := sm.Scene().SetTransform(c.instance, c.transform.InstanceMatrix()); err != nil {
			return err
		}
	}
	return nil
}

func (g *TestGame) Render(sm *systems.SystemManager, frame *graph.Graph, tlas *raytracing.Tlas) error {
	state := g.state()
	if tlas == nil {
		return errors.Newf("frame %s: the scene is empty", frame.Name())
	}

	order, err := frame.Resolve()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(order))
	for _, p := range order {
		names = append(names, p.Name())
	}
	core.LogDebug("frame %s: %d instances, passes %v", frame.Name(), tlas.InstanceCount(), names)
	state.framesRendered++
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	if state.sbt != nil {
		state.sbt.Destroy()
		state.sbt = nil
	}
	core.LogInfo("testbed rendered %d frames", state.framesRendered)
	return nil
}

// FramesRendered is the number of frames Render accepted.
func (g *TestGame) FramesRendered() uint64 {
	return g.state().framesRendered
}

// SBT is nil before Initialize and after Shutdown.
func (g *TestGame) SBT() *raytracing.SbtLayout {
	return g.state().sbt
}

// createCube uploads an axis aligned cube of the given edge length centered on
// the origin: 8 float3 vertices and 12 triangles of uint32 indices.
func createCube(dev raytracing.Device, name string, extent float32) (raytracing.MeshBuffers, error) {
	h := extent * 0.5
	vertices := make([]byte, 0, 8*12)
	for i := 0; i < 8; i++ {
		x, y, z := -h, -h, -h
		if i&1 != 0 {
			x = h
		}
		if i&2 != 0 {
			y = h
		}
		if i&4 != 0 {
			z = h
		}
		for _, v := range [3]float32{x, y, z} {
			vertices = binary.LittleEndian.AppendUint32(vertices, gomath.Float32bits(v))
		}
	}
	faces := [12][3]uint32{
		{0, 2, 1}, {1, 2, 3}, // -z
		{4, 5, 6}, {5, 7, 6}, // +z
		{0, 1, 4}, {1, 5, 4}, // -y
		{2, 6, 3}, {3, 6, 7}, // +y
		{0, 4, 2}, {2, 4, 6}, // -x
		{1, 3, 5}, {3, 7, 5}, // +x
	}
	indices := make([]byte, 0, len(faces)*12)
	for _, f := range faces {
		for _, i := range f {
			indices = binary.LittleEndian.AppendUint32(indices, i)
		}
	}

	usage := metadata.BufferUsageAccelerationStructureBuildInput | metadata.BufferUsageShaderDeviceAddress
	index, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-indices", Size: uint64(len(indices)), Usage: usage, HostVisible: true})
	if err != nil {
		return raytracing.MeshBuffers{}, err
	}
	vertex, err := dev.CreateBuffer(metadata.BufferDescription{Name: name + "-vertices", Size: uint64(len(vertices)), Usage: usage, HostVisible: true})
	if err != nil {
		index.Destroy()
		return raytracing.MeshBuffers{}, err
	}
	if err := errors.CombineErrors(index.Write(0, indices), vertex.Write(0, vertices)); err != nil {
		index.Destroy()
		vertex.Destroy()
		return raytracing.MeshBuffers{}, err
	}
	return raytracing.MeshBuffers{
		Name:           name,
		Index:          index,
		Vertex:         vertex,
		VertexStride:   12,
		VertexCount:    8,
		PrimitiveCount: uint32(len(faces)),
		VertexFormat:   metadata.VertexFormatR32G32B32Sfloat,
		IndexType:      metadata.IndexTypeUint32,
		Opaque:         true,
	}, nil
}
