package raytracing

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// MeshBuffers is the triangle geometry a bottom-level structure is built from.
// The structure takes ownership of Index and Vertex: wrap them with Share when
// something else keeps using them.
type MeshBuffers struct {
	Name           string
	Index          Buffer
	Vertex         Buffer
	VertexStride   uint32
	VertexCount    uint32
	PrimitiveCount uint32
	VertexFormat   metadata.VertexFormat
	IndexType      metadata.IndexType
	Opaque         bool
}

func (m MeshBuffers) validate() error {
	if m.Name == "" {
		return errors.New("blas: mesh has no name")
	}
	if m.Index == nil || m.Vertex == nil {
		return errors.Newf("blas %s: index and vertex buffers are required", m.Name)
	}
	if m.VertexStride == 0 {
		return errors.Newf("blas %s: vertex stride is zero", m.Name)
	}
	indices := uint64(m.PrimitiveCount) * 3 * uint64(m.IndexType.Size())
	if indices > m.Index.Size() {
		return errors.Newf("blas %s: %d triangles need %d index bytes, buffer holds %d",
			m.Name, m.PrimitiveCount, indices, m.Index.Size())
	}
	return nil
}

// buildState guards a BuildState shared with completion hooks.
type buildState struct {
	mu    sync.Mutex
	state metadata.BuildState
}

func (s *buildState) advance(next metadata.BuildState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state.Advance(next)
	if err != nil {
		return err
	}
	s.state = st
	return nil
}

func (s *buildState) get() metadata.BuildState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

/**
 * @brief A bottom-level acceleration structure over one mesh. It owns the
 * structure, its storage buffer and the mesh buffers it was built from.
 */
type Blas struct {
	name      string
	mesh      MeshBuffers
	sizes     metadata.BuildSizeInfo
	storage   Buffer
	structure AccelerationStructure
	node      graph.Node
	state     buildState
}

// NewBlas sizes and allocates the structure for mesh and declares its build
// as pass "blas/<name>" on g. The build runs when g is submitted.
func NewBlas(g *graph.Graph, dev Device, pool *ScratchPool, mesh MeshBuffers) (*Blas, error) {
	if err := mesh.validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	b := &Blas{name: mesh.Name, mesh: mesh}
	geometry := metadata.GeometryDescription{
		IndexBufferAddress:  mesh.Index.DeviceAddress(),
		VertexBufferAddress: mesh.Vertex.DeviceAddress(),
		VertexStride:        mesh.VertexStride,
		PrimitiveCount:      mesh.PrimitiveCount,
		VertexFormat:        mesh.VertexFormat,
		IndexType:           mesh.IndexType,
		Opaque:              mesh.Opaque,
	}
	if mesh.VertexCount > 0 {
		geometry.MaxVertex = mesh.VertexCount - 1
	}
	info := metadata.BuildGeometryInfo{
		Type:      metadata.AccelerationStructureTypeBottomLevel,
		Triangles: geometry,
	}

	sizes, err := dev.QueryBuildSizes(info)
	if err != nil {
		err = errors.Wrapf(err, "blas %s: querying build sizes", b.name)
		core.LogError(err.Error())
		return nil, err
	}
	b.sizes = sizes
	if err := b.state.advance(metadata.BuildStateSizeQueried); err != nil {
		return nil, errors.Wrapf(err, "blas %s", b.name)
	}

	storage, structure, err := allocateStructure(dev, b.name, info.Type, sizes)
	if err != nil {
		return nil, err
	}
	b.storage = storage
	b.structure = structure
	if err := b.state.advance(metadata.BuildStateAllocated); err != nil {
		structure.Destroy()
		storage.Destroy()
		return nil, errors.Wrapf(err, "blas %s", b.name)
	}

	indexNode := g.Bind(b.name+"/index", mesh.Index)
	vertexNode := g.Bind(b.name+"/vertex", mesh.Vertex)
	b.node = g.Bind(b.name, structure)
	scratchNode := g.BindLease(b.name+"/scratch", pool, sizes.BuildScratchSize)

	err = g.BeginPass("blas/" + b.name).
		Read(indexNode).
		Read(vertexNode).
		Write(b.node).
		Write(scratchNode).
		OnComplete(b.markBuilt).
		Record(func(cmd graph.CommandBuffer, res *graph.Resources) error {
			rec, err := recorderFrom(cmd)
			if err != nil {
				return err
			}
			scratch, err := graph.Resource[*ScratchLease](res, scratchNode)
			if err != nil {
				return err
			}
			return rec.BuildAccelerationStructure(BuildCommand{
				Geometry:       info,
				Destination:    structure,
				ScratchAddress: scratch.DeviceAddress(),
			}, []metadata.BuildRange{{PrimitiveCount: mesh.PrimitiveCount}})
		})
	if err != nil {
		structure.Destroy()
		storage.Destroy()
		return nil, errors.Wrapf(err, "blas %s: declaring build pass", b.name)
	}
	if err := b.state.advance(metadata.BuildStateBuildScheduled); err != nil {
		// The pass is registered; leave teardown to Destroy.
		core.LogWarn("blas %s: %s", b.name, err.Error())
	}

	core.Metrics().AddBlasBuild()
	core.LogDebug("blas %s: %d triangles, %d bytes, %d scratch", b.name, mesh.PrimitiveCount, sizes.ResultSize, sizes.BuildScratchSize)
	return b, nil
}

// allocateStructure creates the storage buffer and the structure placed in it.
// Nothing survives a failure.
func allocateStructure(dev Device, name string, kind metadata.AccelerationStructureType, sizes metadata.BuildSizeInfo) (Buffer, AccelerationStructure, error) {
	if sizes.ResultSize == 0 {
		err := errors.Wrapf(core.ErrAllocationFailure, "%s %s: device reported a zero result size", kind, name)
		core.LogError(err.Error())
		return nil, nil, err
	}
	storage, err := dev.CreateBuffer(metadata.BufferDescription{
		Name:  name + "/storage",
		Size:  sizes.ResultSize,
		Usage: metadata.BufferUsageAccelerationStructureStorage | metadata.BufferUsageShaderDeviceAddress,
	})
	if err != nil {
		err = allocationError(err, "%s %s: allocating %d bytes of storage", kind, name, sizes.ResultSize)
		core.LogError(err.Error())
		return nil, nil, err
	}
	structure, err := dev.CreateAccelerationStructure(kind, storage, sizes.ResultSize)
	if err != nil {
		storage.Destroy()
		err = allocationError(err, "%s %s: creating structure", kind, name)
		core.LogError(err.Error())
		return nil, nil, err
	}
	return storage, structure, nil
}

func (b *Blas) markBuilt() {
	if err := b.state.advance(metadata.BuildStateBuilt); err != nil {
		core.LogWarn("blas %s: %s", b.name, err.Error())
	}
}

func (b *Blas) Name() string {
	return b.name
}

// Node is the graph node of the structure on the graph it was declared on.
func (b *Blas) Node() graph.Node {
	return b.node
}

// DeviceAddress is zero once b is destroyed.
func (b *Blas) DeviceAddress() uint64 {
	if b.structure == nil {
		return 0
	}
	return b.structure.DeviceAddress()
}

func (b *Blas) Structure() AccelerationStructure {
	return b.structure
}

func (b *Blas) State() metadata.BuildState {
	return b.state.get()
}

func (b *Blas) PrimitiveCount() uint32 {
	return b.mesh.PrimitiveCount
}

// BuildSizes is what the device reported for this build.
func (b *Blas) BuildSizes() metadata.BuildSizeInfo {
	return b.sizes
}

// Destroy releases the structure, its storage and the mesh buffers. Every
// top-level structure referencing b must be destroyed first.
func (b *Blas) Destroy() {
	if b.structure == nil {
		return
	}
	b.structure.Destroy()
	b.storage.Destroy()
	b.mesh.Index.Destroy()
	b.mesh.Vertex.Destroy()
	b.structure = nil
	b.storage = nil
}
