package raytracing

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Instance places a bottom-level structure in the scene.
type Instance struct {
	Blas        *Blas
	Transform   math.Mat3x4
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       metadata.InstanceFlags
}

func (i Instance) record() metadata.InstanceRecord {
	return metadata.InstanceRecord{
		Transform:         i.Transform,
		CustomIndex:       i.CustomIndex,
		Mask:              i.Mask,
		SBTOffset:         i.SBTOffset,
		Flags:             i.Flags,
		BlasDeviceAddress: i.Blas.DeviceAddress(),
	}
}

/**
 * @brief A top-level acceleration structure over a set of instances. It only
 * holds the device addresses of the bottom-level structures it references,
 * so those must outlive it.
 */
type Tlas struct {
	name          string
	instanceCount uint32
	sizes         metadata.BuildSizeInfo
	storage       Buffer
	structure     AccelerationStructure
	node          graph.Node
	state         buildState

	mu        sync.Mutex
	instances Buffer
}

// NewTlas declares the build of a top-level structure over instances as pass
// "tlas/<name>" on g. With no instances there is nothing to trace against and
// it returns nil without error.
func NewTlas(g *graph.Graph, dev Device, pool *ScratchPool, name string, instances []Instance) (*Tlas, error) {
	if len(instances) == 0 {
		core.LogDebug("tlas %s: no instances, nothing to build", name)
		return nil, nil
	}

	records := make([]metadata.InstanceRecord, len(instances))
	var blases []*Blas
	for i, inst := range instances {
		if inst.Blas == nil {
			err := errors.Newf("tlas %s: instance %d references no bottom-level structure", name, i)
			core.LogError(err.Error())
			return nil, err
		}
		if inst.Blas.Structure() == nil {
			err := errors.Newf("tlas %s: instance %d references destroyed structure %s", name, i, inst.Blas.name)
			core.LogError(err.Error())
			return nil, err
		}
		records[i] = inst.record()
		if err := records[i].Validate(); err != nil {
			err = errors.Wrapf(err, "tlas %s: instance %d", name, i)
			core.LogError(err.Error())
			return nil, err
		}
		if !containsBlas(blases, inst.Blas) {
			blases = append(blases, inst.Blas)
		}
	}

	t := &Tlas{name: name, instanceCount: uint32(len(instances))}
	data := metadata.EncodeInstances(records)
	instanceBuffer, err := dev.CreateBuffer(metadata.BufferDescription{
		Name:        name + "/instances",
		Size:        uint64(len(data)),
		Usage:       metadata.BufferUsageAccelerationStructureBuildInput | metadata.BufferUsageShaderDeviceAddress,
		HostVisible: true,
	})
	if err != nil {
		err = allocationError(err, "tlas %s: allocating instance buffer", name)
		core.LogError(err.Error())
		return nil, err
	}
	if err := instanceBuffer.Write(0, data); err != nil {
		instanceBuffer.Destroy()
		err = errors.Wrapf(err, "tlas %s: writing instances", name)
		core.LogError(err.Error())
		return nil, err
	}
	t.instances = instanceBuffer

	info := metadata.BuildGeometryInfo{
		Type:                  metadata.AccelerationStructureTypeTopLevel,
		InstanceCount:         t.instanceCount,
		InstanceBufferAddress: instanceBuffer.DeviceAddress(),
	}
	sizes, err := dev.QueryBuildSizes(info)
	if err != nil {
		instanceBuffer.Destroy()
		err = errors.Wrapf(err, "tlas %s: querying build sizes", name)
		core.LogError(err.Error())
		return nil, err
	}
	t.sizes = sizes
	if err := t.state.advance(metadata.BuildStateSizeQueried); err != nil {
		instanceBuffer.Destroy()
		return nil, errors.Wrapf(err, "tlas %s", name)
	}

	storage, structure, err := allocateStructure(dev, name, info.Type, sizes)
	if err != nil {
		instanceBuffer.Destroy()
		return nil, err
	}
	t.storage = storage
	t.structure = structure
	if err := t.state.advance(metadata.BuildStateAllocated); err != nil {
		structure.Destroy()
		storage.Destroy()
		instanceBuffer.Destroy()
		return nil, errors.Wrapf(err, "tlas %s", name)
	}

	instanceNode := g.Bind(name+"/instances", instanceBuffer)
	t.node = g.Bind(name, structure)
	scratchNode := g.BindLease(name+"/scratch", pool, sizes.BuildScratchSize)

	pass := g.BeginPass("tlas/" + name).Read(instanceNode)
	for _, b := range blases {
		if b.State() == metadata.BuildStateBuilt {
			pass.Access(g.Bind(b.name, b.structure), graph.AccessRead)
			continue
		}
		// Declared on g, the build is ordered after it. Otherwise an earlier
		// submission may still be building it and g records a barrier first.
		pass.Access(g.BindPending(b.name, b.structure), graph.AccessRead)
	}
	err = pass.
		Write(t.node).
		Write(scratchNode).
		OnComplete(t.markBuilt).
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
			}, []metadata.BuildRange{{PrimitiveCount: t.instanceCount}})
		})
	if err != nil {
		structure.Destroy()
		storage.Destroy()
		instanceBuffer.Destroy()
		return nil, errors.Wrapf(err, "tlas %s: declaring build pass", name)
	}
	if err := t.state.advance(metadata.BuildStateBuildScheduled); err != nil {
		// The pass is registered; leave teardown to Destroy.
		core.LogWarn("tlas %s: %s", name, err.Error())
	}

	core.Metrics().AddTlasBuild()
	core.LogDebug("tlas %s: %d instances over %d structures, %d bytes", name, len(instances), len(blases), sizes.ResultSize)
	return t, nil
}

// NewTlasStrict is NewTlas for callers that treat an empty scene as an error.
func NewTlasStrict(g *graph.Graph, dev Device, pool *ScratchPool, name string, instances []Instance) (*Tlas, error) {
	if len(instances) == 0 {
		return nil, errors.Wrapf(core.ErrEmptyInstanceSet, "tlas %s", name)
	}
	return NewTlas(g, dev, pool, name, instances)
}

func containsBlas(list []*Blas, b *Blas) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

// markBuilt runs once the build has retired; the instance buffer is only read
// by the build, so it goes away here.
func (t *Tlas) markBuilt() {
	if err := t.state.advance(metadata.BuildStateBuilt); err != nil {
		core.LogWarn("tlas %s: %s", t.name, err.Error())
	}
	t.releaseInstances()
}

func (t *Tlas) releaseInstances() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.instances != nil {
		t.instances.Destroy()
		t.instances = nil
	}
}

func (t *Tlas) Name() string {
	return t.name
}

func (t *Tlas) Node() graph.Node {
	return t.node
}

// DeviceAddress is zero once t is destroyed.
func (t *Tlas) DeviceAddress() uint64 {
	if t.structure == nil {
		return 0
	}
	return t.structure.DeviceAddress()
}

func (t *Tlas) Structure() AccelerationStructure {
	return t.structure
}

func (t *Tlas) State() metadata.BuildState {
	return t.state.get()
}

func (t *Tlas) InstanceCount() uint32 {
	return t.instanceCount
}

func (t *Tlas) BuildSizes() metadata.BuildSizeInfo {
	return t.sizes
}

// HasInstanceBuffer reports whether the instance buffer is still alive.
func (t *Tlas) HasInstanceBuffer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.instances != nil
}

func (t *Tlas) Destroy() {
	t.releaseInstances()
	if t.structure == nil {
		return
	}
	t.structure.Destroy()
	t.storage.Destroy()
	t.structure = nil
	t.storage = nil
}
