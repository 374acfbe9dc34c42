package systems

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

type MeshID uint32
type InstanceID uint32

var ErrUnknownMesh = errors.New("unknown mesh")
var ErrUnknownInstance = errors.New("unknown instance")
var ErrMeshInUse = errors.New("mesh is referenced by instances")

// SceneInstance places a mesh in the scene.
type SceneInstance struct {
	Mesh        MeshID
	Transform   math.Mat3x4
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       metadata.InstanceFlags
}

/** @brief The scene system configuration. */
type SceneSystemConfig struct {
	// Name prefix of the top-level structures built by the system.
	Name             string
	MaxMeshCount     int
	MaxInstanceCount int
}

// SceneSystem owns the bottom-level structures of a scene and the instances
// placing them. Each BuildTopLevel call builds a fresh top-level structure.
type SceneSystem struct {
	Config *SceneSystemConfig

	device raytracing.Device
	pool   *raytracing.ScratchPool

	mu        sync.Mutex
	meshes    *containers.Arena[MeshID, *raytracing.Blas]
	instances *containers.Arena[InstanceID, SceneInstance]
	refs      map[MeshID]int
	builds    int
}

func NewSceneSystem(config *SceneSystemConfig, device raytracing.Device, pool *raytracing.ScratchPool) (*SceneSystem, error) {
	if config.MaxMeshCount <= 0 || config.MaxInstanceCount <= 0 {
		err := errors.New("func NewSceneSystem - config.MaxMeshCount and config.MaxInstanceCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.Name == "" {
		config.Name = "scene"
	}
	return &SceneSystem{
		Config:    config,
		device:    device,
		pool:      pool,
		meshes:    containers.NewArena[MeshID, *raytracing.Blas](config.MaxMeshCount),
		instances: containers.NewArena[InstanceID, SceneInstance](config.MaxInstanceCount),
		refs:      make(map[MeshID]int),
	}, nil
}

/**
 * @brief Destroys every mesh. Top-level structures built by the system are
 * owned by the caller and must be destroyed first.
 */
func (ss *SceneSystem) Shutdown() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.meshes.Each(func(_ MeshID, b *raytracing.Blas) bool {
		b.Destroy()
		return true
	})
	ss.meshes = containers.NewArena[MeshID, *raytracing.Blas](ss.Config.MaxMeshCount)
	ss.instances = containers.NewArena[InstanceID, SceneInstance](ss.Config.MaxInstanceCount)
	ss.refs = make(map[MeshID]int)
	return nil
}

// AddMesh schedules the bottom-level build of mesh in g. The scene takes
// ownership of the mesh buffers.
func (ss *SceneSystem) AddMesh(g *graph.Graph, mesh raytracing.MeshBuffers) (MeshID, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.meshes.Len() >= ss.Config.MaxMeshCount {
		err := errors.Newf("scene %s: mesh limit %d reached", ss.Config.Name, ss.Config.MaxMeshCount)
		core.LogError(err.Error())
		return 0, err
	}
	b, err := raytracing.NewBlas(g, ss.device, ss.pool, mesh)
	if err != nil {
		return 0, err
	}
	id := ss.meshes.Insert(b)
	core.LogDebug("scene %s: mesh '%s' added as %d", ss.Config.Name, mesh.Name, id)
	return id, nil
}

func (ss *SceneSystem) Mesh(id MeshID) (*raytracing.Blas, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.meshes.Get(id)
}

// RemoveMesh destroys the mesh. It fails with ErrMeshInUse while an instance
// references it.
func (ss *SceneSystem) RemoveMesh(id MeshID) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, ok := ss.meshes.Get(id); !ok {
		return errors.Wrapf(ErrUnknownMesh, "scene %s: mesh %d", ss.Config.Name, id)
	}
	if n := ss.refs[id]; n > 0 {
		return errors.Wrapf(ErrMeshInUse, "scene %s: mesh %d has %d instances", ss.Config.Name, id, n)
	}
	b, err := ss.meshes.Remove(id)
	if err != nil {
		return err
	}
	b.Destroy()
	delete(ss.refs, id)
	return nil
}

func (ss *SceneSystem) AddInstance(inst SceneInstance) (InstanceID, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	b, ok := ss.meshes.Get(inst.Mesh)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownMesh, "scene %s: instance of mesh %d", ss.Config.Name, inst.Mesh)
	}
	if ss.instances.Len() >= ss.Config.MaxInstanceCount {
		err := errors.Newf("scene %s: instance limit %d reached", ss.Config.Name, ss.Config.MaxInstanceCount)
		core.LogError(err.Error())
		return 0, err
	}
	if err := (metadata.InstanceRecord{
		CustomIndex:       inst.CustomIndex,
		SBTOffset:         inst.SBTOffset,
		BlasDeviceAddress: b.DeviceAddress(),
	}).Validate(); err != nil {
		return 0, err
	}
	ss.refs[inst.Mesh]++
	return ss.instances.Insert(inst), nil
}

func (ss *SceneSystem) RemoveInstance(id InstanceID) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	inst, err := ss.instances.Remove(id)
	if err != nil {
		return errors.Wrapf(ErrUnknownInstance, "scene %s: %s", ss.Config.Name, err)
	}
	ss.refs[inst.Mesh]--
	return nil
}

// SetTransform moves an instance. The change shows up in the next BuildTopLevel.
func (ss *SceneSystem) SetTransform(id InstanceID, transform math.Mat3x4) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	inst, ok := ss.instances.Get(id)
	if !ok {
		return errors.Wrapf(ErrUnknownInstance, "scene %s: instance %d", ss.Config.Name, id)
	}
	inst.Transform = transform
	ss.instances.Set(id, inst)
	return nil
}

func (ss *SceneSystem) MeshCount() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.meshes.Len()
}

func (ss *SceneSystem) InstanceCount() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.instances.Len()
}

// BuildTopLevel schedules a top-level build over every instance, in instance
// id order. It returns nil when the scene has no instances. The caller owns
// the result and destroys it once the frames using it have retired.
func (ss *SceneSystem) BuildTopLevel(g *graph.Graph) (*raytracing.Tlas, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	instances := make([]raytracing.Instance, 0, ss.instances.Len())
	ss.instances.Each(func(_ InstanceID, inst SceneInstance) bool {
		b, _ := ss.meshes.Get(inst.Mesh)
		instances = append(instances, raytracing.Instance{
			Blas:        b,
			Transform:   inst.Transform,
			CustomIndex: inst.CustomIndex,
			Mask:        inst.Mask,
			SBTOffset:   inst.SBTOffset,
			Flags:       inst.Flags,
		})
		return true
	})

	name := fmt.Sprintf("%s-%d", ss.Config.Name, ss.builds)
	t, err := raytracing.NewTlas(g, ss.device, ss.pool, name, instances)
	if err != nil {
		return nil, err
	}
	ss.builds++
	return t, nil
}
