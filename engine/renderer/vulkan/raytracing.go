package vulkan

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

// AccelerationStructureHandle is a VkAccelerationStructureKHR.
type AccelerationStructureHandle uint64

/**
 * @brief The KHR ray tracing entry points, loaded by the embedding renderer
 * through vkGetDeviceProcAddr. Everything else goes through goki/vulkan.
 */
type RayTracingExtension interface {
	// FeatureChain is chained behind the Vulkan 1.2 features at device creation
	// to enable the acceleration structure and ray tracing pipeline features.
	FeatureChain() unsafe.Pointer
	PipelineProperties(physical vk.PhysicalDevice) (metadata.AlignmentSpec, bool)
	AccelerationStructureProperties(physical vk.PhysicalDevice) (metadata.AccelerationStructureProperties, bool)
	BufferDeviceAddress(device vk.Device, buffer vk.Buffer) uint64
	BuildSizes(device vk.Device, info metadata.BuildGeometryInfo) metadata.BuildSizeInfo
	CreateAccelerationStructure(device vk.Device, kind metadata.AccelerationStructureType, buffer vk.Buffer, size uint64) (AccelerationStructureHandle, uint64, vk.Result)
	DestroyAccelerationStructure(device vk.Device, handle AccelerationStructureHandle)
	ShaderGroupHandles(device vk.Device, pipeline vk.Pipeline, firstGroup, groupCount uint32, dataSize uint32) ([]byte, vk.Result)
	CmdBuildAccelerationStructure(cmd vk.CommandBuffer, info metadata.BuildGeometryInfo, dst AccelerationStructureHandle, scratchAddress uint64, ranges []metadata.BuildRange)
}

// VulkanRayTracingDevice exposes a logical device to the acceleration
// structure and shader binding table builders.
type VulkanRayTracingDevice struct {
	context *VulkanContext
}

func NewRayTracingDevice(context *VulkanContext) (*VulkanRayTracingDevice, error) {
	if context.Extension == nil {
		err := errors.Wrap(core.ErrUnsupported, "no ray tracing extension loaded")
		core.LogError(err.Error())
		return nil, err
	}
	if err := CheckRayTracingSupport(context.Device.PhysicalDevice); err != nil {
		return nil, err
	}
	return &VulkanRayTracingDevice{context: context}, nil
}

func (d *VulkanRayTracingDevice) RayTracingProperties() (metadata.AlignmentSpec, error) {
	props, ok := d.context.Extension.PipelineProperties(d.context.Device.PhysicalDevice)
	if !ok {
		return metadata.AlignmentSpec{}, errors.Wrap(core.ErrUnsupported, "ray tracing pipeline properties not reported")
	}
	return props, nil
}

func (d *VulkanRayTracingDevice) AccelerationStructureProperties() (metadata.AccelerationStructureProperties, error) {
	props, ok := d.context.Extension.AccelerationStructureProperties(d.context.Device.PhysicalDevice)
	if !ok {
		return metadata.AccelerationStructureProperties{}, errors.Wrap(core.ErrUnsupported, "acceleration structure properties not reported")
	}
	return props, nil
}

func (d *VulkanRayTracingDevice) CreateBuffer(desc metadata.BufferDescription) (raytracing.Buffer, error) {
	b, err := NewVulkanBuffer(d.context, desc)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *VulkanRayTracingDevice) CreateAccelerationStructure(kind metadata.AccelerationStructureType, storage raytracing.Buffer, size uint64) (raytracing.AccelerationStructure, error) {
	vb, ok := storage.(*VulkanBuffer)
	if !ok {
		return nil, errors.Newf("%s structure: storage %T is not a device buffer", kind, storage)
	}
	var as *VulkanAccelerationStructure
	err := d.context.Locks.SafeCall(ResourceManagement, func() error {
		handle, address, res := d.context.Extension.CreateAccelerationStructure(d.context.Device.LogicalDevice, kind, vb.Handle, size)
		if err := ResultError(res, "vkCreateAccelerationStructureKHR"); err != nil {
			return err
		}
		as = &VulkanAccelerationStructure{context: d.context, Handle: handle, kind: kind, size: size, address: address}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s structure in %s", kind, vb.name)
	}
	return as, nil
}

func (d *VulkanRayTracingDevice) QueryBuildSizes(info metadata.BuildGeometryInfo) (metadata.BuildSizeInfo, error) {
	return d.context.Extension.BuildSizes(d.context.Device.LogicalDevice, info), nil
}

type VulkanAccelerationStructure struct {
	context *VulkanContext
	Handle  AccelerationStructureHandle
	kind    metadata.AccelerationStructureType
	size    uint64
	address uint64
}

func (a *VulkanAccelerationStructure) Type() metadata.AccelerationStructureType {
	return a.kind
}

func (a *VulkanAccelerationStructure) Size() uint64 {
	return a.size
}

func (a *VulkanAccelerationStructure) DeviceAddress() uint64 {
	return a.address
}

func (a *VulkanAccelerationStructure) Destroy() {
	if a.Handle != 0 {
		a.context.Extension.DestroyAccelerationStructure(a.context.Device.LogicalDevice, a.Handle)
		a.Handle = 0
	}
}

// VulkanRayTracingPipeline reads the group handles of a compiled pipeline
// once and serves them from memory.
type VulkanRayTracingPipeline struct {
	context    *VulkanContext
	Handle     vk.Pipeline
	groupCount uint32

	once       sync.Once
	handleSize uint32
	handles    []byte
	err        error
}

func NewRayTracingPipeline(context *VulkanContext, handle vk.Pipeline, groupCount uint32) *VulkanRayTracingPipeline {
	return &VulkanRayTracingPipeline{context: context, Handle: handle, groupCount: groupCount}
}

func (p *VulkanRayTracingPipeline) load() {
	props, ok := p.context.Extension.PipelineProperties(p.context.Device.PhysicalDevice)
	if !ok {
		p.err = errors.Wrap(core.ErrUnsupported, "ray tracing pipeline properties not reported")
		return
	}
	p.handleSize = props.HandleSize
	data, res := p.context.Extension.ShaderGroupHandles(p.context.Device.LogicalDevice, p.Handle, 0, p.groupCount, p.groupCount*props.HandleSize)
	if err := ResultError(res, "vkGetRayTracingShaderGroupHandlesKHR"); err != nil {
		p.err = err
		return
	}
	p.handles = data
}

func (p *VulkanRayTracingPipeline) GroupHandle(group uint32) ([]byte, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}
	if group >= p.groupCount {
		return nil, errors.Wrapf(core.ErrInvalidShaderGroup, "pipeline has %d groups, asked for %d", p.groupCount, group)
	}
	start := group * p.handleSize
	end := start + p.handleSize
	if int(end) > len(p.handles) {
		return nil, errors.Wrapf(core.ErrInvalidShaderGroup, "group %d: driver returned %d handle bytes", group, len(p.handles))
	}
	return append([]byte(nil), p.handles[start:end]...), nil
}
