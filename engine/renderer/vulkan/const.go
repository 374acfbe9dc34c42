package vulkan

// Bits introduced by VK_KHR_buffer_device_address, VK_KHR_acceleration_structure
// and VK_KHR_ray_tracing_pipeline, as defined in the Vulkan registry.

const (
	bufferUsageShaderDeviceAddressBit             uint32 = 0x00020000
	bufferUsageShaderBindingTableBit              uint32 = 0x00000400
	bufferUsageAccelerationStructureBuildInputBit uint32 = 0x00080000
	bufferUsageAccelerationStructureStorageBit    uint32 = 0x00100000
	memoryAllocateDeviceAddressBit                uint32 = 0x00000002
	pipelineStageAccelerationStructureBuildBit    uint32 = 0x02000000
	pipelineStageRayTracingShaderBit              uint32 = 0x00200000
	accessAccelerationStructureReadBit            uint32 = 0x00200000
	accessAccelerationStructureWriteBit           uint32 = 0x00400000
)

const (
	KhrAccelerationStructureExtensionName  = "VK_KHR_acceleration_structure"
	KhrRayTracingPipelineExtensionName     = "VK_KHR_ray_tracing_pipeline"
	KhrDeferredHostOperationsExtensionName = "VK_KHR_deferred_host_operations"
	KhrBufferDeviceAddressExtensionName    = "VK_KHR_buffer_device_address"
)

// RayTracingDeviceExtensions must all be present on a device used for ray tracing.
var RayTracingDeviceExtensions = []string{
	KhrAccelerationStructureExtensionName,
	KhrRayTracingPipelineExtensionName,
	KhrDeferredHostOperationsExtensionName,
	KhrBufferDeviceAddressExtensionName,
}

// Fence waits poll in slices of this many nanoseconds so a context can cancel them.
const fenceWaitSliceNs uint64 = 1_000_000
