package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type VulkanBuffer struct {
	context *VulkanContext

	Handle vk.Buffer
	Memory vk.DeviceMemory

	name          string
	size          uint64
	usage         metadata.BufferUsage
	hostVisible   bool
	deviceAddress uint64
}

// BufferUsageFlags converts usage into the device bit mask.
func BufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	var flags uint32
	if usage.Has(metadata.BufferUsageTransferDst) {
		flags |= uint32(vk.BufferUsageTransferDstBit)
	}
	if usage.Has(metadata.BufferUsageStorage) {
		flags |= uint32(vk.BufferUsageStorageBufferBit)
	}
	if usage.Has(metadata.BufferUsageShaderDeviceAddress) {
		flags |= bufferUsageShaderDeviceAddressBit
	}
	if usage.Has(metadata.BufferUsageShaderBindingTable) {
		flags |= bufferUsageShaderBindingTableBit
	}
	if usage.Has(metadata.BufferUsageAccelerationStructureStorage) {
		flags |= bufferUsageAccelerationStructureStorageBit
	}
	if usage.Has(metadata.BufferUsageAccelerationStructureBuildInput) {
		flags |= bufferUsageAccelerationStructureBuildInputBit
	}
	return vk.BufferUsageFlags(flags)
}

func memoryPropertyFlags(hostVisible bool) uint32 {
	if hostVisible {
		return uint32(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return uint32(vk.MemoryPropertyDeviceLocalBit)
}

func NewVulkanBuffer(context *VulkanContext, desc metadata.BufferDescription) (*VulkanBuffer, error) {
	if desc.Size == 0 {
		err := errors.Wrapf(core.ErrAllocationFailure, "buffer %s: zero size", desc.Name)
		core.LogError(err.Error())
		return nil, err
	}

	buffer := &VulkanBuffer{
		context:     context,
		name:        desc.Name,
		size:        desc.Size,
		usage:       desc.Usage,
		hostVisible: desc.HostVisible,
	}

	err := context.Locks.SafeCall(BufferManagement, func() error {
		bufferInfo := vk.BufferCreateInfo{
			SType:       vk.StructureTypeBufferCreateInfo,
			Size:        vk.DeviceSize(desc.Size),
			Usage:       BufferUsageFlags(desc.Usage),
			SharingMode: vk.SharingModeExclusive,
		}
		var handle vk.Buffer
		if err := ResultError(vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &handle), "vkCreateBuffer"); err != nil {
			return err
		}
		buffer.Handle = handle

		var memReqs vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, handle, &memReqs)
		memReqs.Deref()

		index := context.FindMemoryIndex(memReqs.MemoryTypeBits, memoryPropertyFlags(desc.HostVisible))
		if index < 0 {
			return errors.Wrap(core.ErrAllocationFailure, "no suitable memory type")
		}

		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memReqs.Size,
			MemoryTypeIndex: uint32(index),
		}
		if desc.Usage.Has(metadata.BufferUsageShaderDeviceAddress) {
			allocInfo.PNext = unsafe.Pointer(&vk.MemoryAllocateFlagsInfo{
				SType: vk.StructureTypeMemoryAllocateFlagsInfo,
				Flags: vk.MemoryAllocateFlags(memoryAllocateDeviceAddressBit),
			})
		}
		var memory vk.DeviceMemory
		if err := ResultError(vk.AllocateMemory(context.Device.LogicalDevice, &allocInfo, context.Allocator, &memory), "vkAllocateMemory"); err != nil {
			return err
		}
		buffer.Memory = memory

		return ResultError(vk.BindBufferMemory(context.Device.LogicalDevice, handle, memory, 0), "vkBindBufferMemory")
	})
	if err != nil {
		buffer.Destroy()
		err = errors.Wrapf(err, "buffer %s (%d bytes, %s)", desc.Name, desc.Size, desc.Usage)
		core.LogError(err.Error())
		return nil, err
	}

	if desc.Usage.Has(metadata.BufferUsageShaderDeviceAddress) {
		buffer.deviceAddress = context.Extension.BufferDeviceAddress(context.Device.LogicalDevice, buffer.Handle)
	}
	return buffer, nil
}

func (b *VulkanBuffer) Name() string {
	return b.name
}

func (b *VulkanBuffer) Size() uint64 {
	return b.size
}

func (b *VulkanBuffer) DeviceAddress() uint64 {
	return b.deviceAddress
}

// Write maps the buffer memory and copies p at offset.
func (b *VulkanBuffer) Write(offset uint64, p []byte) error {
	if !b.hostVisible {
		return errors.Newf("buffer %s: not host visible", b.name)
	}
	if offset+uint64(len(p)) > b.size {
		return errors.Newf("buffer %s: write of %d bytes at %d overflows %d", b.name, len(p), offset, b.size)
	}
	if len(p) == 0 {
		return nil
	}
	var data unsafe.Pointer
	if err := ResultError(vk.MapMemory(b.context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(p)), 0, &data), "vkMapMemory"); err != nil {
		return errors.Wrapf(err, "buffer %s", b.name)
	}
	vk.Memcopy(data, p)
	vk.UnmapMemory(b.context.Device.LogicalDevice, b.Memory)
	return nil
}

func (b *VulkanBuffer) Destroy() {
	if b.Handle != nil {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, b.Handle, b.context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(b.context.Device.LogicalDevice, b.Memory, b.context.Allocator)
		b.Memory = nil
	}
	b.deviceAddress = 0
}
