package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer records graph passes. Build commands are forwarded to
// the ray tracing extension.
type VulkanCommandBuffer struct {
	context *VulkanContext
	Handle  vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		context: context,
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	handles := make([]vk.CommandBuffer, 1)
	if err := ResultError(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(pool vk.CommandPool) {
	vk.FreeCommandBuffers(v.context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if err := ResultError(vk.BeginCommandBuffer(v.Handle, beginInfo), "vkBeginCommandBuffer"); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if err := ResultError(vk.EndCommandBuffer(v.Handle), "vkEndCommandBuffer"); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

// BarrierMasks returns the stage and access masks guarding a barrier between
// acceleration structure builds and their consumers.
func BarrierMasks() (srcStage, dstStage vk.PipelineStageFlags, srcAccess, dstAccess vk.AccessFlags) {
	srcStage = vk.PipelineStageFlags(pipelineStageAccelerationStructureBuildBit)
	dstStage = vk.PipelineStageFlags(pipelineStageAccelerationStructureBuildBit | pipelineStageRayTracingShaderBit)
	srcAccess = vk.AccessFlags(accessAccelerationStructureWriteBit)
	dstAccess = vk.AccessFlags(accessAccelerationStructureReadBit | accessAccelerationStructureWriteBit)
	return
}

// PipelineBarrier makes the writes of b.Before, and of everything submitted
// earlier on the queue, visible to b.After.
func (v *VulkanCommandBuffer) PipelineBarrier(b graph.Barrier) {
	srcStage, dstStage, srcAccess, dstAccess := BarrierMasks()
	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, vk.DependencyFlags(0), 1,
		[]vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: srcAccess,
			DstAccessMask: dstAccess,
		}}, 0, nil, 0, nil)
	core.LogDebug("barrier before pass '%s' (%d producers, %d pending)", b.After.Name(), len(b.Before), len(b.Pending))
}

func (v *VulkanCommandBuffer) BuildAccelerationStructure(cmd raytracing.BuildCommand, ranges []metadata.BuildRange) error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.New("command buffer is not recording")
	}
	dst, ok := cmd.Destination.(*VulkanAccelerationStructure)
	if !ok {
		return errors.Newf("destination %T is not a device acceleration structure", cmd.Destination)
	}
	v.context.Extension.CmdBuildAccelerationStructure(v.Handle, cmd.Geometry, dst.Handle, cmd.ScratchAddress, ranges)
	return nil
}

/**
 * Allocates and begins recording to out_command_buffer.
 */
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true); err != nil {
		cb.Free(pool)
		return nil, err
	}
	return cb, nil
}

// EndAndSubmit ends recording and submits to queue, signalling the returned fence on completion.
func (v *VulkanCommandBuffer) EndAndSubmit(queue vk.Queue) (*VulkanFence, error) {
	if err := v.End(); err != nil {
		return nil, err
	}
	fence, err := NewFence(v.context, false)
	if err != nil {
		return nil, err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}
	err = v.context.Locks.SafeQueueCall(uint32(v.context.Device.GraphicsQueueIndex), func() error {
		return ResultError(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle), "vkQueueSubmit")
	})
	if err != nil {
		fence.Destroy()
		core.LogError(err.Error())
		return nil, err
	}
	v.UpdateSubmitted()
	return fence, nil
}
