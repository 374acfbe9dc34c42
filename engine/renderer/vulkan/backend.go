package vulkan

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

// VulkanRayTracingBackend owns a headless instance and logical device and
// submits build graphs to its graphics queue.
type VulkanRayTracingBackend struct {
	context *VulkanContext
	device  *VulkanRayTracingDevice
	debug   bool
}

func NewRayTracingBackend(extension RayTracingExtension, debug bool) *VulkanRayTracingBackend {
	return &VulkanRayTracingBackend{
		context: &VulkanContext{
			Allocator: nil,
			Device:    &VulkanDevice{GraphicsQueueIndex: -1},
			Extension: extension,
			Locks:     NewVulkanLockPool(),
		},
		debug: debug,
	}
}

func (vr *VulkanRayTracingBackend) Context() *VulkanContext {
	return vr.context
}

// Device is nil until Initialize succeeds.
func (vr *VulkanRayTracingBackend) Device() *VulkanRayTracingDevice {
	return vr.device
}

// RayTracingDevice is Device behind the device-independent interface.
func (vr *VulkanRayTracingBackend) RayTracingDevice() raytracing.Device {
	if vr.device == nil {
		return nil
	}
	return vr.device
}

func (vr *VulkanRayTracingBackend) Initialize(appName string) error {
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		err = errors.Mark(errors.Wrap(err, "loading the Vulkan library"), core.ErrUnsupported)
		core.LogError(err.Error())
		return err
	}
	if err := vk.Init(); err != nil {
		err = errors.Mark(errors.Wrap(err, "initializing vk"), core.ErrUnsupported)
		core.LogError(err.Error())
		return err
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima RT"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// No surface: the backend never presents.
	requiredExtensions := []string{"VK_KHR_get_physical_device_properties2"}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions, "VK_KHR_portability_enumeration")
		createInfo.Flags |= 1
	}
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName)
		core.LogInfo("Required extensions: %v", requiredExtensions)
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if vr.debug {
		var err error
		if layers, err = validationLayers(); err != nil {
			return err
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := ResultError(vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance), "vkCreateInstance"); err != nil {
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if err := DeviceCreate(vr.context); err != nil {
		return err
	}
	device, err := NewRayTracingDevice(vr.context)
	if err != nil {
		return err
	}
	vr.device = device

	core.LogInfo("Vulkan ray tracing backend initialized successfully.")
	return nil
}

func validationLayers() ([]string, error) {
	required := []string{"VK_LAYER_KHRONOS_validation"}
	core.LogInfo("Validation layers enabled. Enumerating...")

	var count uint32
	if err := ResultError(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return nil, err
	}
	available := make([]vk.LayerProperties, count)
	if err := ResultError(vk.EnumerateInstanceLayerProperties(&count, available), "vkEnumerateInstanceLayerProperties"); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := range available {
		available[i].Deref()
		end := FindFirstZeroInByteArray(available[i].LayerName[:])
		names = append(names, string(available[i].LayerName[:end]))
	}
	if missing := MissingExtensions(names, required); len(missing) > 0 {
		err := errors.Wrapf(core.ErrUnsupported, "required validation layers are missing: %v", missing)
		core.LogError(err.Error())
		return nil, err
	}
	core.LogInfo("All required validation layers are present.")
	return required, nil
}

// VulkanSubmission is a graph recorded into a single-use command buffer and
// submitted to the graphics queue.
type VulkanSubmission struct {
	*graph.Submission
	cmd   *VulkanCommandBuffer
	pool  vk.CommandPool
	fence *VulkanFence
}

// Wait blocks until the queue has executed the command buffer, then frees it.
func (s *VulkanSubmission) Wait(ctx context.Context) error {
	if s.fence.Handle == nil {
		return nil
	}
	if err := s.fence.Wait(ctx); err != nil {
		return err
	}
	s.fence.Destroy()
	if s.cmd.Handle != nil {
		s.cmd.Free(s.pool)
	}
	return nil
}

// Retire waits for the queue and completes the graph submission.
func (s *VulkanSubmission) Retire(ctx context.Context) error {
	return s.Submission.Retire(ctx, s)
}

// Submit records g into a single-use command buffer and submits it. The
// returned completion signals when the queue is done and frees the command buffer.
func (vr *VulkanRayTracingBackend) Submit(ctx context.Context, g *graph.Graph) (*graph.Submission, graph.Completion, error) {
	pool := vr.context.Device.GraphicsCommandPool
	cmd, err := AllocateAndBeginSingleUse(vr.context, pool)
	if err != nil {
		return nil, nil, err
	}
	sub, err := g.Submit(ctx, cmd)
	if err != nil {
		cmd.Free(pool)
		return nil, nil, err
	}
	fence, err := cmd.EndAndSubmit(vr.context.Device.GraphicsQueue)
	if err != nil {
		sub.Abort()
		cmd.Free(pool)
		return nil, nil, err
	}
	vs := &VulkanSubmission{Submission: sub, cmd: cmd, pool: pool, fence: fence}
	return sub, vs, nil
}

func (vr *VulkanRayTracingBackend) Shutdown() error {
	var err error
	if vr.context.Device.LogicalDevice != nil {
		err = ResultError(vk.DeviceWaitIdle(vr.context.Device.LogicalDevice), "vkDeviceWaitIdle")
	}
	DeviceDestroy(vr.context)
	vr.device = nil

	if vr.context.Instance != nil {
		core.LogInfo("Destroying Vulkan instance...")
		vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
		vr.context.Instance = nil
	}
	return err
}
