package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex int32
	GraphicsQueue      vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
}

func deviceExtensionNames(device vk.PhysicalDevice) ([]string, error) {
	var availableExtensionCount uint32
	if err := ResultError(vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	if availableExtensionCount == 0 {
		return nil, nil
	}
	availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
	if err := ResultError(vk.EnumerateDeviceExtensionProperties(device, "", &availableExtensionCount, availableExtensions), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	names := make([]string, 0, availableExtensionCount)
	for i := range availableExtensions {
		availableExtensions[i].Deref()
		name := availableExtensions[i].ExtensionName[:]
		names = append(names, string(name[:FindFirstZeroInByteArray(name)]))
	}
	return names, nil
}

// MissingExtensions returns the entries of required that are not in available.
func MissingExtensions(available, required []string) []string {
	var missing []string
	for _, r := range required {
		found := false
		for _, a := range available {
			if a == r {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, r)
		}
	}
	return missing
}

// CheckRayTracingSupport fails with core.ErrUnsupported when the device lacks
// one of RayTracingDeviceExtensions.
func CheckRayTracingSupport(device vk.PhysicalDevice) error {
	available, err := deviceExtensionNames(device)
	if err != nil {
		return err
	}
	if missing := MissingExtensions(available, RayTracingDeviceExtensions); len(missing) > 0 {
		err := errors.Wrapf(core.ErrUnsupported, "missing device extensions %v", missing)
		core.LogInfo(err.Error())
		return err
	}
	return nil
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if err := ResultError(vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return errors.Wrap(core.ErrUnsupported, "no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := ResultError(vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	for _, physical := range physicalDevices {
		properties := vk.PhysicalDeviceProperties{}
		vk.GetPhysicalDeviceProperties(physical, &properties)
		properties.Deref()
		name := string(properties.DeviceName[:FindFirstZeroInByteArray(properties.DeviceName[:])])

		queueIndex := graphicsComputeQueue(physical)
		if queueIndex < 0 {
			core.LogInfo("Device '%s' has no graphics and compute queue, skipping.", name)
			continue
		}
		if err := CheckRayTracingSupport(physical); err != nil {
			core.LogInfo("Device '%s' cannot trace rays, skipping.", name)
			continue
		}

		memory := vk.PhysicalDeviceMemoryProperties{}
		vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
		memory.Deref()

		core.LogInfo("Selected device: '%s'.", name)
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version.Major(vk.Version(properties.ApiVersion)),
			vk.Version.Minor(vk.Version(properties.ApiVersion)),
			vk.Version.Patch(vk.Version(properties.ApiVersion)),
		)

		context.Device.PhysicalDevice = physical
		context.Device.GraphicsQueueIndex = queueIndex
		context.Device.Properties = properties
		context.Device.Memory = memory
		return nil
	}
	return errors.Wrap(core.ErrUnsupported, "no physical device supports ray tracing")
}

func graphicsComputeQueue(device vk.PhysicalDevice) int32 {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	want := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit)
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&want == want {
			return int32(i)
		}
	}
	return -1
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(RayTracingDeviceExtensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(append([]string(nil), RayTracingDeviceExtensions...)),
		PNext: unsafe.Pointer(&vk.PhysicalDeviceVulkan12Features{
			SType:               vk.StructureTypePhysicalDeviceVulkan12Features,
			PNext:               context.Extension.FeatureChain(),
			BufferDeviceAddress: vk.True,
		}),
	}

	var device vk.Device
	if err := ResultError(vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device), "vkCreateDevice"); err != nil {
		core.LogError(err.Error())
		return err
	}
	context.Device.LogicalDevice = device
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(device, uint32(context.Device.GraphicsQueueIndex), 0, &queue)
	context.Device.GraphicsQueue = queue
	context.Locks.SetQueueFamily(uint32(context.Device.GraphicsQueueIndex))
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := ResultError(vk.CreateCommandPool(device, &poolCreateInfo, context.Allocator, &pool), "vkCreateCommandPool"); err != nil {
		core.LogError(err.Error())
		return err
	}
	context.Device.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	context.Device.GraphicsQueue = nil

	if context.Device.GraphicsCommandPool != nil {
		core.LogInfo("Destroying command pools...")
		vk.DestroyCommandPool(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, context.Allocator)
		context.Device.GraphicsCommandPool = nil
	}

	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.GraphicsQueueIndex = -1
}
