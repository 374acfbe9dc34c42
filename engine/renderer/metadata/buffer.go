package metadata

import "strings"

/** @brief How a buffer is used by the device. */
type BufferUsage uint32

const (
	BufferUsageTransferDst BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageShaderDeviceAddress
	BufferUsageShaderBindingTable
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
)

func (u BufferUsage) Has(flags BufferUsage) bool {
	return u&flags == flags
}

func (u BufferUsage) String() string {
	names := []struct {
		flag BufferUsage
		name string
	}{
		{BufferUsageTransferDst, "transfer-dst"},
		{BufferUsageStorage, "storage"},
		{BufferUsageShaderDeviceAddress, "device-address"},
		{BufferUsageShaderBindingTable, "sbt"},
		{BufferUsageAccelerationStructureStorage, "as-storage"},
		{BufferUsageAccelerationStructureBuildInput, "as-build-input"},
	}
	var parts []string
	for _, n := range names {
		if u.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

/** @brief Everything needed to allocate a buffer. */
type BufferDescription struct {
	/** @brief Debug name. */
	Name string
	/** @brief Size in bytes. Must be non-zero. */
	Size  uint64
	Usage BufferUsage
	/** @brief Host-visible and coherent, so it can be written through a mapping. */
	HostVisible bool
}
