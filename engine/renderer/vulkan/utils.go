package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

// ResultError turns a failed result into an error of the matching kind, or
// nil on success.
func ResultError(result vk.Result, operation string) error {
	if VulkanResultIsSuccess(result) {
		return nil
	}
	var kind error
	switch result {
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory,
		vk.ErrorFragmentedPool, vk.ErrorFragmentation, vk.ErrorTooManyObjects,
		vk.ErrorInvalidDeviceAddress:
		kind = core.ErrAllocationFailure
	case vk.ErrorExtensionNotPresent, vk.ErrorFeatureNotPresent, vk.ErrorIncompatibleDriver,
		vk.ErrorLayerNotPresent, vk.ErrorFormatNotSupported:
		kind = core.ErrUnsupported
	default:
		kind = core.ErrUnknown
	}
	return errors.Wrapf(kind, "%s: %s (%d)", operation, vk.Error(result), result)
}

// VulkanResultIsSuccess reports whether result is a success code. Success
// codes are non-negative, error codes negative.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= vk.Success
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	for i := range list {
		list[i] = VulkanSafeString(list[i])
	}
	return list
}

// FindFirstZeroInByteArray returns the index of the first NUL in arr, or
// len(arr) when there is none.
func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}
