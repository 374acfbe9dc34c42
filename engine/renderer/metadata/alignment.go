package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

/**
 * @brief The device-reported constants that drive shader binding table layout.
 * All values are in bytes.
 */
type AlignmentSpec struct {
	/** @brief Size of one opaque shader group handle. */
	HandleSize uint32
	/** @brief Required alignment of each handle inside a region. */
	HandleAlignment uint32
	/** @brief Required alignment of the start of each region. */
	BaseAlignment uint32
}

// Validate reports core.ErrUnsupported when the device returned constants the
// alignment math cannot work with.
func (a AlignmentSpec) Validate() error {
	if a.HandleSize == 0 {
		return errors.Wrap(core.ErrUnsupported, "shader group handle size is zero")
	}
	if !math.IsPowerOfTwo(a.HandleAlignment) {
		return errors.Wrapf(core.ErrUnsupported, "handle alignment %d is not a power of two", a.HandleAlignment)
	}
	if !math.IsPowerOfTwo(a.BaseAlignment) {
		return errors.Wrapf(core.ErrUnsupported, "base alignment %d is not a power of two", a.BaseAlignment)
	}
	return nil
}

// HandleStride is the handle size rounded up to the handle alignment.
func (a AlignmentSpec) HandleStride() uint32 {
	return math.AlignUp(a.HandleSize, a.HandleAlignment)
}

/** @brief Device limits that apply to acceleration structure builds. */
type AccelerationStructureProperties struct {
	/** @brief Alignment required for the scratch address handed to a build. */
	ScratchOffsetAlignment uint32
}
