package metadata

import (
	"encoding/binary"
	m "math"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

/** @brief Size in bytes of one encoded instance record. */
const InstanceRecordSize = 64

const (
	maxCustomIndex = 1<<24 - 1
	maxSBTOffset   = 1<<24 - 1
)

/** @brief Per-instance flags, matching the device bit assignment. */
type InstanceFlags uint8

const (
	InstanceFlagTriangleFacingCullDisable InstanceFlags = 1 << iota
	InstanceFlagTriangleFlipFacing
	InstanceFlagForceOpaque
	InstanceFlagForceNoOpaque
)

/**
 * @brief One instance of a bottom-level structure inside a top-level one.
 * The record only carries the device address of the referenced structure,
 * it never owns it.
 */
type InstanceRecord struct {
	/** @brief Object-to-world transform. */
	Transform math.Mat3x4
	/** @brief Value reported to shaders as the custom index. Only 24 bits are kept. */
	CustomIndex uint32
	/** @brief Visibility mask tested against the ray mask. */
	Mask uint8
	/** @brief Offset into the hit region of the shader binding table. Only 24 bits are kept. */
	SBTOffset uint32
	Flags     InstanceFlags
	/** @brief Device address of the referenced bottom-level structure. */
	BlasDeviceAddress uint64
}

func (r InstanceRecord) Validate() error {
	if r.CustomIndex > maxCustomIndex {
		return errors.Newf("instance custom index %d does not fit in 24 bits", r.CustomIndex)
	}
	if r.SBTOffset > maxSBTOffset {
		return errors.Newf("instance sbt offset %d does not fit in 24 bits", r.SBTOffset)
	}
	if r.BlasDeviceAddress == 0 {
		return errors.New("instance references a null bottom-level address")
	}
	return nil
}

// Encode writes the 64-byte little endian device record into dst:
// 12 floats of transform, customIndex:24|mask:8, sbtOffset:24|flags:8,
// then the 64-bit structure reference.
func (r InstanceRecord) Encode(dst []byte) {
	_ = dst[InstanceRecordSize-1]
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(dst[off:], m.Float32bits(r.Transform[row][col]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[48:], r.CustomIndex&maxCustomIndex|uint32(r.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], r.SBTOffset&maxSBTOffset|uint32(r.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], r.BlasDeviceAddress)
}

// EncodeInstances packs records back to back.
func EncodeInstances(records []InstanceRecord) []byte {
	out := make([]byte, len(records)*InstanceRecordSize)
	for i, r := range records {
		r.Encode(out[i*InstanceRecordSize:])
	}
	return out
}
