package metadata

/**
 * @brief A strided slice of a device buffer, addressed by device address.
 * The zero value means "unused" and must not be dereferenced by the dispatch.
 */
type StridedRegion struct {
	DeviceAddress uint64
	Stride        uint32
	Size          uint32
}

func (r StridedRegion) IsEmpty() bool {
	return r.Size == 0
}

// End is the device address one past the last byte of the region.
func (r StridedRegion) End() uint64 {
	return r.DeviceAddress + uint64(r.Size)
}

// Entries is the number of records the region holds.
func (r StridedRegion) Entries() uint32 {
	if r.Stride == 0 {
		return 0
	}
	return r.Size / r.Stride
}
