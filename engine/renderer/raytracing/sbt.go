package raytracing

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// ShaderGroups lists the pipeline group indices that go into each region.
type ShaderGroups struct {
	RayGen   uint32
	Hit      []uint32
	Miss     []uint32
	Callable []uint32
}

/**
 * @brief The shader binding table of one pipeline: a single buffer holding
 * the ray generation, hit, miss and callable regions back to back.
 */
type SbtLayout struct {
	buffer       Buffer
	handleStride uint32
	size         uint64

	rgen     metadata.StridedRegion
	hit      metadata.StridedRegion
	miss     metadata.StridedRegion
	callable metadata.StridedRegion

	rgenOffset     uint64
	hitOffset      uint64
	missOffset     uint64
	callableOffset uint64
}

type sbtRegion struct {
	groups []uint32
	offset uint64
	size   uint32
}

// NewSbtLayout fetches the group handles of pipeline and writes them into a
// new host-visible buffer laid out with the device alignment rules.
func NewSbtLayout(dev Device, pipeline Pipeline, groups ShaderGroups) (*SbtLayout, error) {
	props, err := dev.RayTracingProperties()
	if err == nil {
		err = props.Validate()
	}
	if err != nil {
		if !errors.Is(err, core.ErrUnsupported) {
			err = errors.Mark(err, core.ErrUnsupported)
		}
		err = errors.Wrap(err, "sbt: reading ray tracing properties")
		core.LogError(err.Error())
		return nil, err
	}

	stride := props.HandleStride()
	rgenSize := math.AlignUp(stride, props.BaseAlignment)
	regionSize := func(n int) uint32 {
		return math.AlignUp(uint32(n)*stride, props.BaseAlignment)
	}

	regions := [4]sbtRegion{
		{groups: []uint32{groups.RayGen}, size: rgenSize},
		{groups: groups.Hit, size: regionSize(len(groups.Hit))},
		{groups: groups.Miss, size: regionSize(len(groups.Miss))},
		{groups: groups.Callable, size: regionSize(len(groups.Callable))},
	}
	var total uint64
	for i := range regions {
		regions[i].offset = total
		total += uint64(regions[i].size)
	}

	// The table is assembled host-side, so a bad group fails before anything
	// is allocated and the buffer is written in a single call.
	image := make([]byte, total)
	for _, r := range regions {
		for i, group := range r.groups {
			handle, err := pipeline.GroupHandle(group)
			if err != nil {
				err = errors.Wrapf(errors.Mark(err, core.ErrInvalidShaderGroup), "sbt: group %d", group)
				core.LogError(err.Error())
				return nil, err
			}
			if len(handle) != int(props.HandleSize) {
				err := errors.Wrapf(core.ErrInvalidShaderGroup, "sbt: group %d handle is %d bytes, expected %d", group, len(handle), props.HandleSize)
				core.LogError(err.Error())
				return nil, err
			}
			copy(image[r.offset+uint64(i)*uint64(stride):], handle)
		}
	}

	buffer, err := dev.CreateBuffer(metadata.BufferDescription{
		Name:        "sbt",
		Size:        total,
		Usage:       metadata.BufferUsageShaderBindingTable | metadata.BufferUsageShaderDeviceAddress,
		HostVisible: true,
	})
	if err != nil {
		err = allocationError(err, "sbt: allocating %d bytes", total)
		core.LogError(err.Error())
		return nil, err
	}
	if err := buffer.Write(0, image); err != nil {
		buffer.Destroy()
		err = errors.Wrap(err, "sbt: writing handles")
		core.LogError(err.Error())
		return nil, err
	}

	addr := buffer.DeviceAddress()
	region := func(r sbtRegion) metadata.StridedRegion {
		if len(r.groups) == 0 {
			return metadata.StridedRegion{}
		}
		return metadata.StridedRegion{DeviceAddress: addr + r.offset, Stride: stride, Size: r.size}
	}

	l := &SbtLayout{
		buffer:       buffer,
		handleStride: stride,
		size:         total,
		// The ray generation region holds one record, so its stride is its size.
		rgen:           metadata.StridedRegion{DeviceAddress: addr, Stride: rgenSize, Size: rgenSize},
		hit:            region(regions[1]),
		miss:           region(regions[2]),
		callable:       region(regions[3]),
		rgenOffset:     regions[0].offset,
		hitOffset:      regions[1].offset,
		missOffset:     regions[2].offset,
		callableOffset: regions[3].offset,
	}
	core.LogDebug("sbt: %d bytes, stride %d, hit %d miss %d callable %d",
		total, stride, len(groups.Hit), len(groups.Miss), len(groups.Callable))
	return l, nil
}

// Regions returns the four strided regions handed to a trace-rays dispatch.
func (l *SbtLayout) Regions() (rgen, hit, miss, callable metadata.StridedRegion) {
	return l.rgen, l.hit, l.miss, l.callable
}

// Offsets returns the byte offset of each region inside the buffer.
func (l *SbtLayout) Offsets() (rgen, hit, miss, callable uint64) {
	return l.rgenOffset, l.hitOffset, l.missOffset, l.callableOffset
}

func (l *SbtLayout) HandleStride() uint32 {
	return l.handleStride
}

func (l *SbtLayout) Size() uint64 {
	return l.size
}

func (l *SbtLayout) Buffer() Buffer {
	return l.buffer
}

func (l *SbtLayout) Destroy() {
	if l.buffer != nil {
		l.buffer.Destroy()
		l.buffer = nil
	}
}
