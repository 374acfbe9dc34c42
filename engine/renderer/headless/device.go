// Package headless is a host-memory stand-in for a ray-tracing capable device.
// Buffers live in Go slices and device addresses are synthetic, which is enough
// to drive layout, scheduling and build declaration without a GPU.
package headless

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

const (
	addressBase      uint64 = 0x10000
	addressAlignment uint64 = 256
)

type Config struct {
	HandleSize       uint32
	HandleAlignment  uint32
	BaseAlignment    uint32
	ScratchAlignment uint32
	// Unsupported makes every property query fail like a device without the extensions.
	Unsupported bool
	// MaxAllocation rejects larger buffers. Zero means no limit.
	MaxAllocation uint64
}

// DefaultConfig mirrors what common desktop drivers report.
func DefaultConfig() Config {
	return Config{
		HandleSize:       32,
		HandleAlignment:  32,
		BaseAlignment:    64,
		ScratchAlignment: 128,
	}
}

type Device struct {
	mu          sync.Mutex
	config      Config
	next        uint64
	live        map[*Buffer]struct{}
	structures  int
	failAllocs  bool
	allocations int
}

func NewDevice(config Config) *Device {
	return &Device{
		config: config,
		next:   addressBase,
		live:   make(map[*Buffer]struct{}),
	}
}

// FailAllocations makes buffer creation fail until it is turned off again.
func (d *Device) FailAllocations(fail bool) {
	d.mu.Lock()
	d.failAllocs = fail
	d.mu.Unlock()
}

func (d *Device) RayTracingProperties() (metadata.AlignmentSpec, error) {
	if d.config.Unsupported {
		return metadata.AlignmentSpec{}, errors.Wrap(core.ErrUnsupported, "headless device configured without ray tracing")
	}
	return metadata.AlignmentSpec{
		HandleSize:      d.config.HandleSize,
		HandleAlignment: d.config.HandleAlignment,
		BaseAlignment:   d.config.BaseAlignment,
	}, nil
}

func (d *Device) AccelerationStructureProperties() (metadata.AccelerationStructureProperties, error) {
	if d.config.Unsupported {
		return metadata.AccelerationStructureProperties{}, errors.Wrap(core.ErrUnsupported, "headless device configured without acceleration structures")
	}
	return metadata.AccelerationStructureProperties{ScratchOffsetAlignment: d.config.ScratchAlignment}, nil
}

func (d *Device) CreateBuffer(desc metadata.BufferDescription) (raytracing.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size == 0 {
		return nil, errors.Wrapf(core.ErrAllocationFailure, "buffer %s: zero size", desc.Name)
	}
	if d.failAllocs {
		return nil, errors.Wrapf(core.ErrAllocationFailure, "buffer %s: out of device memory", desc.Name)
	}
	if d.config.MaxAllocation > 0 && desc.Size > d.config.MaxAllocation {
		return nil, errors.Wrapf(core.ErrAllocationFailure, "buffer %s: %d bytes exceeds the %d byte limit", desc.Name, desc.Size, d.config.MaxAllocation)
	}

	b := &Buffer{
		dev:     d,
		desc:    desc,
		address: d.next,
		data:    make([]byte, desc.Size),
	}
	d.next = math.AlignUp(d.next+desc.Size, addressAlignment)
	d.live[b] = struct{}{}
	d.allocations++
	return b, nil
}

func (d *Device) CreateAccelerationStructure(kind metadata.AccelerationStructureType, storage raytracing.Buffer, size uint64) (raytracing.AccelerationStructure, error) {
	if storage == nil {
		return nil, errors.Newf("%s structure: no storage buffer", kind)
	}
	if size > storage.Size() {
		return nil, errors.Wrapf(core.ErrAllocationFailure, "%s structure: %d bytes do not fit in %s (%d bytes)", kind, size, storage.Name(), storage.Size())
	}
	d.mu.Lock()
	d.structures++
	d.mu.Unlock()
	return &AccelerationStructure{dev: d, kind: kind, size: size, address: storage.DeviceAddress()}, nil
}

// QueryBuildSizes grows linearly with the primitive count.
func (d *Device) QueryBuildSizes(info metadata.BuildGeometryInfo) (metadata.BuildSizeInfo, error) {
	n := uint64(info.PrimitiveCount())
	if info.Type == metadata.AccelerationStructureTypeTopLevel {
		return metadata.BuildSizeInfo{
			ResultSize:       math.AlignUp(256+n*128, 256),
			BuildScratchSize: math.AlignUp(128+n*64, 256),
		}, nil
	}
	return metadata.BuildSizeInfo{
		ResultSize:       math.AlignUp(256+n*64, 256),
		BuildScratchSize: math.AlignUp(128+n*32, 256),
	}, nil
}

// LiveBuffers is the number of buffers created and not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// LiveStructures is the number of acceleration structures not yet destroyed.
func (d *Device) LiveStructures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.structures
}

// BufferAt returns the live buffer starting at addr, or nil.
func (d *Device) BufferAt(addr uint64) *Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	for b := range d.live {
		if b.address == addr {
			return b
		}
	}
	return nil
}

// Allocations counts every successful buffer creation.
func (d *Device) Allocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocations
}

type Buffer struct {
	dev       *Device
	desc      metadata.BufferDescription
	address   uint64
	mu        sync.Mutex
	data      []byte
	destroyed bool
}

func (b *Buffer) Name() string { return b.desc.Name }
func (b *Buffer) Size() uint64 { return b.desc.Size }
func (b *Buffer) DeviceAddress() uint64 { return b.address }
func (b *Buffer) Usage() metadata.BufferUsage { return b.desc.Usage }

func (b *Buffer) Write(offset uint64, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return errors.Newf("buffer %s: write after destroy", b.desc.Name)
	}
	if !b.desc.HostVisible {
		return errors.Newf("buffer %s: not host visible", b.desc.Name)
	}
	if offset+uint64(len(p)) > b.desc.Size {
		return errors.Newf("buffer %s: write of %d bytes at %d overflows %d", b.desc.Name, len(p), offset, b.desc.Size)
	}
	copy(b.data[offset:], p)
	return nil
}

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

func (b *Buffer) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.data = nil
	b.mu.Unlock()

	b.dev.mu.Lock()
	delete(b.dev.live, b)
	b.dev.mu.Unlock()
}

type AccelerationStructure struct {
	dev       *Device
	kind      metadata.AccelerationStructureType
	size      uint64
	address   uint64
	destroyed bool
}

func (a *AccelerationStructure) Type() metadata.AccelerationStructureType { return a.kind }
func (a *AccelerationStructure) Size() uint64 { return a.size }
func (a *AccelerationStructure) DeviceAddress() uint64 { return a.address }

func (a *AccelerationStructure) Destroy() {
	a.dev.mu.Lock()
	defer a.dev.mu.Unlock()
	if a.destroyed {
		return
	}
	a.destroyed = true
	a.dev.structures--
}
