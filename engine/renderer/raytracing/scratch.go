package raytracing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"golang.org/x/sync/semaphore"
)

type ScratchPoolConfig struct {
	// MaxLeases bounds the number of scratch blocks leased at once.
	MaxLeases int64
	// MinBlockSize is the smallest block the pool allocates.
	MinBlockSize uint64
}

type scratchBlock struct {
	buffer Buffer
	size   uint64
}

// ScratchPool hands out exclusive scratch blocks to acceleration structure
// builds. A block returns to the pool only once the submission that used it
// has retired.
type ScratchPool struct {
	dev       Device
	config    ScratchPoolConfig
	alignment uint64
	sem       *semaphore.Weighted

	mu     sync.Mutex
	free   []*scratchBlock
	blocks []*scratchBlock
}

func NewScratchPool(dev Device, config ScratchPoolConfig) (*ScratchPool, error) {
	if config.MaxLeases <= 0 {
		return nil, errors.Newf("scratch pool: max leases must be positive, got %d", config.MaxLeases)
	}
	props, err := dev.AccelerationStructureProperties()
	if err != nil {
		if !errors.Is(err, core.ErrUnsupported) {
			err = errors.Mark(err, core.ErrUnsupported)
		}
		err = errors.Wrap(err, "scratch pool: querying acceleration structure properties")
		core.LogError(err.Error())
		return nil, err
	}
	alignment := uint64(props.ScratchOffsetAlignment)
	if alignment == 0 {
		alignment = 1
	}
	if !math.IsPowerOfTwo(alignment) {
		err := errors.Wrapf(core.ErrUnsupported, "scratch offset alignment %d is not a power of two", alignment)
		core.LogError(err.Error())
		return nil, err
	}
	return &ScratchPool{
		dev:       dev,
		config:    config,
		alignment: alignment,
		sem:       semaphore.NewWeighted(config.MaxLeases),
	}, nil
}

// Acquire leases one block per requested size. It blocks until enough leases
// are free or ctx is done.
func (p *ScratchPool) Acquire(ctx context.Context, sizes []uint64) ([]graph.Lease, error) {
	n := int64(len(sizes))
	if n == 0 {
		return nil, nil
	}
	if n > p.config.MaxLeases {
		err := errors.Wrapf(core.ErrAllocationFailure, "scratch pool: %d leases requested, at most %d allowed", n, p.config.MaxLeases)
		core.LogError(err.Error())
		return nil, err
	}
	if err := p.sem.Acquire(ctx, n); err != nil {
		return nil, errors.Wrap(err, "scratch pool: waiting for a free lease")
	}

	leases := make([]graph.Lease, 0, len(sizes))
	for _, size := range sizes {
		block, err := p.take(size)
		if err != nil {
			for _, l := range leases {
				l.Release()
			}
			// Only the weights not yet owned by a lease are returned here.
			p.sem.Release(n - int64(len(leases)))
			return nil, err
		}
		leases = append(leases, &ScratchLease{pool: p, block: block})
		core.Metrics().AddScratchLease(block.size)
	}
	return leases, nil
}

func (p *ScratchPool) blockSize(size uint64) uint64 {
	// Room to align the device address up inside the block.
	aligned := math.AlignUp(size, p.alignment) + p.alignment - 1
	if aligned < p.config.MinBlockSize {
		return p.config.MinBlockSize
	}
	return aligned
}

func (p *ScratchPool) take(size uint64) (*scratchBlock, error) {
	want := p.blockSize(size)

	p.mu.Lock()
	// free is sorted by size, so the first fit is the best fit.
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].size >= want })
	if i < len(p.free) {
		b := p.free[i]
		p.free = append(p.free[:i], p.free[i+1:]...)
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	buf, err := p.dev.CreateBuffer(metadata.BufferDescription{
		Name:  fmt.Sprintf("scratch-%s", uuid.NewString()[:8]),
		Size:  want,
		Usage: metadata.BufferUsageStorage | metadata.BufferUsageShaderDeviceAddress,
	})
	if err != nil {
		err = allocationError(err, "scratch pool: allocating %d bytes", want)
		core.LogError(err.Error())
		return nil, err
	}
	b := &scratchBlock{buffer: buf, size: want}

	p.mu.Lock()
	p.blocks = append(p.blocks, b)
	p.mu.Unlock()
	core.LogDebug("scratch pool: allocated block %s (%d bytes)", buf.Name(), want)
	return b, nil
}

func (p *ScratchPool) put(b *scratchBlock) {
	p.mu.Lock()
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].size >= b.size })
	p.free = append(p.free, nil)
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = b
	p.mu.Unlock()
	p.sem.Release(1)
}

// Blocks is the number of blocks allocated so far.
func (p *ScratchPool) Blocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// FreeBlocks is the number of blocks not currently leased.
func (p *ScratchPool) FreeBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Destroy frees every block. Leases still outstanding must not be used afterwards.
func (p *ScratchPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		b.buffer.Destroy()
	}
	p.blocks = nil
	p.free = nil
}

// ScratchLease is the exclusive use of one scratch block.
type ScratchLease struct {
	pool     *ScratchPool
	block    *scratchBlock
	released sync.Once
}

func (l *ScratchLease) Resource() any {
	return l
}

func (l *ScratchLease) Buffer() Buffer {
	return l.block.buffer
}

// DeviceAddress is the block address aligned to the scratch offset alignment.
func (l *ScratchLease) DeviceAddress() uint64 {
	return math.AlignUp(l.block.buffer.DeviceAddress(), l.pool.alignment)
}

// Size is the usable size from DeviceAddress to the end of the block.
func (l *ScratchLease) Size() uint64 {
	return l.block.size - (l.DeviceAddress() - l.block.buffer.DeviceAddress())
}

// Release returns the block to the pool. Releasing twice does nothing.
func (l *ScratchLease) Release() {
	l.released.Do(func() {
		l.pool.put(l.block)
	})
}
