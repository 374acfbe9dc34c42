package raytracing_test

import (
	"context"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, dev raytracing.Device, leases int64, minBlock uint64) *raytracing.ScratchPool {
	t.Helper()
	pool, err := raytracing.NewScratchPool(dev, raytracing.ScratchPoolConfig{MaxLeases: leases, MinBlockSize: minBlock})
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)
	return pool
}

func scratchLease(t *testing.T, l graph.Lease) *raytracing.ScratchLease {
	t.Helper()
	s, ok := l.Resource().(*raytracing.ScratchLease)
	require.True(t, ok)
	return s
}

func TestScratchPoolReusesBlocks(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 2, 1024)
	ctx := context.Background()

	_, _, before, _ := core.Metrics().Snapshot()

	leases, err := pool.Acquire(ctx, []uint64{100})
	require.NoError(t, err)
	first := scratchLease(t, leases[0])
	assert.Zero(t, first.DeviceAddress()%128)
	assert.GreaterOrEqual(t, first.Size(), uint64(100))
	assert.Equal(t, 1, pool.Blocks())
	assert.Zero(t, pool.FreeBlocks())

	_, _, after, _ := core.Metrics().Snapshot()
	assert.GreaterOrEqual(t, after-before, uint64(1024))

	leases[0].Release()
	leases[0].Release()
	assert.Equal(t, 1, pool.FreeBlocks())

	leases, err = pool.Acquire(ctx, []uint64{500})
	require.NoError(t, err)
	assert.Same(t, first.Buffer(), scratchLease(t, leases[0]).Buffer())
	assert.Equal(t, 1, pool.Blocks())

	big, err := pool.Acquire(ctx, []uint64{4096})
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Blocks())
	assert.GreaterOrEqual(t, scratchLease(t, big[0]).Size(), uint64(4096))

	leases[0].Release()
	big[0].Release()
}

func TestScratchPoolBestFit(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 4, 1024)
	ctx := context.Background()

	leases, err := pool.Acquire(ctx, []uint64{5000, 100})
	require.NoError(t, err)
	for _, l := range leases {
		l.Release()
	}
	require.Equal(t, 2, pool.FreeBlocks())

	small, err := pool.Acquire(ctx, []uint64{64})
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), scratchLease(t, small[0]).Buffer().Size())
	small[0].Release()
}

func TestScratchPoolBackpressure(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 1, 0)

	held, err := pool.Acquire(context.Background(), []uint64{64})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, []uint64{64})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan error, 1)
	go func() {
		l, err := pool.Acquire(context.Background(), []uint64{64})
		if err == nil {
			l[0].Release()
		}
		got <- err
	}()

	held[0].Release()
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}
	assert.Equal(t, 1, pool.Blocks())
}

func TestScratchPoolRejectsOversizedBatch(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 2, 0)

	_, err := pool.Acquire(context.Background(), []uint64{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrAllocationFailure)
	assert.Zero(t, pool.Blocks())
}

func TestScratchPoolAllocationFailureReturnsLeases(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool := newPool(t, dev, 2, 0)
	ctx := context.Background()

	warm, err := pool.Acquire(ctx, []uint64{64})
	require.NoError(t, err)
	warm[0].Release()

	// The first request reuses the free block, the second needs a new one.
	dev.FailAllocations(true)
	_, err = pool.Acquire(ctx, []uint64{64, 64})
	assert.ErrorIs(t, err, core.ErrAllocationFailure)
	assert.Equal(t, 1, pool.FreeBlocks())
	dev.FailAllocations(false)

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	leases, err := pool.Acquire(timeout, []uint64{64, 64})
	require.NoError(t, err)
	for _, l := range leases {
		l.Release()
	}
}

func TestScratchPoolDestroy(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	pool, err := raytracing.NewScratchPool(dev, raytracing.ScratchPoolConfig{MaxLeases: 2})
	require.NoError(t, err)

	leases, err := pool.Acquire(context.Background(), []uint64{64, 128})
	require.NoError(t, err)
	for _, l := range leases {
		l.Release()
	}
	assert.Equal(t, 2, dev.LiveBuffers())
	pool.Destroy()
	assert.Zero(t, dev.LiveBuffers())
}

func TestScratchPoolConfig(t *testing.T) {
	dev := headless.NewDevice(headless.DefaultConfig())
	_, err := raytracing.NewScratchPool(dev, raytracing.ScratchPoolConfig{})
	assert.Error(t, err)

	cfg := headless.DefaultConfig()
	cfg.Unsupported = true
	_, err = raytracing.NewScratchPool(headless.NewDevice(cfg), raytracing.ScratchPoolConfig{MaxLeases: 1})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}
