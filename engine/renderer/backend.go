package renderer

import (
	"context"

	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

type RendererBackend interface {
	Initialize(appName string) error
	// RayTracingDevice is nil until Initialize succeeds.
	RayTracingDevice() raytracing.Device
	Submit(ctx context.Context, g *graph.Graph) (*graph.Submission, graph.Completion, error)
	Shutdown() error
}

// headlessBackend records graphs on the CPU. Every submission completes
// immediately.
type headlessBackend struct {
	config headless.Config
	device *headless.Device
	queue  *headless.Queue
}

func (b *headlessBackend) Initialize(string) error {
	b.device = headless.NewDevice(b.config)
	b.queue = &headless.Queue{}
	return nil
}

func (b *headlessBackend) RayTracingDevice() raytracing.Device {
	if b.device == nil {
		return nil
	}
	return b.device
}

func (b *headlessBackend) Submit(ctx context.Context, g *graph.Graph) (*graph.Submission, graph.Completion, error) {
	return b.queue.Submit(ctx, g)
}

func (b *headlessBackend) Shutdown() error {
	b.device = nil
	b.queue = nil
	return nil
}
