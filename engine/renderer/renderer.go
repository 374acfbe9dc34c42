package renderer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Headless RendererType = iota
	Vulkan
)

func (t RendererType) String() string {
	switch t {
	case Headless:
		return "headless"
	case Vulkan:
		return "vulkan"
	}
	return "unknown"
}

// ParseRendererType accepts the names printed by RendererType.String.
func ParseRendererType(name string) (RendererType, error) {
	switch name {
	case "headless":
		return Headless, nil
	case "vulkan":
		return Vulkan, nil
	}
	return 0, errors.Newf("unknown renderer %q", name)
}

type Options struct {
	Type RendererType
	// Headless configures the device of the headless backend.
	Headless headless.Config
	// Extension loads the KHR ray tracing entry points for the Vulkan backend.
	Extension vulkan.RayTracingExtension
	// Debug enables the Vulkan validation layers.
	Debug bool
}

type Renderer struct {
	backend RendererBackend
	kind    RendererType
}

func New(opts Options) (*Renderer, error) {
	var backend RendererBackend
	switch opts.Type {
	case Headless:
		backend = &headlessBackend{config: opts.Headless}
	case Vulkan:
		if opts.Extension == nil {
			return nil, errors.Mark(errors.New("the vulkan renderer needs a ray tracing extension loader"), core.ErrUnsupported)
		}
		backend = vulkan.NewRayTracingBackend(opts.Extension, opts.Debug)
	default:
		return nil, errors.Newf("unknown renderer type %d", opts.Type)
	}
	return &Renderer{backend: backend, kind: opts.Type}, nil
}

func (r *Renderer) Type() RendererType {
	return r.kind
}

func (r *Renderer) Initialize(appName string) error {
	if err := r.backend.Initialize(appName); err != nil {
		return errors.Wrapf(err, "initializing the %s renderer", r.kind)
	}
	core.LogInfo("%s renderer initialized.", r.kind)
	return nil
}

// Device is nil until Initialize succeeds.
func (r *Renderer) Device() raytracing.Device {
	return r.backend.RayTracingDevice()
}

func (r *Renderer) Submit(ctx context.Context, g *graph.Graph) (*graph.Submission, graph.Completion, error) {
	if r.Device() == nil {
		return nil, nil, errors.Newf("%s renderer is not initialized", r.kind)
	}
	return r.backend.Submit(ctx, g)
}

func (r *Renderer) Shutdown() error {
	return r.backend.Shutdown()
}
