package engine

import (
	"context"

	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnShutdown        Shutdown
}

// Initialize adds meshes and instances to the scene. Builds scheduled in
// upload are submitted before the first frame.
type Initialize func(sm *systems.SystemManager, upload *graph.Graph) error

// Update runs once per frame before the top level is rebuilt.
type Update func(sm *systems.SystemManager, deltaTime float64) error

// Render adds passes consuming tlas to frame. tlas is nil for an empty scene.
type Render func(sm *systems.SystemManager, frame *graph.Graph, tlas *raytracing.Tlas) error

type Shutdown func() error

// Submitter records a graph for the device and reports when the device is done with it.
type Submitter interface {
	Submit(ctx context.Context, g *graph.Graph) (*graph.Submission, graph.Completion, error)
}
