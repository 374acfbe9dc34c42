/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/testbed"
)

func main() {
	configPath := flag.String("config", "", "TOML configuration file")
	frames := flag.Uint64("frames", 120, "frames to render, 0 runs until interrupted")
	backend := flag.String("renderer", "headless", "renderer backend (headless or vulkan)")
	flag.Parse()

	kind, err := renderer.ParseRendererType(*backend)
	if err != nil {
		core.LogFatal("%s", err)
	}
	// No KHR ray tracing loader ships with the vulkan bindings, so the vulkan
	// backend fails here with core.ErrUnsupported until one is provided.
	r, err := renderer.New(renderer.Options{Type: kind, Headless: headless.DefaultConfig()})
	if err != nil {
		core.LogFatal("%s", err)
	}
	if err := r.Initialize("Anima RT testbed"); err != nil {
		core.LogFatal("%s", err)
	}

	props, err := r.Device().RayTracingProperties()
	if err != nil {
		core.LogFatal("%s", err)
	}
	pipeline := headless.NewPipeline(testbed.GroupCount, props.HandleSize)

	tb := testbed.NewTestGame(&engine.ApplicationConfig{
		Name:       "Anima RT testbed",
		ConfigPath: *configPath,
		Frames:     *frames,
	}, pipeline)

	e, err := engine.New(tb.Game, r.Device(), r)
	if err != nil {
		core.LogFatal("%s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Initialize(ctx); err != nil {
		core.LogFatal("%s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
		// A second signal abandons the frame loop.
		<-sigCh
		cancel()
	}()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("engine shutdown: %s", err)
	}
	if err := r.Shutdown(); err != nil {
		core.LogError("renderer shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
