package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
	"github.com/spaghettifunk/anima-rt/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	isRunning     atomic.Bool
	submitter     Submitter
	systemManager *systems.SystemManager
	clock         *core.Clock
	lastTime      float64
	frameNumber   uint64
	stopWatching  func() error
}

func New(g *Game, device raytracing.Device, submitter Submitter) (*Engine, error) {
	config := core.DefaultConfig()
	if path := g.ApplicationConfig.ConfigPath; path != "" {
		c, err := core.LoadConfig(path)
		if err != nil {
			err = errors.Wrapf(err, "loading config %s", path)
			core.LogError(err.Error())
			return nil, err
		}
		config = c
	}
	if err := core.SetLogLevel(config.Log.Level); err != nil {
		return nil, err
	}

	sm, err := systems.NewSystemManager(config, device)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		submitter:     submitter,
		systemManager: sm,
		clock:         core.NewClock(),
	}, nil
}

func (e *Engine) SystemManager() *systems.SystemManager {
	return e.systemManager
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// FrameNumber is the number of frames submitted so far.
func (e *Engine) FrameNumber() uint64 {
	return e.frameNumber
}

func (e *Engine) Initialize(ctx context.Context) error {
	e.currentStage = EngineStageInitializing

	// initialize events
	core.EventInitialize()
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		stop, err := core.WatchConfig(path, func(*core.Config) {
			event := core.EventContext{}
			event.Data.C[0] = path
			core.EventFire(core.EVENT_CODE_CONFIG_RELOADED, e, event)
		})
		if err != nil {
			core.LogWarn("config %s will not be watched: %s", path, err)
		} else {
			e.stopWatching = stop
		}
	}

	upload := graph.New("upload")
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.systemManager, upload); err != nil {
			return err
		}
	}
	if len(upload.Passes()) > 0 {
		sub, done, err := e.submitter.Submit(ctx, upload)
		if err != nil {
			return err
		}
		if err := e.systemManager.SubmitFrame(ctx, upload.Name(), sub, done, nil); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized.", e.gameInstance.ApplicationConfig.Name)
	return nil
}

// Run submits frames until the frame budget is spent, a quit event arrives or
// ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.Newf("engine cannot run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed().Seconds()

	budget := e.gameInstance.ApplicationConfig.Frames
	for e.isRunning.Load() {
		if budget > 0 && e.frameNumber >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed().Seconds()
		delta := currentTime - e.lastTime

		if err := e.frame(ctx, delta); err != nil {
			core.LogError("frame %d failed, shutting down: %s", e.frameNumber, err)
			e.isRunning.Store(false)
			return err
		}
		e.lastTime = currentTime
	}
	e.isRunning.Store(false)

	// Drain even when ctx is what stopped the loop.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.systemManager.Config().RetireTimeout())
	defer cancel()
	return e.systemManager.WaitIdle(waitCtx)
}

func (e *Engine) frame(ctx context.Context, delta float64) error {
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(e.systemManager, delta); err != nil {
			return err
		}
	}

	name := fmt.Sprintf("frame-%d", e.frameNumber)
	g := graph.New(name)
	tlas, err := e.systemManager.Scene().BuildTopLevel(g)
	if err != nil {
		return err
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(e.systemManager, g, tlas); err != nil {
			if tlas != nil {
				tlas.Destroy()
			}
			return err
		}
	}

	sub, done, err := e.submitter.Submit(ctx, g)
	if err != nil {
		if tlas != nil {
			tlas.Destroy()
		}
		return err
	}
	if err := e.systemManager.SubmitFrame(ctx, name, sub, done, tlas); err != nil {
		return err
	}
	e.frameNumber++
	return nil
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	if e.stopWatching != nil {
		if err := e.stopWatching(); err != nil {
			core.LogWarn("stopping config watcher: %s", err)
		}
		e.stopWatching = nil
	}
	if err := e.systemManager.Shutdown(); err != nil {
		return err
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			return err
		}
	}
	blas, tlas, scratch, submissions := core.Metrics().Snapshot()
	core.LogInfo("%d frames, %d submissions (avg %.3fms), %d blas builds, %d tlas builds, %d scratch bytes leased",
		e.frameNumber, submissions, core.Metrics().AverageSubmissionMS(), blas, tlas, scratch)

	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	return core.EventShutdown()
}

func (e *Engine) onEvent(code core.SystemEventCode, _ interface{}, _ interface{}, _ core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}
