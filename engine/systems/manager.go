package systems

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

type inFlightFrame struct {
	name    string
	tlas    *raytracing.Tlas
	retired chan error
}

type SystemManager struct {
	config      *core.Config
	device      raytracing.Device
	scratchPool *raytracing.ScratchPool
	jobSystem   *JobSystem
	sceneSystem *SceneSystem

	mu     sync.Mutex
	frames *containers.RingQueue[*inFlightFrame]
	// stranded holds top levels of frames whose retirement failed. The
	// device may still read them, so they live until Shutdown.
	stranded []*raytracing.Tlas
}

func NewSystemManager(config *core.Config, device raytracing.Device) (*SystemManager, error) {
	if err := config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	pool, err := raytracing.NewScratchPool(device, raytracing.ScratchPoolConfig{
		MaxLeases:    config.RayTracing.MaxScratchLeases,
		MinBlockSize: config.RayTracing.MinScratchBlockSize,
	})
	if err != nil {
		return nil, err
	}
	js, err := NewJobSystem(config.RayTracing.JobWorkers, config.RayTracing.MaxFramesInFlight)
	if err != nil {
		pool.Destroy()
		return nil, err
	}
	ss, err := NewSceneSystem(&SceneSystemConfig{
		Name:             "scene",
		MaxMeshCount:     1000,
		MaxInstanceCount: 10000,
	}, device, pool)
	if err != nil {
		_ = js.Shutdown()
		pool.Destroy()
		return nil, err
	}
	return &SystemManager{
		config:      config,
		device:      device,
		scratchPool: pool,
		jobSystem:   js,
		sceneSystem: ss,
		frames:      containers.NewRingQueue[*inFlightFrame](config.RayTracing.MaxFramesInFlight),
	}, nil
}

func (sm *SystemManager) Config() *core.Config {
	return sm.config
}

func (sm *SystemManager) Device() raytracing.Device {
	return sm.device
}

func (sm *SystemManager) ScratchPool() *raytracing.ScratchPool {
	return sm.scratchPool
}

func (sm *SystemManager) Jobs() *JobSystem {
	return sm.jobSystem
}

func (sm *SystemManager) Scene() *SceneSystem {
	return sm.sceneSystem
}

// FramesInFlight is the number of submitted frames not yet retired.
func (sm *SystemManager) FramesInFlight() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.frames.Len()
}

// SubmitFrame retires sub in the background once done signals. tlas may be
// nil; otherwise it is destroyed when the frame retires, or at Shutdown when
// retirement fails. When
// MaxFramesInFlight frames are already pending, SubmitFrame first waits for
// the oldest one.
func (sm *SystemManager) SubmitFrame(ctx context.Context, name string, sub *graph.Submission, done graph.Completion, tlas *raytracing.Tlas) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.frames.IsFull() {
		if err := sm.retireOldest(ctx); err != nil {
			return err
		}
	}

	frame := &inFlightFrame{name: name, tlas: tlas, retired: make(chan error, 1)}
	err := sm.jobSystem.Retire(name, sub, done, sm.config.RetireTimeout(), func(err error) {
		frame.retired <- err
	})
	if err != nil {
		return err
	}
	return sm.frames.Enqueue(frame)
}

func (sm *SystemManager) retireOldest(ctx context.Context) error {
	frame, err := sm.frames.Peek()
	if err != nil {
		return err
	}
	select {
	case err := <-frame.retired:
		if _, derr := sm.frames.Dequeue(); derr != nil {
			return derr
		}
		if frame.tlas != nil {
			if err != nil {
				core.LogWarn("frame %s did not retire, keeping %s until shutdown", frame.name, frame.tlas.Name())
				sm.stranded = append(sm.stranded, frame.tlas)
			} else {
				frame.tlas.Destroy()
			}
		}
		event := core.EventContext{}
		event.Data.C[0] = frame.name
		event.Data.U64[0] = uint64(sm.frames.Len())
		if err != nil {
			event.Data.C[1] = err.Error()
			core.EventFire(core.EVENT_CODE_FRAME_RETIRED, sm, event)
			return errors.Wrapf(err, "frame %s", frame.name)
		}
		core.EventFire(core.EVENT_CODE_FRAME_RETIRED, sm, event)
		core.LogDebug("frame %s retired", frame.name)
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for frame %s", frame.name)
	}
}

// WaitIdle retires every pending frame. It returns the first retirement error
// after draining the rest.
func (sm *SystemManager) WaitIdle(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var first error
	for !sm.frames.IsEmpty() {
		if err := sm.retireOldest(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (sm *SystemManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.config.RetireTimeout())
	defer cancel()
	if err := sm.WaitIdle(ctx); err != nil {
		core.LogWarn("shutdown: %s", err)
	}
	if err := sm.jobSystem.Shutdown(); err != nil {
		return err
	}
	sm.mu.Lock()
	for _, tlas := range sm.stranded {
		tlas.Destroy()
	}
	sm.stranded = nil
	sm.mu.Unlock()
	if err := sm.sceneSystem.Shutdown(); err != nil {
		return err
	}
	sm.scratchPool.Destroy()
	return nil
}
