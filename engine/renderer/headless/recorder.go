package headless

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/graph"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

// Pipeline hands out deterministic group handles: every byte of the handle of
// group i is i+1.
type Pipeline struct {
	groups     uint32
	handleSize uint32
}

func NewPipeline(groups, handleSize uint32) *Pipeline {
	return &Pipeline{groups: groups, handleSize: handleSize}
}

// Handle is the handle GroupHandle returns for group.
func (p *Pipeline) Handle(group uint32) []byte {
	return bytes.Repeat([]byte{byte(group + 1)}, int(p.handleSize))
}

func (p *Pipeline) GroupHandle(group uint32) ([]byte, error) {
	if group >= p.groups {
		return nil, errors.Wrapf(core.ErrInvalidShaderGroup, "pipeline has %d groups, asked for %d", p.groups, group)
	}
	return p.Handle(group), nil
}

// Build is one recorded acceleration structure build.
type Build struct {
	Command raytracing.BuildCommand
	Ranges  []metadata.BuildRange
}

// Recorder is a command buffer that records what it is asked to do.
type Recorder struct {
	// FailBuilds makes every build command fail with this error.
	FailBuilds error

	events   []string
	builds   []Build
	barriers []graph.Barrier
}

func (r *Recorder) PipelineBarrier(b graph.Barrier) {
	names := make([]string, len(b.Before))
	for i, p := range b.Before {
		names[i] = p.Name()
	}
	r.barriers = append(r.barriers, b)
	if len(b.Pending) > 0 {
		r.events = append(r.events, fmt.Sprintf("barrier %v pending %v -> %s", names, b.Pending, b.After.Name()))
		return
	}
	r.events = append(r.events, fmt.Sprintf("barrier %v -> %s", names, b.After.Name()))
}

func (r *Recorder) BuildAccelerationStructure(cmd raytracing.BuildCommand, ranges []metadata.BuildRange) error {
	if r.FailBuilds != nil {
		return r.FailBuilds
	}
	if cmd.Destination == nil {
		return errors.New("build without destination")
	}
	if cmd.ScratchAddress == 0 {
		return errors.New("build without scratch memory")
	}
	r.builds = append(r.builds, Build{Command: cmd, Ranges: append([]metadata.BuildRange(nil), ranges...)})
	r.events = append(r.events, fmt.Sprintf("build %s %d", cmd.Geometry.Type, cmd.Geometry.PrimitiveCount()))
	return nil
}

func (r *Recorder) Events() []string {
	return append([]string(nil), r.events...)
}

func (r *Recorder) Builds() []Build {
	return append([]Build(nil), r.builds...)
}

func (r *Recorder) Barriers() []graph.Barrier {
	return append([]graph.Barrier(nil), r.barriers...)
}

// Fence is a completion that is signalled by hand.
type Fence struct {
	once sync.Once
	done chan struct{}
}

func NewFence() *Fence {
	return &Fence{done: make(chan struct{})}
}

// SignaledFence is a fence whose work has already finished.
func SignaledFence() *Fence {
	f := NewFence()
	f.Signal()
	return f
}

func (f *Fence) Signal() {
	f.once.Do(func() { close(f.done) })
}

func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue records each submitted graph into a fresh Recorder. Work completes
// as soon as it is submitted.
type Queue struct {
	mu        sync.Mutex
	recorders []*Recorder
}

func (q *Queue) Submit(ctx context.Context, g *graph.Graph) (*graph.Submission, graph.Completion, error) {
	rec := &Recorder{}
	sub, err := g.Submit(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	q.mu.Lock()
	q.recorders = append(q.recorders, rec)
	q.mu.Unlock()
	return sub, SignaledFence(), nil
}

// Recorders returns one recorder per successful submission, oldest first.
func (q *Queue) Recorders() []*Recorder {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Recorder(nil), q.recorders...)
}
