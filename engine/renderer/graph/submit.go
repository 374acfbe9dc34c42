package graph

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"golang.org/x/exp/slices"
)

// Resources resolves nodes to the resources bound or leased for them.
type Resources struct {
	g      *Graph
	leased map[Node]any
}

func (r *Resources) Get(n Node) (any, error) {
	if !r.g.valid(n) {
		return nil, errors.Wrapf(core.ErrUnknownNode, "node %d", int(n))
	}
	if r.g.nodes[n].leaser != nil {
		res, ok := r.leased[n]
		if !ok {
			return nil, errors.Newf("lease for node '%s' not acquired", r.g.nodes[n].name)
		}
		return res, nil
	}
	return r.g.nodes[n].resource, nil
}

// Resource returns the resource of n as a T.
func Resource[T any](r *Resources, n Node) (T, error) {
	var zero T
	v, err := r.Get(n)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Newf("node '%s' holds %T", r.g.NodeName(n), v)
	}
	return t, nil
}

// Submission holds what a submitted graph leased until the GPU is done with it.
type Submission struct {
	graph    *Graph
	leases   []Lease
	hooks    []func()
	complete sync.Once
}

// Complete releases every lease and runs the OnComplete hooks of all passes.
// Call it only once the GPU has finished the recorded work. Later calls do nothing.
func (s *Submission) Complete() {
	s.complete.Do(func() {
		for _, l := range s.leases {
			l.Release()
		}
		s.leases = nil
		for _, h := range s.hooks {
			h()
		}
		core.LogDebug("graph %s: submission retired", s.graph.name)
	})
}

// Abort releases every lease without running the OnComplete hooks. Use it
// when the recorded work never reached the GPU. Later calls to Complete do nothing.
func (s *Submission) Abort() {
	s.complete.Do(func() {
		for _, l := range s.leases {
			l.Release()
		}
		s.leases = nil
		core.LogWarn("graph %s: submission aborted", s.graph.name)
	})
}

// Retire waits for c and then completes the submission.
func (s *Submission) Retire(ctx context.Context, c Completion) error {
	if err := c.Wait(ctx); err != nil {
		return errors.Wrapf(err, "graph %s: waiting for completion", s.graph.name)
	}
	s.Complete()
	return nil
}

func (g *Graph) acquireLeases(ctx context.Context) (map[Node]any, []Lease, error) {
	// Only nodes some registered pass touches are leased.
	used := make(map[Node]bool)
	for _, p := range g.passes {
		for _, a := range p.accesses {
			used[a.Node] = true
		}
	}

	var leasers []Leaser
	requests := make(map[Leaser][]Node)
	for i, n := range g.nodes {
		if n.leaser == nil || !used[Node(i)] {
			continue
		}
		if _, ok := requests[n.leaser]; !ok {
			leasers = append(leasers, n.leaser)
		}
		requests[n.leaser] = append(requests[n.leaser], Node(i))
	}

	leased := make(map[Node]any)
	var held []Lease
	for _, l := range leasers {
		nodes := requests[l]
		sizes := make([]uint64, len(nodes))
		for i, n := range nodes {
			sizes[i] = g.nodes[n].leaseSize
		}
		got, err := l.Acquire(ctx, sizes)
		if err != nil {
			for _, h := range held {
				h.Release()
			}
			return nil, nil, err
		}
		for i, n := range nodes {
			leased[n] = got[i].Resource()
		}
		held = append(held, got...)
	}
	return leased, held, nil
}

// Submit records every pass into cmd in resolved order. It is the only call
// that may block: leases wait for earlier submissions to retire. If recording
// fails, the leases are released and cmd must be discarded.
func (g *Graph) Submit(ctx context.Context, cmd CommandBuffer) (*Submission, error) {
	if g.submitted {
		return nil, errors.Wrapf(core.ErrAlreadySubmitted, "graph %s", g.name)
	}
	order, err := g.Resolve()
	if err != nil {
		return nil, err
	}
	deps, err := g.edges()
	if err != nil {
		return nil, err
	}

	clock := core.NewClock()
	clock.Start()

	leased, leases, err := g.acquireLeases(ctx)
	if err != nil {
		err = errors.Wrapf(err, "graph %s: leasing transient resources", g.name)
		core.LogError(err.Error())
		return nil, err
	}
	g.submitted = true

	res := &Resources{g: g, leased: leased}
	sub := &Submission{graph: g, leases: leases}

	// Passes recorded since the last barrier.
	unsynced := make(map[*Pass]struct{})
	// Any barrier also orders everything submitted earlier on the queue, so
	// pending nodes need one only until the first barrier is recorded.
	earlierSynced := false
	for _, p := range order {
		var before []*Pass
		for _, d := range deps[p.index] {
			if _, ok := unsynced[d]; ok && !slices.Contains(before, d) {
				before = append(before, d)
			}
		}
		var pending []string
		if !earlierSynced {
			for _, a := range p.accesses {
				if g.IsPending(a.Node) {
					pending = append(pending, g.nodes[a.Node].name)
				}
			}
		}
		if len(before) > 0 || len(pending) > 0 {
			sortPasses(before)
			cmd.PipelineBarrier(Barrier{Before: before, After: p, Pending: pending})
			unsynced = make(map[*Pass]struct{})
			earlierSynced = true
		}
		if err := p.record(cmd, res); err != nil {
			for _, l := range leases {
				l.Release()
			}
			err = errors.Wrapf(err, "graph %s: recording pass '%s'", g.name, p.name)
			core.LogError(err.Error())
			return nil, err
		}
		unsynced[p] = struct{}{}
		sub.hooks = append(sub.hooks, p.onComplete...)
	}

	clock.Stop()
	core.Metrics().SubmissionTime(clock.Elapsed())
	core.LogDebug("graph %s: recorded %d passes in %s", g.name, len(order), clock.Elapsed())
	return sub, nil
}
