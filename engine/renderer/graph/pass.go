package graph

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"golang.org/x/exp/slices"
)

// RecordFunc records the commands of one pass. It runs during Submit.
type RecordFunc func(cmd CommandBuffer, res *Resources) error

type Pass struct {
	index      int
	name       string
	accesses   []Access
	after      []string
	deps       []*Pass
	record     RecordFunc
	onComplete []func()
}

func (p *Pass) Name() string {
	return p.name
}

// Index is the declaration order of the pass.
func (p *Pass) Index() int {
	return p.index
}

func (p *Pass) Accesses() []Access {
	return append([]Access(nil), p.accesses...)
}

// Dependencies returns the passes p must run after, as derived from resource
// accesses. Explicit After() orderings are added by Resolve.
func (p *Pass) Dependencies() []*Pass {
	return append([]*Pass(nil), p.deps...)
}

func sortPasses(ps []*Pass) {
	slices.SortFunc(ps, func(a, b *Pass) int { return a.index - b.index })
}

// PassBuilder collects the declarations of a pass. Nothing is registered on
// the graph until Record succeeds.
type PassBuilder struct {
	g          *Graph
	name       string
	order      []Node
	kinds      map[Node]AccessKind
	after      []string
	onComplete []func()
	err        error
}

func (pb *PassBuilder) Read(n Node) *PassBuilder {
	return pb.Access(n, AccessRead)
}

func (pb *PassBuilder) Write(n Node) *PassBuilder {
	return pb.Access(n, AccessWrite)
}

// Access declares an access of the given kind. Declaring the same node twice
// merges the kinds.
func (pb *PassBuilder) Access(n Node, kind AccessKind) *PassBuilder {
	if pb.err != nil {
		return pb
	}
	if !pb.g.valid(n) {
		pb.err = errors.Wrapf(core.ErrUnknownNode, "pass '%s': node %d", pb.name, int(n))
		return pb
	}
	if _, seen := pb.kinds[n]; !seen {
		pb.order = append(pb.order, n)
	}
	pb.kinds[n] |= kind
	return pb
}

// After orders the pass behind the named passes regardless of resource access.
func (pb *PassBuilder) After(names ...string) *PassBuilder {
	pb.after = append(pb.after, names...)
	return pb
}

// OnComplete registers fn to run once the submission containing the pass is
// known to have finished on the GPU.
func (pb *PassBuilder) OnComplete(fn func()) *PassBuilder {
	if fn != nil {
		pb.onComplete = append(pb.onComplete, fn)
	}
	return pb
}

// Record registers the pass with its recording callback.
func (pb *PassBuilder) Record(fn RecordFunc) error {
	if pb.err != nil {
		core.LogError(pb.err.Error())
		return pb.err
	}
	if pb.g.submitted {
		err := errors.Wrapf(core.ErrAlreadySubmitted, "pass '%s'", pb.name)
		core.LogError(err.Error())
		return err
	}
	if fn == nil {
		return errors.Newf("pass '%s': nil record function", pb.name)
	}
	if _, dup := pb.g.byName[pb.name]; dup {
		return errors.Newf("pass '%s' already registered on graph %s", pb.name, pb.g.name)
	}

	p := &Pass{
		name:       pb.name,
		after:      pb.after,
		record:     fn,
		onComplete: pb.onComplete,
	}
	for _, n := range pb.order {
		p.accesses = append(p.accesses, Access{Node: n, Kind: pb.kinds[n]})
	}
	pb.g.register(p)
	return nil
}
