// Package graph schedules GPU work as passes over resource nodes. Each pass
// declares which nodes it reads and writes; the graph derives the dependency
// list from those declarations and records passes in a topological order with
// barriers between dependent work.
package graph

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

// Node identifies a resource bound to a graph.
type Node int

type AccessKind int

const (
	AccessRead AccessKind = 1 << iota
	AccessWrite
	AccessReadWrite = AccessRead | AccessWrite
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("AccessKind(%d)", int(k))
}

func (k AccessKind) writes() bool {
	return k&AccessWrite != 0
}

type Access struct {
	Node Node
	Kind AccessKind
}

// Lease is a transient resource handed out for the lifetime of one submission.
type Lease interface {
	Resource() any
	// Release returns the resource to its owner. It must only be called once
	// the GPU work using it has completed.
	Release()
}

// Leaser hands out leases. All sizes of one submission are requested in a
// single call so a submission never holds part of its leases while waiting
// for the rest.
type Leaser interface {
	Acquire(ctx context.Context, sizes []uint64) ([]Lease, error)
}

// Barrier is passed to the command buffer before a pass that depends on work
// recorded since the previous barrier, or on writes of an earlier submission
// that may still be executing.
type Barrier struct {
	Before []*Pass
	After  *Pass
	// Pending names the nodes of After written by earlier submissions.
	Pending []string
}

// CommandBuffer is the minimum a recording target has to provide. Passes
// type-assert it to the richer interface they need.
type CommandBuffer interface {
	PipelineBarrier(b Barrier)
}

// Completion signals that the GPU finished executing a submission.
type Completion interface {
	Wait(ctx context.Context) error
}

type resourceNode struct {
	name      string
	resource  any
	leaser    Leaser
	leaseSize uint64
	// pending nodes were written by a submission that may not have retired.
	pending bool
}

type Graph struct {
	name   string
	nodes  []resourceNode
	bound  map[any]Node
	passes []*Pass
	byName map[string]*Pass

	lastWriter map[Node]*Pass
	readers    map[Node][]*Pass

	submitted bool
}

func New(name string) *Graph {
	return &Graph{
		name:       name,
		bound:      make(map[any]Node),
		byName:     make(map[string]*Pass),
		lastWriter: make(map[Node]*Pass),
		readers:    make(map[Node][]*Pass),
	}
}

func (g *Graph) Name() string {
	return g.name
}

func label(name, kind string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
}

// Bind returns the node for resource, creating it on first use. Binding the
// same resource value twice yields the same node.
func (g *Graph) Bind(name string, resource any) Node {
	comparable := resource != nil && reflect.TypeOf(resource).Comparable()
	if comparable {
		if n, ok := g.bound[resource]; ok {
			return n
		}
	}
	n := Node(len(g.nodes))
	g.nodes = append(g.nodes, resourceNode{name: label(name, "node"), resource: resource})
	if comparable {
		g.bound[resource] = n
	}
	return n
}

// BindPending is Bind for a resource written by an earlier submission that may
// still be executing. Submit records a barrier before the first pass touching
// it. A node already written on g keeps its ordinary dependencies.
func (g *Graph) BindPending(name string, resource any) Node {
	n := g.Bind(name, resource)
	if _, ok := g.lastWriter[n]; !ok {
		g.nodes[n].pending = true
	}
	return n
}

// IsPending reports whether n was bound with BindPending and has no writer on g.
func (g *Graph) IsPending(n Node) bool {
	if !g.valid(n) || !g.nodes[n].pending {
		return false
	}
	_, written := g.lastWriter[n]
	return !written
}

// BindLease creates a node whose resource is leased from leaser when the
// graph is submitted.
func (g *Graph) BindLease(name string, leaser Leaser, size uint64) Node {
	n := Node(len(g.nodes))
	g.nodes = append(g.nodes, resourceNode{name: label(name, "lease"), leaser: leaser, leaseSize: size})
	return n
}

func (g *Graph) valid(n Node) bool {
	return n >= 0 && int(n) < len(g.nodes)
}

func (g *Graph) NodeName(n Node) string {
	if !g.valid(n) {
		return fmt.Sprintf("node(%d)", int(n))
	}
	return g.nodes[n].name
}

// IsLeased reports whether n is resolved from a leaser at submission.
func (g *Graph) IsLeased(n Node) bool {
	return g.valid(n) && g.nodes[n].leaser != nil
}

// Passes returns registered passes in declaration order.
func (g *Graph) Passes() []*Pass {
	return append([]*Pass(nil), g.passes...)
}

func (g *Graph) Pass(name string) (*Pass, bool) {
	p, ok := g.byName[name]
	return p, ok
}

func (g *Graph) BeginPass(name string) *PassBuilder {
	return &PassBuilder{g: g, name: name, kinds: make(map[Node]AccessKind)}
}

// register derives the dependencies of p from the accesses declared so far:
// reads wait on the last writer, writes wait on the last writer and on every
// reader since it.
func (g *Graph) register(p *Pass) {
	deps := make(map[*Pass]struct{})
	for _, a := range p.accesses {
		if w, ok := g.lastWriter[a.Node]; ok {
			deps[w] = struct{}{}
		}
		if a.Kind.writes() {
			for _, r := range g.readers[a.Node] {
				if r != p {
					deps[r] = struct{}{}
				}
			}
		}
	}
	for _, a := range p.accesses {
		if a.Kind.writes() {
			g.lastWriter[a.Node] = p
			delete(g.readers, a.Node)
		} else {
			g.readers[a.Node] = append(g.readers[a.Node], p)
		}
	}
	for d := range deps {
		p.deps = append(p.deps, d)
	}
	sortPasses(p.deps)

	p.index = len(g.passes)
	g.passes = append(g.passes, p)
	g.byName[p.name] = p
	core.LogDebug("graph %s: pass '%s' registered (%d accesses, %d dependencies)", g.name, p.name, len(p.accesses), len(p.deps))
}
