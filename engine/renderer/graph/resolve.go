package graph

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

// edges returns, per pass index, every pass it must follow: access derived
// dependencies plus explicit After() orderings.
func (g *Graph) edges() ([][]*Pass, error) {
	all := make([][]*Pass, len(g.passes))
	for i, p := range g.passes {
		all[i] = append(all[i], p.deps...)
		for _, name := range p.after {
			dep, ok := g.byName[name]
			if !ok {
				return nil, errors.Wrapf(core.ErrUnknownPass, "pass '%s' is ordered after '%s'", p.name, name)
			}
			all[i] = append(all[i], dep)
		}
	}
	return all, nil
}

// Resolve returns the passes in execution order: a topological sort of the
// dependency list where ties go to the pass declared first.
func (g *Graph) Resolve() ([]*Pass, error) {
	deps, err := g.edges()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	pending := make([]int, len(g.passes))
	dependents := make([][]int, len(g.passes))
	for i, ds := range deps {
		seen := make(map[int]struct{}, len(ds))
		for _, d := range ds {
			if _, dup := seen[d.index]; dup {
				continue
			}
			seen[d.index] = struct{}{}
			pending[i]++
			dependents[d.index] = append(dependents[d.index], i)
		}
	}

	done := make([]bool, len(g.passes))
	order := make([]*Pass, 0, len(g.passes))
	for len(order) < len(g.passes) {
		next := -1
		for i := range g.passes {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, p := range g.passes {
				if !done[i] {
					stuck = append(stuck, p.name)
				}
			}
			err := errors.Wrapf(core.ErrCycle, "graph %s: passes %v", g.name, stuck)
			core.LogError(err.Error())
			return nil, err
		}
		done[next] = true
		order = append(order, g.passes[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return order, nil
}

// DependsOn reports whether a must execute after b, directly or transitively.
func (g *Graph) DependsOn(a, b *Pass) (bool, error) {
	deps, err := g.edges()
	if err != nil {
		return false, err
	}
	visited := make(map[int]bool)
	stack := []*Pass{a}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range deps[p.index] {
			if d == b {
				return true, nil
			}
			if !visited[d.index] {
				visited[d.index] = true
				stack = append(stack, d)
			}
		}
	}
	return false, nil
}
