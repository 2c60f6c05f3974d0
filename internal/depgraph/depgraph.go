// Package depgraph builds the dependency graph over managed packages and
// answers the two questions the rest of the engine needs: the transitive
// closure of a seed set, and a deterministic topological build order.
//
// The graph representation and the topological sort are a direct
// continuation of how gonum's simple.DirectedGraph and
// graph/topo for the same package-build-order problem.
package depgraph

import (
	"sort"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/pkgforge/lilac/internal/recipe"
)

// Dep is a reference from one managed package to another package
// (managed or not).
type Dep struct {
	// PkgName is the target package base (or system package name).
	PkgName string
	// PkgDir is the resolved working directory for PkgName, set only when
	// PkgName refers to a managed package.
	PkgDir string
	// Resolvable reports whether this dependency currently exists, either
	// already installed into the system package database or as a managed
	// package in this repository.
	Resolvable func() bool
}

// Map is pkgbase -> direct dependencies, the output of Build.
type Map map[string][]Dep

// node implements graph.Node; a node exists per managed pkgbase.
type node struct {
	id      int64
	pkgbase string
}

func (n *node) ID() int64 { return n.id }

// Graph is the structural dependency graph over a fixed set of managed
// packages, plus the machinery to expand and order a subset of them.
type Graph struct {
	DepMap Map

	byName map[string]*node
	byID   map[int64]*node
}

// InstalledChecker reports whether a non-managed dependency name already
// exists in the system package database. Implemented by the (external)
// system package manager integration; a nil checker treats every
// non-managed dependency as unresolved.
type InstalledChecker func(name string) bool

// Build constructs the structural dependency map for recipes, resolving
// each declared RepoDepends entry into a Dep. installed classifies
// non-managed dependency names.
func Build(recipes map[string]*recipe.Recipe, pkgDir func(pkgbase string) string, installed InstalledChecker) *Graph {
	depMap := make(Map, len(recipes))
	g := &Graph{
		DepMap: depMap,
		byName: make(map[string]*node, len(recipes)),
		byID:   make(map[int64]*node, len(recipes)),
	}

	var id int64
	for _, pkgbase := range recipe.Sorted(recipes) {
		n := &node{id: id, pkgbase: pkgbase}
		g.byName[pkgbase] = n
		g.byID[id] = n
		id++
	}

	for _, pkgbase := range recipe.Sorted(recipes) {
		r := recipes[pkgbase]
		deps := make([]Dep, 0, len(r.RepoDepends))
		for _, name := range r.RepoDepends {
			name := name
			if target, ok := recipes[name]; ok {
				deps = append(deps, Dep{
					PkgName: name,
					PkgDir:  pkgDir(name),
					Resolvable: func() bool {
						_ = target
						return true // a managed package always "resolves" structurally
					},
				})
				continue
			}
			deps = append(deps, Dep{
				PkgName: name,
				Resolvable: func() bool {
					if installed == nil {
						return false
					}
					return installed(name)
				},
			})
		}
		depMap[pkgbase] = deps
	}

	return g
}

// Closure computes the smallest set B ⊇ seed such that for every p in B
// and every managed dependency d of p, d is also in B. Unmanaged
// dependencies do not expand B. The returned slice is in deterministic
// (lexical) order.
func (g *Graph) Closure(seed []string) []string {
	inClosure := make(map[string]bool, len(seed))
	var queue []string
	for _, p := range seed {
		if !inClosure[p] {
			inClosure[p] = true
			queue = append(queue, p)
		}
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, dep := range g.DepMap[p] {
			if _, managed := g.byName[dep.PkgName]; !managed {
				continue
			}
			if inClosure[dep.PkgName] {
				continue
			}
			inClosure[dep.PkgName] = true
			queue = append(queue, dep.PkgName)
		}
	}
	out := make([]string, 0, len(inClosure))
	for p := range inClosure {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// TopoSort returns building, ordered so that for every edge a -> b with
// both endpoints in building, b precedes a (dependencies before
// dependents). Ties are broken lexicographically on pkgbase for
// determinism.
//
// The implementation follows a two-step approach: edges are added for
// the full closure-expanded universe, gonum's topo.SortStabilized computes a global
// order, and the result is filtered back down to just the requested
// building set — this preserves correct relative ordering even for
// packages pulled in only via transitive expansion.
func (g *Graph) TopoSort(building []string) ([]string, error) {
	want := make(map[string]bool, len(building))
	for _, p := range building {
		want[p] = true
	}

	universe := g.Closure(building)
	dg := simple.NewDirectedGraph()
	nodesByName := make(map[string]*node, len(universe))
	for _, p := range universe {
		n, ok := g.byName[p]
		if !ok {
			continue // not a managed package; nothing to order
		}
		nodesByName[p] = n
		dg.AddNode(n)
	}
	for _, p := range universe {
		from, ok := nodesByName[p]
		if !ok {
			continue
		}
		for _, dep := range g.DepMap[p] {
			to, ok := nodesByName[dep.PkgName]
			if !ok {
				continue
			}
			if to.ID() == from.ID() {
				continue // skip self-edges
			}
			// dependency before dependent: edge points dependent -> dependency,
			// dep "to" must sort first, so draw from=dependent, to=dependency.
			dg.SetEdge(dg.NewEdge(from, to))
		}
	}

	ordered, err := topo.SortStabilized(dg, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].(*node).pkgbase < nodes[j].(*node).pkgbase
		})
	})
	if err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			return nil, xerrors.Errorf("dependency cycle detected among: %v", cycleNames(uo))
		}
		return nil, xerrors.Errorf("topological sort: %w", err)
	}

	// topo.Sort with our edge direction (dependent -> dependency) returns
	// dependents before dependencies, so reverse to get build order.
	result := make([]string, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		name := ordered[i].(*node).pkgbase
		if want[name] {
			result = append(result, name)
		}
	}
	return result, nil
}

func cycleNames(uo topo.Unorderable) [][]string {
	out := make([][]string, len(uo))
	for i, component := range uo {
		names := make([]string, len(component))
		for j, n := range component {
			names[j] = n.(*node).pkgbase
		}
		out[i] = names
	}
	return out
}
