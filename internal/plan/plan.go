// Package plan implements the Build Set Planner (C3): it expands the
// change detector's all_building set into the transitive closure,
// records unresolvable external dependencies, and produces the final
// topologically ordered build list plus each package's effective
// dependency set.
package plan

import (
	"context"

	"github.com/pkgforge/lilac/internal/depgraph"
	"github.com/pkgforge/lilac/internal/detect"
	"github.com/pkgforge/lilac/internal/report"
)

// Plan is the output of Run.
type Plan struct {
	// Order is the topologically sorted build list.
	Order []string
	// Depends is the effective per-package dependency set passed on to
	// the build supervisor so the builder backend knows what to install
	// pre-build.
	Depends map[string][]depgraph.Dep
	// Nonexistent records, per package, the unmanaged dependencies that
	// failed their Resolvable check.
	Nonexistent map[string][]depgraph.Dep
}

// Run builds the Plan from the detector's all_building set.
func Run(ctx context.Context, g *depgraph.Graph, allBuilding detect.Set, maintainers func(pkgbase string) []report.Recipient, sink report.Sink) (*Plan, error) {
	seed := make([]string, 0, len(allBuilding))
	for p := range allBuilding {
		seed = append(seed, p)
	}
	closure := g.Closure(seed)

	nonexistent := make(map[string][]depgraph.Dep)
	for _, p := range closure {
		for _, dep := range g.DepMap[p] {
			if dep.PkgDir != "" {
				continue // managed dependency, not a candidate for nonexistent
			}
			if dep.Resolvable != nil && dep.Resolvable() {
				continue
			}
			nonexistent[p] = append(nonexistent[p], dep)
		}
	}

	for p, deps := range nonexistent {
		if sink == nil {
			continue
		}
		for _, dep := range deps {
			var recipients []report.Recipient
			if maintainers != nil {
				recipients = maintainers(p)
			}
			var maintainer report.Recipient
			if len(recipients) > 0 {
				maintainer = recipients[0]
			}
			_ = sink.Deliver(ctx, report.Report{
				Pkgbase:    p,
				Subject:    p + ": dependency does not exist",
				Body:       "package " + p + " declares a dependency on " + dep.PkgName + ", which does not exist and is not a managed package",
				Maintainer: maintainer,
			})
		}
	}

	order, err := g.TopoSort(closure)
	if err != nil {
		return nil, err
	}

	// Filter the order to just the closure (defends against
	// the toposort's vertex set drifting from the intended universe).
	inClosure := make(map[string]bool, len(closure))
	for _, p := range closure {
		inClosure[p] = true
	}
	filtered := order[:0:0]
	for _, p := range order {
		if inClosure[p] {
			filtered = append(filtered, p)
		}
	}

	depends := make(map[string][]depgraph.Dep, len(closure))
	for _, p := range closure {
		depends[p] = g.DepMap[p]
	}

	return &Plan{
		Order:       filtered,
		Depends:     depends,
		Nonexistent: nonexistent,
	}, nil
}
