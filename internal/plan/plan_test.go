package plan

import (
	"context"
	"testing"

	"github.com/pkgforge/lilac/internal/depgraph"
	"github.com/pkgforge/lilac/internal/detect"
	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/report"
)

type collectingSink struct {
	reports []report.Report
}

func (s *collectingSink) Deliver(ctx context.Context, r report.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

func buildGraph() *depgraph.Graph {
	recipes := map[string]*recipe.Recipe{
		"a": {Pkgbase: "a", RepoDepends: []string{"b", "curl"}},
		"b": {Pkgbase: "b"},
	}
	return depgraph.Build(recipes, func(p string) string { return "/pkgs/" + p }, func(name string) bool {
		return false // nothing external is pre-installed
	})
}

func TestRunOrdersClosureAndReportsNonexistent(t *testing.T) {
	g := buildGraph()
	sink := &collectingSink{}
	p, err := Run(context.Background(), g, detect.NewSet("a"), nil, sink)
	if err != nil {
		t.Fatal(err)
	}

	if len(p.Order) != 2 || p.Order[0] != "b" || p.Order[1] != "a" {
		t.Fatalf("Order = %v, want [b a]", p.Order)
	}
	if len(p.Nonexistent["a"]) != 1 || p.Nonexistent["a"][0].PkgName != "curl" {
		t.Fatalf("Nonexistent[a] = %+v", p.Nonexistent["a"])
	}
	if len(sink.reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(sink.reports))
	}
}
