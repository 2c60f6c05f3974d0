package depgraph

import (
	"reflect"
	"testing"

	"github.com/pkgforge/lilac/internal/recipe"
)

func recipes(deps map[string][]string) map[string]*recipe.Recipe {
	out := make(map[string]*recipe.Recipe, len(deps))
	for pkgbase, d := range deps {
		out[pkgbase] = &recipe.Recipe{Pkgbase: pkgbase, RepoDepends: d}
	}
	return out
}

func dir(pkgbase string) string { return "/pkgs/" + pkgbase }

func TestClosure(t *testing.T) {
	g := Build(recipes(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
		"d": nil,
	}), dir, nil)

	got := g.Closure([]string{"a"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Closure(a) = %v, want %v", got, want)
	}
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	g := Build(recipes(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
	}), dir, nil)

	order, err := g.TopoSort([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int, len(order))
	for i, p := range order {
		pos[p] = i
	}
	if pos["c"] > pos["b"] || pos["b"] > pos["a"] {
		t.Errorf("order %v does not build dependencies before dependents", order)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := Build(recipes(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}), dir, nil)

	if _, err := g.TopoSort([]string{"a", "b"}); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestUnmanagedDependencyResolvable(t *testing.T) {
	r := recipes(map[string][]string{"a": {"glibc"}})
	installed := func(name string) bool { return name == "glibc" }
	g := Build(r, dir, installed)

	deps := g.DepMap["a"]
	if len(deps) != 1 {
		t.Fatalf("expected 1 dep, got %d", len(deps))
	}
	if deps[0].PkgDir != "" {
		t.Errorf("expected unmanaged dep to have no PkgDir, got %q", deps[0].PkgDir)
	}
	if !deps[0].Resolvable() {
		t.Error("expected glibc to resolve via installed checker")
	}
}
