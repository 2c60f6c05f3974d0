package detect

import (
	"context"
	"testing"

	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/upstream"
	"github.com/pkgforge/lilac/internal/vcs"
)

type fakeDriver struct {
	changed []string
}

func (f *fakeDriver) CurrentBranch(context.Context) (string, error)   { return "master", nil }
func (f *fakeDriver) ResetHard(context.Context) error                 { return nil }
func (f *fakeDriver) PullOverride(context.Context) error              { return nil }
func (f *fakeDriver) Push(context.Context) error                      { return nil }
func (f *fakeDriver) Head(context.Context) (string, error)            { return "HEAD", nil }
func (f *fakeDriver) ChangedPaths(context.Context, string, string) ([]string, error) {
	return f.changed, nil
}

func TestRunEmptyTreeMarksEverythingChanged(t *testing.T) {
	recipes := map[string]*recipe.Recipe{
		"a": {Pkgbase: "a"},
		"b": {Pkgbase: "b"},
	}
	checked := &upstream.Output{
		Results: map[string]upstream.Result{},
		Unknown: map[string]bool{"a": true, "b": true},
	}
	r, err := Run(context.Background(), recipes, checked, NewSet(), nil, &fakeDriver{}, vcs.EmptyTree, "HEAD", noPkgrel)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Changed["a"] || !r.Changed["b"] {
		t.Errorf("expected all packages changed on empty tree, got %v", r.Changed)
	}
}

func TestRunNeedRebuildFailedOnlyWhenChangedAndFailed(t *testing.T) {
	recipes := map[string]*recipe.Recipe{"a": {Pkgbase: "a"}, "b": {Pkgbase: "b"}}
	checked := &upstream.Output{
		Results: map[string]upstream.Result{},
		Unknown: map[string]bool{"a": true, "b": true},
	}
	failed := map[string]string{"a": "1.0", "b": "1.0"}
	r, err := Run(context.Background(), recipes, checked, NewSet(), failed, &fakeDriver{changed: []string{"a"}}, "abc123", "HEAD", noPkgrel)
	if err != nil {
		t.Fatal(err)
	}
	if !r.NeedRebuildFailed["a"] {
		t.Errorf("expected a in need_rebuild_failed, got %v", r.NeedRebuildFailed)
	}
	if r.NeedRebuildFailed["b"] {
		t.Errorf("expected failed but unchanged b not in need_rebuild_failed, got %v", r.NeedRebuildFailed)
	}
}

func TestRunExcludesUnknownFromPkgrelTrigger(t *testing.T) {
	recipes := map[string]*recipe.Recipe{"a": {Pkgbase: "a", Pkgrel: 2}}
	checked := &upstream.Output{
		Results: map[string]upstream.Result{},
		Unknown: map[string]bool{"a": true},
	}
	pkgrelAt := func(ctx context.Context, rev, pkgbase string) (int, error) { return 1, nil }
	r, err := Run(context.Background(), recipes, checked, NewSet(), nil, &fakeDriver{changed: []string{"a"}}, "abc123", "HEAD", pkgrelAt)
	if err != nil {
		t.Fatal(err)
	}
	if r.NeedRebuildPkgrel["a"] {
		t.Error("expected unknown-upstream package excluded from pkgrel-triggered rebuild")
	}
}

func TestManual(t *testing.T) {
	r := Manual([]string{"a", "b"}, NewSet("c"))
	if !r.AllBuilding["a"] || !r.AllBuilding["b"] || !r.AllBuilding["c"] {
		t.Errorf("AllBuilding = %v", r.AllBuilding)
	}
	if !r.Unconditional["c"] || len(r.Unconditional) != 1 {
		t.Errorf("Unconditional = %v, want just {c}", r.Unconditional)
	}
}

func TestRunKeepsUnconditionalSeparateFromAllBuilding(t *testing.T) {
	recipes := map[string]*recipe.Recipe{"a": {Pkgbase: "a"}}
	checked := &upstream.Output{
		Results: map[string]upstream.Result{"a": {OldVer: "1", NewVer: "1"}},
		Unknown: map[string]bool{},
	}
	r, err := Run(context.Background(), recipes, checked, NewSet("z"), nil, &fakeDriver{}, vcs.EmptyTree, "HEAD", noPkgrel)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Unconditional["z"] || len(r.Unconditional) != 1 {
		t.Errorf("Unconditional = %v, want just {z}", r.Unconditional)
	}
	if !r.AllBuilding["z"] {
		t.Errorf("AllBuilding = %v, want z present via unconditional", r.AllBuilding)
	}
}

func noPkgrel(ctx context.Context, rev, pkgbase string) (int, error) { return 0, nil }
