package builder

import (
	"errors"
	"testing"

	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/upstream"
)

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		lastLine string
		wantKind Kind
	}{
		{"LILAC_SKIP: nothing to do", SkipBuild},
		{"LILAC_MISSING_DEP: libfoo", MissingDependency},
		{"LILAC_CONFLICT: replaces bar", ConflictWithOfficial},
		{"LILAC_DOWNGRADE: 1.0-1 2.0-1", Downgrading},
		{"some random compiler error", GenericError},
	}
	for _, c := range cases {
		o := classifyFailure(c.lastLine, errors.New("exit status 1"))
		if o.Kind != c.wantKind {
			t.Errorf("classifyFailure(%q) kind = %v, want %v", c.lastLine, o.Kind, c.wantKind)
		}
	}
}

func TestClassifyFailureParsesDowngradeVersions(t *testing.T) {
	o := classifyFailure("LILAC_DOWNGRADE: 1.0-1 2.0-1", errors.New("x"))
	if o.BuiltVersion != "1.0-1" || o.RepoVersion != "2.0-1" {
		t.Errorf("got built=%q repo=%q", o.BuiltVersion, o.RepoVersion)
	}
}

func TestClassifySuccess(t *testing.T) {
	req := Request{
		Recipe:     &recipe.Recipe{Pkgrel: 3},
		UpdateInfo: upstream.Result{NewVer: "1.2.3"},
	}
	o := classifySuccess("", req)
	if o.Kind != Success {
		t.Fatalf("Kind = %v, want Success", o.Kind)
	}
	if o.Pkgver != "1.2.3" || o.Pkgrel != "3" {
		t.Errorf("Pkgver=%q Pkgrel=%q", o.Pkgver, o.Pkgrel)
	}
}

func TestBecomeSubreaper(t *testing.T) {
	if err := BecomeSubreaper(); err != nil {
		t.Fatalf("BecomeSubreaper() = %v, want no error", err)
	}
}
