package recipe

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeRecipe(t *testing.T, dir, pkgbase, body string) {
	t.Helper()
	pdir := filepath.Join(dir, pkgbase)
	if err := os.MkdirAll(pdir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(pdir, fileName), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadParsesMaintainersAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "foo", `
[[maintainer]]
name = "Jane Doe"
email = "jane@example.com"
handle = "janedoe"
`)

	l := &Loader{PkgsDir: dir}
	recipes, errs := l.Load()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	r, ok := recipes["foo"]
	if !ok {
		t.Fatal("expected recipe for foo")
	}
	if r.Pkgbase != "foo" {
		t.Errorf("Pkgbase = %q, want foo", r.Pkgbase)
	}
	if r.TimeLimitHours != defaultTimeLimitHours {
		t.Errorf("TimeLimitHours = %d, want default %d", r.TimeLimitHours, defaultTimeLimitHours)
	}
	if len(r.Maintainers) != 1 || r.Maintainers[0].Handle != "janedoe" {
		t.Errorf("Maintainers = %+v", r.Maintainers)
	}
}

func TestLoadRejectsRecipeWithoutMaintainer(t *testing.T) {
	dir := t.TempDir()
	writeRecipe(t, dir, "bar", `time_limit_hours = 2`)

	l := &Loader{PkgsDir: dir}
	_, errs := l.Load()
	if _, ok := errs["bar"]; !ok {
		t.Fatal("expected a load error for a maintainer-less recipe")
	}
}

func TestSortedIsDeterministic(t *testing.T) {
	recipes := map[string]*Recipe{
		"zeta":  {Pkgbase: "zeta"},
		"alpha": {Pkgbase: "alpha"},
		"mu":    {Pkgbase: "mu"},
	}
	got := Sorted(recipes)
	want := []string{"alpha", "mu", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sorted() = %v, want %v", got, want)
		}
	}
}
