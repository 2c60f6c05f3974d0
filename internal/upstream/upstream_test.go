package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkgforge/lilac/internal/recipe"
)

func TestCheckNoUpstreamURLIsUnknown(t *testing.T) {
	recipes := map[string]*recipe.Recipe{
		"a": {Pkgbase: "a"},
	}
	c := &HTTPChecker{}
	out, err := c.Check(context.Background(), recipes, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Unknown["a"] {
		t.Error("expected a to be unknown without an upstream_url")
	}
}

func TestCheckForceRebuildIsUnconditional(t *testing.T) {
	recipes := map[string]*recipe.Recipe{
		"a": {Pkgbase: "a", ForceRebuild: true},
	}
	c := &HTTPChecker{}
	out, err := c.Check(context.Background(), recipes, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.UnconditionalRebuild["a"] {
		t.Error("expected a in UnconditionalRebuild")
	}
}

func TestCheckParsesLatestVersionFromListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<a href="foo-1.2.0.tar.gz">foo-1.2.0.tar.gz</a>
<a href="foo-1.10.0.tar.gz">foo-1.10.0.tar.gz</a>
<a href="foo-1.3.0.tar.gz">foo-1.3.0.tar.gz</a>
</body></html>`))
	}))
	defer srv.Close()

	recipes := map[string]*recipe.Recipe{
		"foo": {Pkgbase: "foo", UpstreamURL: srv.URL},
	}
	c := &HTTPChecker{}
	out, err := c.Check(context.Background(), recipes, map[string]string{"foo": "1.0.0"})
	if err != nil {
		t.Fatal(err)
	}
	r, ok := out.Results["foo"]
	if !ok {
		t.Fatal("expected a result for foo")
	}
	if r.NewVer != "1.10.0" {
		t.Errorf("NewVer = %q, want 1.10.0 (semver picks highest, not lexicographic)", r.NewVer)
	}
}
