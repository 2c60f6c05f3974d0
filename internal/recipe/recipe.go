// Package recipe defines the per-package metadata the build-cycle engine
// consumes. Producing a Recipe from disk is, per design, an external
// concern (the real recipe loader may parse arbitrary per-distribution
// metadata); this package supplies both the data type every other
// component depends on and a reference loader so the engine is runnable
// end to end.
package recipe

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// Maintainer identifies somebody responsible for a package.
type Maintainer struct {
	Name   string `toml:"name"`
	Email  string `toml:"email"`
	Handle string `toml:"handle"`
}

// Recipe is the opaque-to-callers, concrete-in-this-package metadata
// record for a single managed package.
type Recipe struct {
	Pkgbase string

	Maintainers    []Maintainer `toml:"maintainer"`
	TimeLimitHours int          `toml:"time_limit_hours"`
	RepoDepends    []string     `toml:"repo_depends"`

	// Pkgrel is the build-instance revision; used by the change detector
	// to notice recipe-only rebuild triggers (a pkgrel bump with no version change).
	Pkgrel int `toml:"pkgrel"`

	// UpstreamURL and VersionPattern configure the reference upstream
	// checker (internal/upstream). Both optional; a recipe without an
	// UpstreamURL is always in the checker's "unknown" set.
	UpstreamURL    string `toml:"upstream_url"`
	VersionPattern string `toml:"version_pattern"`
	// ForceRebuild places this package in the checker's unconditional
	// rebuild set regardless of version equality (e.g. upstream source
	// changed without a version bump).
	ForceRebuild bool `toml:"force_rebuild"`
}

const defaultTimeLimitHours = 1

// fileName is the metadata file every managed package directory carries.
const fileName = "lilac.toml"

// Loader loads recipes for every managed package found directly under a
// packages root directory (one subdirectory per pkgbase).
type Loader struct {
	// PkgsDir is the directory containing one subdirectory per managed
	// package (e.g. ".../pkgs").
	PkgsDir string
}

// Load walks PkgsDir and returns a recipe per subdirectory found, plus a
// per-pkgbase load error map for directories whose metadata could not be
// parsed. A load error does not abort the walk: a single package's load
// error is recovered, not fatal to the whole load.
func (l *Loader) Load() (map[string]*Recipe, map[string]error) {
	recipes := make(map[string]*Recipe)
	errs := make(map[string]error)

	fis, err := ioutil.ReadDir(l.PkgsDir)
	if err != nil {
		// The whole directory being unreadable is not a per-package
		// concern; surface it against a synthetic pkgbase so the driver
		// loop's failed-store bookkeeping still has somewhere to put it.
		errs["*"] = xerrors.Errorf("reading %s: %w", l.PkgsDir, err)
		return recipes, errs
	}

	for _, fi := range fis {
		if !fi.IsDir() {
			continue
		}
		pkgbase := fi.Name()
		r, err := l.load(pkgbase)
		if err != nil {
			errs[pkgbase] = err
			continue
		}
		recipes[pkgbase] = r
	}
	return recipes, errs
}

func (l *Loader) load(pkgbase string) (*Recipe, error) {
	fn := filepath.Join(l.PkgsDir, pkgbase, fileName)
	var r Recipe
	if _, err := toml.DecodeFile(fn, &r); err != nil {
		return nil, xerrors.Errorf("decoding %s: %w", fn, err)
	}
	r.Pkgbase = pkgbase
	if len(r.Maintainers) == 0 {
		return nil, fmt.Errorf("%s: recipe has no maintainers", pkgbase)
	}
	if r.TimeLimitHours <= 0 {
		r.TimeLimitHours = defaultTimeLimitHours
	}
	return &r, nil
}

// Dir returns the working-directory path for pkgbase beneath PkgsDir.
func (l *Loader) Dir(pkgbase string) string {
	return filepath.Join(l.PkgsDir, pkgbase)
}

// PkgrelAt reads the pkgrel field of pkgbase's recipe as checked into a
// given VCS revision's worktree snapshot (a directory, typically produced
// by the VCS driver's checkout-of-revision helper). Used by the change
// detector to compare pkgrel across commits.
func PkgrelAt(pkgsDirAtRev, pkgbase string) (int, error) {
	l := &Loader{PkgsDir: pkgsDirAtRev}
	r, err := l.load(pkgbase)
	if err != nil {
		return 0, err
	}
	return r.Pkgrel, nil
}

// Sorted returns the pkgbases of recipes in a deterministic (lexical)
// order, used wherever a stable iteration order is required and ties
// need to be broken consistently.
func Sorted(recipes map[string]*Recipe) []string {
	names := make([]string, 0, len(recipes))
	for name := range recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
