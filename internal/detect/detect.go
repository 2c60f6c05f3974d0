// Package detect implements the Change Detector (C2): given recipes, the
// upstream checker's output, the failure record, and a VCS commit range,
// it classifies managed packages into the sets the build set planner
// (internal/plan) needs.
package detect

import (
	"context"
	"log"

	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/upstream"
	"github.com/pkgforge/lilac/internal/vcs"
)

// Set is a simple string set, used throughout for the detector's outputs.
type Set map[string]bool

func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for p := range s {
		out[p] = true
	}
	for p := range other {
		out[p] = true
	}
	return out
}

func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for p := range s {
		if other[p] {
			out[p] = true
		}
	}
	return out
}

func (s Set) Sub(other Set) Set {
	out := make(Set)
	for p := range s {
		if !other[p] {
			out[p] = true
		}
	}
	return out
}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// Result is the full breakdown produced by Run.
type Result struct {
	Updated           Set
	FailedUpdated     Set
	Changed           Set
	NeedRebuildFailed Set
	NeedRebuildPkgrel Set
	NeedUpdate        Set
	// Unconditional is U, the version checker's unconditional-rebuild
	// set, kept separate from AllBuilding so the outcome recorder can
	// reconstruct need_update ∪ U for its nv-advance formula (spec §4.5
	// step 3) without need_rebuild_failed/need_rebuild_pkgrel bleeding
	// into it.
	Unconditional Set
	AllBuilding   Set
}

// PkgrelAtRev reads the pkgrel of pkgbase as it existed at a given
// revision; used to detect need_rebuild_pkgrel. Implemented against a
// VCS-exported worktree snapshot of that revision (out of scope of this
// package; supplied by the caller since materializing a past revision is
// a VCS-driver concern).
type PkgrelAtRev func(ctx context.Context, rev, pkgbase string) (int, error)

// Run computes the five change-detector sets and their union need_update /
// all_building.
func Run(
	ctx context.Context,
	recipes map[string]*recipe.Recipe,
	checked *upstream.Output,
	unconditional Set,
	failed map[string]string,
	driver vcs.Driver,
	lastCommit, head string,
	pkgrelAt PkgrelAtRev,
) (*Result, error) {
	r := &Result{
		Updated:           make(Set),
		FailedUpdated:     make(Set),
		Changed:           make(Set),
		NeedRebuildFailed: make(Set),
		NeedRebuildPkgrel: make(Set),
	}

	for pkgbase, nv := range checked.Results {
		if nv.OldVer != nv.NewVer {
			r.Updated[pkgbase] = true
		}
	}

	for pkgbase, lastNewVer := range failed {
		nv, ok := checked.Results[pkgbase]
		if !ok {
			// unknown: not eligible for a version-driven trigger
			log.Printf("detect: excluding %s from failed-retry trigger: upstream version unknown", pkgbase)
			continue
		}
		if nv.NewVer != lastNewVer {
			r.FailedUpdated[pkgbase] = true
		}
	}

	if lastCommit == vcs.EmptyTree {
		for pkgbase := range recipes {
			r.Changed[pkgbase] = true
		}
	} else {
		changed, err := driver.ChangedPaths(ctx, lastCommit, head)
		if err != nil {
			return nil, err
		}
		for _, pkgbase := range changed {
			if _, managed := recipes[pkgbase]; managed {
				r.Changed[pkgbase] = true
			}
		}
	}

	for pkgbase := range r.Changed {
		if _, wasFailed := failed[pkgbase]; wasFailed {
			r.NeedRebuildFailed[pkgbase] = true
		}
	}

	if lastCommit != vcs.EmptyTree {
		for pkgbase := range r.Changed {
			if checked.Unknown[pkgbase] {
				log.Printf("detect: excluding %s from pkgrel-triggered rebuild: upstream version unknown", pkgbase)
				continue
			}
			oldRel, err := pkgrelAt(ctx, lastCommit, pkgbase)
			if err != nil {
				// Package did not exist at lastCommit (newly added): treat
				// as changed-by-addition, already covered by r.Changed, not
				// by a pkgrel diff.
				continue
			}
			newRel := recipes[pkgbase].Pkgrel
			if newRel != oldRel {
				r.NeedRebuildPkgrel[pkgbase] = true
			}
		}
	}

	r.NeedUpdate = r.Updated.Union(r.FailedUpdated)
	r.Unconditional = unconditional
	r.AllBuilding = r.NeedUpdate.Union(r.NeedRebuildFailed).Union(r.NeedRebuildPkgrel).Union(unconditional)

	return r, nil
}

// Manual computes the bypassed-detector result for an explicit pkgs_to_build
// invocation, bypassing upstream version checking entirely.
func Manual(pkgsToBuild []string, unconditional Set) *Result {
	seed := NewSet(pkgsToBuild...)
	return &Result{
		Updated:           make(Set),
		FailedUpdated:     make(Set),
		Changed:           make(Set),
		NeedRebuildFailed: make(Set),
		NeedRebuildPkgrel: make(Set),
		NeedUpdate:        seed,
		Unconditional:     unconditional,
		AllBuilding:       seed.Union(unconditional),
	}
}
