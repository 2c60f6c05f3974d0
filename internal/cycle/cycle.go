// Package cycle implements the Driver Loop (C6): a single struct holding
// every collaborator and the mutable state a cycle threads through the
// other five components, replacing what would otherwise be a
// scattering of package-level globals.
package cycle

import (
	"context"
	"log"

	"golang.org/x/xerrors"

	"github.com/pkgforge/lilac/internal/depgraph"
	"github.com/pkgforge/lilac/internal/detect"
	"github.com/pkgforge/lilac/internal/outcome"
	"github.com/pkgforge/lilac/internal/plan"
	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/report"
	"github.com/pkgforge/lilac/internal/store"
	"github.com/pkgforge/lilac/internal/supervisor"
	"github.com/pkgforge/lilac/internal/upstream"
	"github.com/pkgforge/lilac/internal/vcs"
)

// Cycle bundles every external collaborator plus the run configuration
// for a single invocation. It carries no package-level state: every
// field here used to be a module-level global in the design this
// replaces.
type Cycle struct {
	Driver     vcs.Driver
	Loader     *recipe.Loader
	Checker    upstream.Checker
	Installed  depgraph.InstalledChecker
	Sink       report.Sink
	Supervisor *supervisor.Supervisor
	NVTake     outcome.NVTaker

	StatePath string
	Branch    string // required current branch; abort if mismatched

	RebuildFailedPkgsMode bool
	GitPush               bool

	// PkgsToBuild, if non-empty, selects manual mode
	// mode"): the named pkgbases are built unconditionally, bypassing
	// change detection.
	PkgsToBuild []string

	// Maintainers resolves a pkgbase to report recipients, used by the
	// plan stage's nonexistent-dependency reports.
	Maintainers func(pkgbase string) []report.Recipient

	// Scratch state stashed by run() for Run()'s finally path to use even
	// when run() returns early with an error.
	lastChecked      *upstream.Output
	lastDetectResult *detect.Result
	lastEvents       []supervisor.Event
}

// Result is what one Run call leaves behind for the caller to log or
// inspect after the fact.
type Result struct {
	Built  map[string]bool
	Failed map[string]bool
	Events []supervisor.Event
}

// Run executes one full invocation end to end, and always
// runs the outcome recorder's finally-path (step 10) regardless of which
// step failed.
func (c *Cycle) Run(ctx context.Context) (*Result, error) {
	s, err := store.Load(c.StatePath)
	if err != nil {
		// Nothing has mutated yet; nothing to reconcile in a finally path.
		return nil, xerrors.Errorf("loading store: %w", err)
	}

	built := make(map[string]bool)
	failedThisRun := make(map[string]bool)

	cycleErr := c.run(ctx, s, built, failedThisRun)

	var nv map[string]upstream.Result
	var det *detect.Result
	if c.lastChecked != nil {
		nv = c.lastChecked.Results
	}
	det = c.lastDetectResult

	if det == nil {
		// Never got far enough to compute a Result (e.g. the branch check
		// or recipe load failed): nothing for the recorder's nv-tracker
		// advance step to do, but the store must still be persisted so a
		// runtime-error report and a stable last_commit (withheld, since
		// cycleErr != nil) are recorded.
		det = &detect.Result{
			Updated: detect.NewSet(), FailedUpdated: detect.NewSet(),
			Changed: detect.NewSet(), NeedRebuildFailed: detect.NewSet(),
			NeedRebuildPkgrel: detect.NewSet(), NeedUpdate: detect.NewSet(),
			Unconditional: detect.NewSet(), AllBuilding: detect.NewSet(),
		}
	}

	outcomeErr := outcome.Run(ctx, outcome.Config{
		RebuildFailedPkgsMode: c.RebuildFailedPkgsMode,
		GitPush:               c.GitPush,
	}, c.Driver, c.StatePath, s, built, failedThisRun, nv, det, c.NVTake, c.Sink, cycleErr)

	if cycleErr != nil {
		if c.Sink != nil {
			c.Sink.Deliver(ctx, report.RuntimeError(cycleErr))
		}
		return &Result{Built: built, Failed: failedThisRun, Events: c.lastEvents}, cycleErr
	}
	if outcomeErr != nil {
		return &Result{Built: built, Failed: failedThisRun, Events: c.lastEvents}, outcomeErr
	}
	return &Result{Built: built, Failed: failedThisRun, Events: c.lastEvents}, nil
}

// run implements steps 1-9, stashing intermediate results onto c so
// Run's step-10 finally path can use them even if run returns early.
func (c *Cycle) run(ctx context.Context, s *store.State, built, failedThisRun map[string]bool) error {
	// Step 1: branch check.
	branch, err := c.Driver.CurrentBranch(ctx)
	if err != nil {
		return xerrors.Errorf("checking branch: %w", err)
	}
	if c.Branch != "" && branch != c.Branch {
		return xerrors.Errorf("on branch %q, expected %q: aborting", branch, c.Branch)
	}

	// Step 2: sync the working tree.
	if err := c.Driver.PullOverride(ctx); err != nil {
		return xerrors.Errorf("pulling: %w", err)
	}
	head, err := c.Driver.Head(ctx)
	if err != nil {
		return xerrors.Errorf("reading HEAD: %w", err)
	}

	// Step 3: load recipes. A per-package load error is recovered into
	// the failed store, not fatal to the cycle.
	recipes, loadErrs := c.Loader.Load()
	runFailed := make(map[string]string)
	for pkgbase, lerr := range loadErrs {
		log.Printf("recipe load error for %s: %v", pkgbase, lerr)
		if pkgbase != "*" {
			s.Failed[pkgbase] = ""
			runFailed[pkgbase] = ""
		}
	}

	// Step 4: build the dependency graph over every successfully loaded
	// recipe.
	g := depgraph.Build(recipes, c.Loader.Dir, c.Installed)

	unconditional := detect.NewSet()
	for pkgbase, r := range recipes {
		if r.ForceRebuild {
			unconditional[pkgbase] = true
		}
	}

	// Steps 5-7: manual mode bypasses the version checker and change
	// detector entirely.
	var det *detect.Result
	var checked *upstream.Output
	if len(c.PkgsToBuild) > 0 {
		det = detect.Manual(c.PkgsToBuild, unconditional)
	} else {
		oldVersions := make(map[string]string, len(s.Failed))
		checked, err = c.Checker.Check(ctx, recipes, oldVersions)
		if err != nil {
			return xerrors.Errorf("checking upstream versions: %w", err)
		}
		c.lastChecked = checked

		det, err = detect.Run(ctx, recipes, checked, unconditional, s.Failed, c.Driver, s.LastCommit, head, c.pkgrelAt)
		if err != nil {
			return xerrors.Errorf("detecting changes: %w", err)
		}
	}
	c.lastDetectResult = det

	// Step 8: plan the build set and order.
	p, err := plan.Run(ctx, g, det.AllBuilding, c.Maintainers, c.Sink)
	if err != nil {
		return xerrors.Errorf("planning build set: %w", err)
	}

	// Step 9: run the build supervisor. It skips only the packages that
	// already failed in this run; earlier failures selected for a retry
	// are attempted.
	nvResults := map[string]upstream.Result{}
	if checked != nil {
		nvResults = checked.Results
	}
	events, err := c.Supervisor.Run(ctx, p, recipes, nvResults, runFailed, built)
	c.lastEvents = events
	if err != nil {
		return xerrors.Errorf("running build supervisor: %w", err)
	}

	for p := range runFailed {
		failedThisRun[p] = true
	}
	for p := range built {
		delete(failedThisRun, p)
	}

	return nil
}

func (c *Cycle) pkgrelAt(ctx context.Context, rev, pkgbase string) (int, error) {
	// The reference VCS driver operates on a live working tree rather
	// than materializing historical revisions into separate directories,
	// so rev is ignored and the recipe is read as currently checked out.
	// The pkgrel returned is therefore the current one, and the change
	// detector's pkgrel comparison does not report a pkgrel bump.
	return recipe.PkgrelAt(c.Loader.PkgsDir, pkgbase)
}
