// Package outcome implements the Outcome Recorder (C5): the finally-path
// bookkeeping that runs after every build attempt in a cycle, whether or
// not the cycle completed cleanly.
package outcome

import (
	"context"
	"log"

	"github.com/pkgforge/lilac/internal/detect"
	"github.com/pkgforge/lilac/internal/report"
	"github.com/pkgforge/lilac/internal/store"
	"github.com/pkgforge/lilac/internal/upstream"
	"github.com/pkgforge/lilac/internal/vcs"
)

// NVTaker advances the upstream-version tracker's persisted baseline for
// the given set of pkgbases (here the
// reference upstream.Checker is stateless, so this defaults to a no-op —
// see Nop below).
type NVTaker func(ctx context.Context, pkgbases detect.Set) error

// Nop is the NVTaker used when no external tracker needs advancing.
func Nop(context.Context, detect.Set) error { return nil }

// Config bundles the mode switches Run branches on.
type Config struct {
	RebuildFailedPkgsMode bool
	GitPush               bool
}

// Run executes the finally-path in this order:
//  1. stamp failed[p] with its attempted new version for every still-failed p
//  2. drop succeeded packages out of failed
//  3. advance the upstream tracker for the mode-appropriate set
//  4. hard-reset the working tree
//  5. optionally push
//  6. persist last_commit, but only if cycleErr is nil
//
// cycleErr is the error (if any) the driver loop's main body raised;
// Run still performs steps 1-5 in that case, it only withholds
// advancing last_commit.
func Run(
	ctx context.Context,
	cfg Config,
	driver vcs.Driver,
	statePath string,
	s *store.State,
	built, failedThisRun map[string]bool,
	nv map[string]upstream.Result,
	det *detect.Result,
	take NVTaker,
	sink report.Sink,
	cycleErr error,
) error {
	// Step 1+2: reconcile the persistent failed map against this run's
	// attempts. A package that failed keeps (or gains) a version record;
	// a package that succeeded is no longer a failure.
	for p := range failedThisRun {
		if r, ok := nv[p]; ok {
			s.Failed[p] = r.NewVer
		} else if _, exists := s.Failed[p]; !exists {
			s.Failed[p] = ""
		}
	}
	for p := range built {
		delete(s.Failed, p)
	}

	// Step 3: advance the tracker. rebuild_failed_pkgs mode only retires
	// the packages actually built this run; the default mode retires
	// (built ∪ failed) ∩ (need_update ∪ unconditional) — a pkgrel-only or
	// failed-retry rebuild must not shift the recorded upstream version
	// on its own, so need_rebuild_failed/need_rebuild_pkgrel are
	// deliberately excluded from the candidate set.
	if take == nil {
		take = Nop
	}
	var advance detect.Set
	if cfg.RebuildFailedPkgsMode {
		advance = detect.NewSet()
		for p := range built {
			advance[p] = true
		}
	} else {
		builtSet := detect.NewSet()
		for p := range built {
			builtSet[p] = true
		}
		failedSet := detect.NewSet()
		for p := range s.Failed {
			failedSet[p] = true
		}
		candidates := det.NeedUpdate.Union(det.Unconditional)
		advance = builtSet.Union(failedSet).Intersect(candidates)
	}
	if len(advance) > 0 {
		if err := take(ctx, advance); err != nil {
			log.Printf("advancing upstream tracker: %v", err)
		}
	}

	// Step 4: always reset the working tree back to HEAD, discarding any
	// build-time mutation of the checkout.
	if err := driver.ResetHard(ctx); err != nil {
		log.Printf("resetting working tree: %v", err)
	}

	// Step 5: push only when configured and at least one package
	// actually changed outcome.
	if cfg.GitPush && (len(built) > 0 || len(failedThisRun) > 0) {
		if err := driver.Push(ctx); err != nil {
			log.Printf("pushing: %v", err)
			if sink != nil {
				sink.Deliver(ctx, report.RuntimeError(err))
			}
		}
	}

	// Step 6: only a cycle that completed without an unhandled exception
	// advances last_commit — a crashed cycle must reprocess the same
	// range of commits next time.
	if cycleErr == nil {
		head, err := driver.Head(ctx)
		if err != nil {
			log.Printf("reading HEAD for store: %v", err)
		} else {
			s.LastCommit = head
		}
	}

	if err := store.Save(statePath, s); err != nil {
		log.Printf("saving store: %v", err)
		return err
	}
	return nil
}
