// Package supervisor implements the Build Supervisor (C4): it drives one
// package build at a time with a hard timeout, per-package log capture,
// the PACKAGER identity, and structured error classification.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/pkgforge/lilac/internal/builder"
	"github.com/pkgforge/lilac/internal/depgraph"
	"github.com/pkgforge/lilac/internal/plan"
	"github.com/pkgforge/lilac/internal/publish"
	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/report"
	"github.com/pkgforge/lilac/internal/upstream"
)

// Supervisor holds the configuration shared by every build attempted in
// one cycle.
type Supervisor struct {
	Backend     builder.Backend
	Publisher   *publish.Publisher
	Sink        report.Sink
	BuilderName string
	BindMounts  []string
	LogDir      string
	// ExtraEnv is verbatim-exported environment (the config file's
	// environment-variables section).
	ExtraEnv []string
	Log      *log.Logger

	// PkgDir resolves a pkgbase to its on-disk working directory
	// (typically recipe.Loader.Dir).
	PkgDir func(pkgbase string) string
}

func (s *Supervisor) logger() *log.Logger {
	if s.Log != nil {
		return s.Log
	}
	return log.Default()
}

// Event records the result of one build attempt. Run returns the events
// to its caller; they are not written to a build.log or build-log.json
// file.
type Event struct {
	Pkgbase  string
	Kind     string // "successful", "failed", "skipped"
	NewVer   string
	Version  string // composed epoch:pkgver-pkgrel
	Elapsed  time.Duration
	Detail   string
}

// Run drives plan.Order in order, mutating failed and built in place
// recipes, nv and depends provide per-package
// inputs already computed by earlier components.
func (s *Supervisor) Run(
	ctx context.Context,
	p *plan.Plan,
	recipes map[string]*recipe.Recipe,
	nv map[string]upstream.Result,
	failed map[string]string,
	built map[string]bool,
) ([]Event, error) {
	var events []Event

	for _, pkgbase := range p.Order {
		select {
		case <-ctx.Done():
			// Interrupted: exit the loop cleanly, leave the finally-path
			// (run by the caller) to still execute.
			s.logger().Printf("interrupted before building %s", pkgbase)
			return events, nil
		default:
		}

		if _, alreadyFailed := failed[pkgbase]; alreadyFailed {
			// A package already marked failed is skipped outright: it is not
			// attempted, and nothing about it is advanced.
			continue
		}

		ev, err := s.runOne(ctx, pkgbase, recipes[pkgbase], nv[pkgbase], p.Depends[pkgbase], failed, built)
		events = append(events, ev)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

func (s *Supervisor) runOne(
	ctx context.Context,
	pkgbase string,
	r *recipe.Recipe,
	update upstream.Result,
	deps []depgraph.Dep,
	failed map[string]string,
	built map[string]bool,
) (Event, error) {
	start := time.Now()
	s.logger().Printf("building %s", pkgbase)

	logFile, err := s.openLog(pkgbase)
	if err != nil {
		return Event{}, xerrors.Errorf("opening log for %s: %w", pkgbase, err)
	}
	defer logFile.Close()

	dir := s.PkgDir(pkgbase)
	restore, err := scopedChdir(dir)
	if err != nil {
		return Event{}, xerrors.Errorf("entering working directory for %s: %w", pkgbase, err)
	}
	defer restore()

	packager := packagerIdentity(s.BuilderName, r)
	os.Setenv("PACKAGER", packager)

	timeout := time.Duration(r.TimeLimitHours) * time.Hour
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := builder.Request{
		Recipe:     r,
		PkgDir:     dir,
		UpdateInfo: update,
		Depends:    deps,
		BindMounts: s.BindMounts,
		Env:        s.buildEnv(packager),
		Log:        logFile,
	}

	outcome, buildErr := s.Backend.Build(buildCtx, req)
	elapsed := time.Since(start)

	if buildErr != nil {
		if buildCtx.Err() == context.DeadlineExceeded {
			return s.onTimeout(pkgbase, failed, elapsed, logFile.Name())
		}
		if ctx.Err() != nil {
			// Global interruption surfaced through the build error path.
			s.logger().Printf("%s: build loop interrupted: %v", pkgbase, buildErr)
			return Event{Pkgbase: pkgbase, Kind: "failed", Elapsed: elapsed, Detail: "interrupted"}, nil
		}
		return s.onOutcome(pkgbase, &builder.Outcome{Kind: builder.GenericError, Err: buildErr}, failed, elapsed, logFile.Name())
	}

	if outcome.Kind == builder.Success {
		return s.onSuccess(pkgbase, update, outcome, built, failed, req.PkgDir, elapsed)
	}
	return s.onOutcome(pkgbase, outcome, failed, elapsed, logFile.Name())
}

func (s *Supervisor) onSuccess(pkgbase string, update upstream.Result, outcome *builder.Outcome, built map[string]bool, failed map[string]string, pkgDir string, elapsed time.Duration) (Event, error) {
	if s.Publisher != nil {
		if err := s.Publisher.SignAndCopy(pkgDir); err != nil {
			// Publishing failure is not one of the classified build
			// outcomes; treat it like a generic build error for this
			// package rather than silently losing it.
			return s.onOutcome(pkgbase, &builder.Outcome{Kind: builder.GenericError, Err: err}, failed, elapsed, "")
		}
	}
	built[pkgbase] = true
	version := fmt.Sprintf("%s-%s", outcome.Pkgver, outcome.Pkgrel)
	if outcome.Epoch != "" {
		version = outcome.Epoch + ":" + version
	}
	s.logger().Printf("%s: built %s (upstream %s) in %s", pkgbase, version, update.NewVer, elapsed)
	return Event{
		Pkgbase: pkgbase,
		Kind:    "successful",
		NewVer:  update.NewVer,
		Version: version,
		Elapsed: elapsed,
	}, nil
}

func (s *Supervisor) onTimeout(pkgbase string, failed map[string]string, elapsed time.Duration, logfile string) (Event, error) {
	s.logger().Printf("%s: timed out after %s, descendant process group killed", pkgbase, elapsed)
	failed[pkgbase] = ""
	s.report(pkgbase, report.Report{
		Pkgbase: pkgbase,
		Subject: pkgbase + ": build timed out",
		Body:    fmt.Sprintf("build of %s exceeded its time limit and was killed; see %s", pkgbase, logfile),
	})
	return Event{Pkgbase: pkgbase, Kind: "failed", Elapsed: elapsed, Detail: "timeout"}, nil
}

func (s *Supervisor) onOutcome(pkgbase string, o *builder.Outcome, failed map[string]string, elapsed time.Duration, logfile string) (Event, error) {
	switch o.Kind {
	case builder.MissingDependency:
		if _, blockedByFailed := failed[o.MissingDep]; blockedByFailed {
			s.report(pkgbase, report.Report{
				Pkgbase: pkgbase,
				Subject: pkgbase + ": blocked by failed dependency",
				Body:    fmt.Sprintf("after building %s, %s still depends on %s", o.MissingDep, pkgbase, o.MissingDep),
			})
		} else {
			s.report(pkgbase, report.Report{
				Pkgbase: pkgbase,
				Subject: pkgbase + ": missing dependency",
				Body:    fmt.Sprintf("%s could not be built: missing dependency %s", pkgbase, o.MissingDep),
			})
		}
		failed[pkgbase] = ""
		return Event{Pkgbase: pkgbase, Kind: "failed", Elapsed: elapsed, Detail: "missing dependency " + o.MissingDep}, nil

	case builder.ConflictWithOfficial:
		s.report(pkgbase, report.Report{
			Pkgbase: pkgbase,
			Subject: pkgbase + " conflicts with official",
			Body:    fmt.Sprintf("%s conflicts with the official upstream repository: %v", pkgbase, o.Err),
		})
		failed[pkgbase] = ""
		return Event{Pkgbase: pkgbase, Kind: "failed", Elapsed: elapsed, Detail: "conflicts with official repo"}, nil

	case builder.Downgrading:
		s.report(pkgbase, report.Report{
			Pkgbase: pkgbase,
			Subject: pkgbase + ": downgrade attempt",
			Body:    fmt.Sprintf("built version %s is older than repository version %s", o.BuiltVersion, o.RepoVersion),
		})
		failed[pkgbase] = ""
		return Event{Pkgbase: pkgbase, Kind: "failed", Elapsed: elapsed, Detail: "downgrade"}, nil

	case builder.SkipBuild:
		// Logged, but not marked failed, not added to built, no nv advance.
		s.logger().Printf("%s: skipped: %s", pkgbase, o.SkipReason)
		return Event{Pkgbase: pkgbase, Kind: "skipped", Elapsed: elapsed, Detail: o.SkipReason}, nil

	default: // GenericError
		s.report(pkgbase, report.Report{
			Pkgbase: pkgbase,
			Subject: pkgbase + ": build failed",
			Body:    fmt.Sprintf("build of %s failed: %v\n\n%s\n\nlog: %s", pkgbase, o.Err, o.Traceback, logfile),
		})
		failed[pkgbase] = ""
		return Event{Pkgbase: pkgbase, Kind: "failed", Elapsed: elapsed, Detail: "generic error"}, nil
	}
}

func (s *Supervisor) report(pkgbase string, r report.Report) {
	if s.Sink == nil {
		return
	}
	if err := s.Sink.Deliver(context.Background(), r); err != nil {
		s.logger().Printf("delivering report for %s: %v", pkgbase, err)
	}
}

func (s *Supervisor) openLog(pkgbase string) (*os.File, error) {
	if err := os.MkdirAll(s.LogDir, 0755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(s.LogDir, pkgbase+".log"))
}

func (s *Supervisor) buildEnv(packager string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "PACKAGER="+packager)
	env = append(env, s.ExtraEnv...)
	return env
}

func packagerIdentity(builderName string, r *recipe.Recipe) string {
	m := r.Maintainers[0]
	return fmt.Sprintf("%s (on behalf of %s) %s", builderName, m.Name, m.Email)
}

// scopedChdir changes into dir and returns a restore func that changes
// back, guaranteed on every exit path via defer at the call site.
func scopedChdir(dir string) (func(), error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(dir); err != nil {
		return nil, err
	}
	return func() {
		if err := os.Chdir(cwd); err != nil {
			log.Printf("restoring working directory to %s: %v", cwd, err)
		}
	}, nil
}
