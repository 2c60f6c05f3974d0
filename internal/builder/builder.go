// Package builder defines the builder backend interface: given a recipe,
// it performs the actual compile inside a sandbox. This package also
// defines Outcome, a tagged-variant result that replaces a family of
// exception classes with a single discriminated struct, and ships a
// reference exec-based backend that shells out via os/exec with
// golang.org/x/xerrors wrapping and uses golang.org/x/sys/unix process
// groups so a timeout can reliably kill the whole descendant tree.
package builder

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/pkgforge/lilac/internal/depgraph"
	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/upstream"
)

// Kind is the tagged-variant discriminator for a build Outcome,
// replacing the exception classes the design notes mention
// (MissingDependencies, SkipBuild, ConflictWithOfficialError,
// DowngradingError).
type Kind int

const (
	// Success: the build completed and produced artifacts.
	Success Kind = iota
	// MissingDependency: a dependency could not be satisfied at build
	// time (the supervisor reports separately whether it is a package
	// that already failed).
	MissingDependency
	// ConflictWithOfficial: the built package groups with or replaces a
	// package from the official upstream repository.
	ConflictWithOfficial
	// Downgrading: the built version is lower than the version already in
	// the repository.
	Downgrading
	// SkipBuild: the backend decided this build attempt should be
	// silently skipped (not a failure).
	SkipBuild
	// GenericError: any other build failure.
	GenericError
)

// Outcome is the builder backend's tagged-variant result for one build
// attempt.
type Outcome struct {
	Kind Kind

	// Populated for MissingDependency.
	MissingDep string
	// Populated for Downgrading.
	BuiltVersion, RepoVersion string
	// Populated for SkipBuild.
	SkipReason string
	// Populated for GenericError (and, best-effort, other failure kinds):
	// the underlying error and a traceback-equivalent string.
	Err       error
	Traceback string

	// Populated for Success.
	Epoch, Pkgver, Pkgrel string
}

// Request bundles everything the build supervisor hands the builder
// backend for one package build.
type Request struct {
	Recipe     *recipe.Recipe
	PkgDir     string
	UpdateInfo upstream.Result
	Depends    []depgraph.Dep
	BindMounts []string
	// Env is the process environment to run the build under (PACKAGER,
	// PATH, MAKEFLAGS, and any configured passthrough variables).
	Env []string
	// Log receives all standard output/error of the build for the
	// duration of this attempt.
	Log io.Writer
}

// Backend drives one package build inside a sandbox.
type Backend interface {
	Build(ctx context.Context, req Request) (*Outcome, error)
}

// BecomeSubreaper marks the calling process as a child subreaper so that
// orphaned grandchildren (e.g. a build script's descendants that outlive
// their immediate parent) are reparented to it instead of init, letting
// ExecBackend's timeout-triggered pgid kill reliably reach the whole
// descendant tree. Must be called once at process startup, before any
// build is attempted.
func BecomeSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

// ExecBackend is the reference Backend: it runs a fixed "lilac-build"
// script inside req.PkgDir, classifying its outcome from the process exit
// status and a structured last-line protocol written by the script
// ("LILAC_SKIP: <reason>", "LILAC_MISSING_DEP: <dep>",
// "LILAC_CONFLICT: <msg>", "LILAC_DOWNGRADE: <built> <repo>"), matching
// how the real builder backend (out of scope) is expected to signal
// these conditions back to the supervisor.
type ExecBackend struct {
	// Script is the build command to execute, e.g. []string{"lilac-build"}.
	Script []string
}

func (b *ExecBackend) Build(ctx context.Context, req Request) (*Outcome, error) {
	script := b.Script
	if len(script) == 0 {
		script = []string{"lilac-build"}
	}

	cmd := exec.CommandContext(ctx, script[0], script[1:]...)
	cmd.Dir = req.PkgDir
	cmd.Env = req.Env
	// Place the child in its own process group so a timeout can kill the
	// entire descendant tree by pgid.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var lastLine string
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := scanner.Text()
			if req.Log != nil {
				io.WriteString(req.Log, line+"\n")
			}
			if strings.TrimSpace(line) != "" {
				lastLine = line
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		pw.Close()
		<-done
		return nil, xerrors.Errorf("starting build: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		// Timeout or cancellation: kill the whole process group.
		if cmd.Process != nil {
			pgid, pgErr := unix.Getpgid(cmd.Process.Pid)
			if pgErr == nil {
				unix.Kill(-pgid, syscall.SIGKILL)
			} else {
				cmd.Process.Kill()
			}
		}
		<-waitErr
		err = ctx.Err()
	}
	pw.Close()
	<-done

	if err != nil {
		if ctx.Err() != nil {
			return nil, err // caller (C4) classifies a deadline as timeout, a cancellation as interruption
		}
		return classifyFailure(lastLine, err), nil
	}

	return classifySuccess(lastLine, req), nil
}

func classifyFailure(lastLine string, err error) *Outcome {
	switch {
	case strings.HasPrefix(lastLine, "LILAC_SKIP:"):
		return &Outcome{Kind: SkipBuild, SkipReason: strings.TrimSpace(strings.TrimPrefix(lastLine, "LILAC_SKIP:"))}
	case strings.HasPrefix(lastLine, "LILAC_MISSING_DEP:"):
		return &Outcome{Kind: MissingDependency, MissingDep: strings.TrimSpace(strings.TrimPrefix(lastLine, "LILAC_MISSING_DEP:"))}
	case strings.HasPrefix(lastLine, "LILAC_CONFLICT:"):
		return &Outcome{Kind: ConflictWithOfficial, Err: err, Traceback: lastLine}
	case strings.HasPrefix(lastLine, "LILAC_DOWNGRADE:"):
		fields := strings.Fields(strings.TrimPrefix(lastLine, "LILAC_DOWNGRADE:"))
		o := &Outcome{Kind: Downgrading, Err: err}
		if len(fields) >= 2 {
			o.BuiltVersion, o.RepoVersion = fields[0], fields[1]
		}
		return o
	default:
		return &Outcome{Kind: GenericError, Err: err, Traceback: lastLine}
	}
}

func classifySuccess(lastLine string, req Request) *Outcome {
	return &Outcome{
		Kind:   Success,
		Pkgver: req.UpdateInfo.NewVer,
		Pkgrel: strconv.Itoa(req.Recipe.Pkgrel),
	}
}
