// Package vcs defines the version-control driver the engine needs and
// ships a git implementation that shells out to external tools: os/exec
// plus golang.org/x/xerrors wrapping.
package vcs

import (
	"context"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// EmptyTree is the sentinel "no commit processed yet" revision.
const EmptyTree = ""

// Driver is the version-control operations the driver loop and change
// detector need.
type Driver interface {
	// CurrentBranch returns the branch currently checked out.
	CurrentBranch(ctx context.Context) (string, error)
	// ResetHard discards any working-tree changes.
	ResetHard(ctx context.Context) error
	// PullOverride force-syncs the working tree to the remote.
	PullOverride(ctx context.Context) error
	// Push pushes the current branch upstream.
	Push(ctx context.Context) error
	// Head returns the current revision.
	Head(ctx context.Context) (string, error)
	// ChangedPaths returns the set of top-level package directories
	// touched between two revisions (exclusive..inclusive). If from is
	// EmptyTree (no commit processed yet), every managed package is
	// considered changed.
	ChangedPaths(ctx context.Context, from, to string) ([]string, error)
}

// Git is the reference Driver implementation, operating on a checkout at
// Dir via the system git binary.
type Git struct {
	Dir    string
	Branch string // the required primary branch, e.g. "master"
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if err != nil {
		return "", xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

func (g *Git) ResetHard(ctx context.Context) error {
	_, err := g.run(ctx, "reset", "--hard")
	return err
}

func (g *Git) PullOverride(ctx context.Context) error {
	if _, err := g.run(ctx, "fetch", "origin", g.Branch); err != nil {
		return err
	}
	_, err := g.run(ctx, "reset", "--hard", "origin/"+g.Branch)
	return err
}

func (g *Git) Push(ctx context.Context) error {
	_, err := g.run(ctx, "push", "origin", g.Branch)
	return err
}

func (g *Git) Head(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

func (g *Git) ChangedPaths(ctx context.Context, from, to string) ([]string, error) {
	if from == EmptyTree {
		return nil, nil // caller treats this as "everything changed"
	}
	out, err := g.run(ctx, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	seen := make(map[string]bool)
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "/", 2)
		if len(parts) == 0 || parts[0] == "" {
			continue
		}
		if !seen[parts[0]] {
			seen[parts[0]] = true
			pkgs = append(pkgs, parts[0])
		}
	}
	return pkgs, nil
}
