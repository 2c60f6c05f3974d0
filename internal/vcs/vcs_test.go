package vcs

import (
	"context"
	"io/ioutil"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(cmd.Env,
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git not usable in this environment: %v: %s", err, out)
		}
	}
	run("init", "-q", "-b", "master")
	if err := ioutil.WriteFile(filepath.Join(dir, "foo"), []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "foo")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestGitCurrentBranchAndHead(t *testing.T) {
	dir := initRepo(t)
	g := &Git{Dir: dir, Branch: "master"}
	ctx := context.Background()

	branch, err := g.CurrentBranch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "master" {
		t.Errorf("CurrentBranch() = %q, want master", branch)
	}

	head, err := g.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head == "" {
		t.Error("Head() returned empty revision")
	}
}

func TestChangedPathsFromEmptyTree(t *testing.T) {
	g := &Git{Dir: t.TempDir()}
	paths, err := g.ChangedPaths(context.Background(), EmptyTree, "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if paths != nil {
		t.Errorf("ChangedPaths from EmptyTree = %v, want nil", paths)
	}
}
