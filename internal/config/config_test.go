package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkgforge/lilac/internal/env"
)

func TestLoadParsesAllSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lilac.toml")
	body := `
pkgs_dir = "/srv/lilac/pkgs"
repo_dir = "/srv/lilac/repo"

[lilac]
name = "example-builder"
rebuild_failed_pkgs = true
git_push = true
branch = "master"

[repository]
destdir = "/srv/lilac/dest"
suffixes = [".pkg.tar.zst"]

[nvchecker]
proxy = "http://proxy.example.com:8080"

[environment variables]
MAKEFLAGS = "-j8"
`
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Lilac.Name != "example-builder" || !c.Lilac.GitPush || !c.Lilac.RebuildFailedPkgs {
		t.Errorf("Lilac = %+v", c.Lilac)
	}
	if c.Repository.Destdir != "/srv/lilac/dest" {
		t.Errorf("Repository.Destdir = %q", c.Repository.Destdir)
	}
	if c.NVChecker.Proxy == "" {
		t.Error("expected nvchecker.proxy to be parsed")
	}
	if c.Environment["MAKEFLAGS"] != "-j8" {
		t.Errorf("Environment[MAKEFLAGS] = %q", c.Environment["MAKEFLAGS"])
	}
}

func TestLoadFallsBackToEnvRootWhenRepoDirUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lilac.toml")
	body := `
[lilac]
name = "example-builder"
`
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.RepoDir != env.Root {
		t.Errorf("RepoDir = %q, want env.Root %q", c.RepoDir, env.Root)
	}
	if c.PkgsDir != env.PkgsDir() {
		t.Errorf("PkgsDir = %q, want env.PkgsDir() %q", c.PkgsDir, env.PkgsDir())
	}
}

func TestEnvSlice(t *testing.T) {
	c := &Config{Environment: map[string]string{"FOO": "bar"}}
	env := c.EnvSlice()
	if len(env) != 1 || env[0] != "FOO=bar" {
		t.Errorf("EnvSlice() = %v", env)
	}
}
