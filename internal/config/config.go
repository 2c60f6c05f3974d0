// Package config loads the engine's TOML configuration file, the
// same format internal/recipe uses for per-package metadata, continuing
// the corpus's only sectioned-config library (github.com/BurntSushi/toml,
// sourced from the tsukumogami-tsuku example repo — see DESIGN.md).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/pkgforge/lilac/internal/env"
)

// Lilac holds the [lilac] section.
type Lilac struct {
	// Name identifies this builder in the PACKAGER string.
	Name string `toml:"name"`
	// RebuildFailedPkgs selects the alternate nv-tracker advance rule in
	// the outcome recorder.
	RebuildFailedPkgs bool `toml:"rebuild_failed_pkgs"`
	// GitPush enables the post-cycle push.
	GitPush bool `toml:"git_push"`
	// Branch is the single branch the driver loop requires.
	Branch string `toml:"branch"`
}

// Repository holds the [repository] section.
type Repository struct {
	// Destdir is where signed artifacts are copied; empty disables
	// publishing entirely.
	Destdir  string   `toml:"destdir"`
	Suffixes []string `toml:"suffixes"`
	// SigningKeyFile points at an armored private key used to detach-sign
	// artifacts; empty disables signing (artifacts still get copied).
	SigningKeyFile string `toml:"signing_key_file"`
}

// NVChecker holds the [nvchecker] section — named for the reference
// upstream-version-checking tool this engine's design assumes, even
// though this implementation's internal/upstream.HTTPChecker is
// self-contained rather than shelling out to it.
type NVChecker struct {
	Proxy string `toml:"proxy"`
}

// Report holds the [report] section, configuring the maintainer
// notification sink.
type Report struct {
	GitHubOwner string `toml:"github_owner"`
	GitHubRepo  string `toml:"github_repo"`
	GitHubToken string `toml:"github_token"`
}

// Config is the top-level decoded document.
type Config struct {
	Lilac      Lilac             `toml:"lilac"`
	Repository Repository        `toml:"repository"`
	NVChecker  NVChecker         `toml:"nvchecker"`
	Report     Report            `toml:"report"`
	// Environment is the free-form "[environment variables]" section
	// every key=value pair is exported verbatim into every build's
	// environment.
	Environment map[string]string `toml:"environment variables"`

	PkgsDir string `toml:"pkgs_dir"`
	RepoDir string `toml:"repo_dir"`
	LogDir  string `toml:"log_dir"`
}

// Load reads the first config file found along internal/env's search
// path, or path directly if it is non-empty.
func Load(path string) (*Config, error) {
	candidates := env.SearchPaths()
	if path != "" {
		candidates = []string{path}
	}

	var lastErr error
	for _, p := range candidates {
		var c Config
		_, err := toml.DecodeFile(p, &c)
		if err == nil {
			if c.RepoDir == "" {
				// No top-level repo_dir key: fall back to the ambient
				// repository root, the same way the teacher's DistriRoot
				// resolves its own checkout location.
				c.RepoDir = env.Root
			}
			if c.PkgsDir == "" {
				c.PkgsDir = env.PkgsDir()
			}
			return &c, nil
		}
		if os.IsNotExist(err) {
			lastErr = err
			continue
		}
		return nil, xerrors.Errorf("parsing %s: %w", p, err)
	}
	return nil, xerrors.Errorf("no config file found (tried %v): %w", candidates, lastErr)
}

// EnvSlice renders Environment as "KEY=VALUE" pairs for appending to a
// subprocess's environment.
func (c *Config) EnvSlice() []string {
	env := make([]string, 0, len(c.Environment))
	for k, v := range c.Environment {
		env = append(env, k+"="+v)
	}
	return env
}
