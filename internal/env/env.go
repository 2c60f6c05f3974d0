// Package env captures details about the ambient lilac environment that
// are more convenient to discover once, at process start, than to thread
// through every call site: where the repository checkout lives, where its
// recipes are, and where the config file describing it should be found.
package env

import (
	"os"
	"path/filepath"
)

// Root is the root directory of the checked-out package repository,
// i.e. the directory containing the pkgs/ subdirectory and lilac.toml.
var Root = findRoot()

func findRoot() string {
	if env := os.Getenv("LILACROOT"); env != "" {
		return env
	}
	return os.ExpandEnv("$HOME/lilac")
}

// PkgsDir is Root's recipe directory, used as internal/config's pkgs_dir
// fallback when a found config file leaves that key unset.
func PkgsDir() string {
	return filepath.Join(Root, "pkgs")
}

// SearchPaths returns, in priority order, the candidate lilac.toml
// locations: a per-user config dir, /etc, the current directory, and
// finally Root itself. internal/config.Load takes the first of these
// that exists.
func SearchPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "lilac", "lilac.toml"))
	}
	paths = append(paths,
		"/etc/lilac/lilac.toml",
		"./lilac.toml",
		filepath.Join(Root, "lilac.toml"),
	)
	return paths
}
