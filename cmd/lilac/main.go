// Command lilac drives one build cycle (or, given package names on the
// command line, a manual rebuild of exactly those packages) over a
// checked-out package repository: a single flock-guarded invocation, a
// context cancelable by SIGINT/SIGTERM, structured per-run logging under
// a timestamped directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkgforge/lilac"
	"github.com/pkgforge/lilac/internal/builder"
	"github.com/pkgforge/lilac/internal/config"
	"github.com/pkgforge/lilac/internal/cycle"
	"github.com/pkgforge/lilac/internal/depgraph"
	"github.com/pkgforge/lilac/internal/outcome"
	"github.com/pkgforge/lilac/internal/publish"
	"github.com/pkgforge/lilac/internal/recipe"
	"github.com/pkgforge/lilac/internal/report"
	"github.com/pkgforge/lilac/internal/store"
	"github.com/pkgforge/lilac/internal/supervisor"
	"github.com/pkgforge/lilac/internal/upstream"
	"github.com/pkgforge/lilac/internal/vcs"
)

var (
	configPath = flag.String("config", "", "path to lilac.toml (default: search path)")
	repoDir    = flag.String("repo_dir", "", "override the repo_dir config key")
)

func setupLogDir(root string) (string, error) {
	dir := filepath.Join(root, "log", time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func buildSink(cfg *config.Config, logger *log.Logger) report.Sink {
	if cfg.Report.GitHubOwner == "" || cfg.Report.GitHubRepo == "" || cfg.Report.GitHubToken == "" {
		return &report.LogSink{Log: logger}
	}
	return report.NewGitHubIssueSink(context.Background(), cfg.Report.GitHubOwner, cfg.Report.GitHubRepo, cfg.Report.GitHubToken)
}

func buildPublisher(cfg *config.Config) (*publish.Publisher, error) {
	p := &publish.Publisher{
		Destdir:  cfg.Repository.Destdir,
		Suffixes: cfg.Repository.Suffixes,
	}
	if len(p.Suffixes) == 0 {
		p.Suffixes = []string{".pkg.tar.zst", ".pkg.tar.xz"}
	}
	if cfg.Repository.SigningKeyFile != "" {
		key, err := ioutil.ReadFile(cfg.Repository.SigningKeyFile)
		if err != nil {
			return nil, err
		}
		signer, err := publish.NewPGPSigner(string(key), nil)
		if err != nil {
			return nil, err
		}
		p.Signer = signer
	}
	return p, nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *repoDir != "" {
		cfg.RepoDir = *repoDir
	}

	logDir, err := setupLogDir(cfg.RepoDir)
	if err != nil {
		return err
	}
	logFile, err := os.Create(filepath.Join(logDir, "lilac-main.log"))
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags)
	log.SetOutput(logFile)

	statePath := filepath.Join(cfg.RepoDir, "lilac-state.json")
	lock, err := store.Acquire(statePath + ".lock")
	if err != nil {
		return err
	}
	lilac.RegisterAtExit(lock.Release)

	loader := &recipe.Loader{PkgsDir: cfg.PkgsDir}
	driver := &vcs.Git{Dir: cfg.RepoDir, Branch: cfg.Lilac.Branch}
	sink := buildSink(cfg, logger)

	pub, err := buildPublisher(cfg)
	if err != nil {
		return err
	}

	sup := &supervisor.Supervisor{
		Backend:     &builder.ExecBackend{},
		Publisher:   pub,
		Sink:        sink,
		BuilderName: cfg.Lilac.Name,
		LogDir:      logDir,
		ExtraEnv:    cfg.EnvSlice(),
		Log:         logger,
		PkgDir:      loader.Dir,
	}

	c := &cycle.Cycle{
		Driver:                driver,
		Loader:                loader,
		Checker:               &upstream.HTTPChecker{Proxy: cfg.NVChecker.Proxy},
		Installed:             depgraph.InstalledChecker(func(string) bool { return false }),
		Sink:                  sink,
		Supervisor:            sup,
		NVTake:                outcome.Nop,
		StatePath:             statePath,
		Branch:                cfg.Lilac.Branch,
		RebuildFailedPkgsMode: cfg.Lilac.RebuildFailedPkgs,
		GitPush:               cfg.Lilac.GitPush,
		PkgsToBuild:           flag.Args(),
		Maintainers:           maintainersFunc(loader),
	}

	result, err := c.Run(ctx)
	if err != nil {
		return err
	}
	logger.Printf("cycle complete: %d built, %d failed", len(result.Built), len(result.Failed))
	return nil
}

// maintainersFunc resolves a pkgbase to its maintainers' report.Recipient
// records, reloading recipes lazily and caching the result for the
// lifetime of one invocation.
func maintainersFunc(loader *recipe.Loader) func(pkgbase string) []report.Recipient {
	var recipes map[string]*recipe.Recipe
	return func(pkgbase string) []report.Recipient {
		if recipes == nil {
			recipes, _ = loader.Load()
		}
		r, ok := recipes[pkgbase]
		if !ok {
			return nil
		}
		out := make([]report.Recipient, len(r.Maintainers))
		for i, m := range r.Maintainers {
			out[i] = report.Recipient{Name: m.Name, Email: m.Email, Handle: m.Handle}
		}
		return out
	}
}

func main() {
	flag.Parse()
	if err := builder.BecomeSubreaper(); err != nil {
		log.Printf("could not become a child subreaper, timeout kills may miss orphaned grandchildren: %v", err)
	}
	ctx, canc := lilac.InterruptibleContext()
	defer canc()

	runErr := run(ctx)
	if err := lilac.RunAtExit(); err != nil {
		log.Printf("cleanup: %v", err)
	}
	if runErr != nil {
		log.Fatalf("%+v", runErr)
	}
	fmt.Fprintln(os.Stderr, "lilac: cycle finished")
}
