// Package upstream defines the external upstream version checker
// interface and ships a reference implementation that scrapes a
// directory-listing style upstream source and compares versions with
// semver (HTML scraping via golang.org/x/net/html, version comparison via
// golang.org/x/mod/semver), simplified to a single strategy rather than
// per-source dispatch (Debian mirrors, GitHub releases, SourceForge, ...).
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/pkgforge/lilac/internal/recipe"
)

// Result is the version pair the checker produced for one package.
type Result struct {
	OldVer string
	NewVer string
}

// Output is everything the change detector needs from one checker
// invocation.
type Output struct {
	Results              map[string]Result
	Unknown              map[string]bool // checker could not determine a verdict
	UnconditionalRebuild map[string]bool // rebuild regardless of version equality
}

// Checker is the external version-checker interface.
type Checker interface {
	Check(ctx context.Context, recipes map[string]*recipe.Recipe, oldVersions map[string]string) (*Output, error)
}

// HTTPChecker is the reference Checker: each recipe optionally carries an
// UpstreamURL (a directory listing) and a VersionPattern (a regexp with
// one capturing group extracting the version from an anchor href).
// Recipes without an UpstreamURL are reported Unknown. A recipe with
// ForceRebuild set is always placed in UnconditionalRebuild, independent
// of whether its version changed.
type HTTPChecker struct {
	Client *http.Client
	// Proxy, if set, configures an HTTP proxy for upstream requests
	// (config key nvchecker.proxy).
	Proxy string
}

func (c *HTTPChecker) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	hc := &http.Client{Timeout: 10 * time.Second}
	if c.Proxy != "" {
		if u, err := url.Parse(c.Proxy); err == nil {
			hc.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
	return hc
}

func (c *HTTPChecker) Check(ctx context.Context, recipes map[string]*recipe.Recipe, oldVersions map[string]string) (*Output, error) {
	out := &Output{
		Results:              make(map[string]Result),
		Unknown:              make(map[string]bool),
		UnconditionalRebuild: make(map[string]bool),
	}
	var mu sync.Mutex

	// Upstream sources are fetched concurrently, bounded to avoid opening
	// one socket per managed package at once; each fetch is otherwise
	// independent so a bounded errgroup is a direct fit.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU() * 4)

	for _, pkgbase := range recipe.Sorted(recipes) {
		pkgbase, r := pkgbase, recipes[pkgbase]

		mu.Lock()
		if r.ForceRebuild {
			out.UnconditionalRebuild[pkgbase] = true
		}
		mu.Unlock()

		if r.UpstreamURL == "" {
			mu.Lock()
			out.Unknown[pkgbase] = true
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			newVer, err := c.latestVersion(gctx, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Unknown[pkgbase] = true
				return nil // a single unreachable upstream never fails the whole check
			}
			out.Results[pkgbase] = Result{
				OldVer: oldVersions[pkgbase],
				NewVer: newVer,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPChecker) latestVersion(ctx context.Context, r *recipe.Recipe) (string, error) {
	pattern := r.VersionPattern
	if pattern == "" {
		pattern = `-([0-9][0-9.]*)\.tar`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", xerrors.Errorf("version_pattern: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.UpstreamURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %s", r.UpstreamURL, resp.Status)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", err
	}

	var best string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				m := re.FindStringSubmatch(a.Val)
				if m == nil {
					continue
				}
				cand := m[1]
				if best == "" || semver.Compare(normalize(cand), normalize(best)) > 0 {
					best = cand
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if best == "" {
		return "", xerrors.Errorf("%s: no version matched pattern %q", r.UpstreamURL, pattern)
	}
	return best, nil
}

// normalize turns a bare dotted version like "1.2.3" into the "vMAJOR..."
// form golang.org/x/mod/semver requires.
func normalize(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
