// Package report defines the maintainer/error reporting sink and ships a reference
// implementation that files one GitHub issue per misbehaving package,
// using github.com/google/go-github and
// golang.org/x/oauth2 (cmd/autobuilder used the same client to list
// commits; here it is used to open/update issues instead).
package report

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
)

// Report is one maintainer-facing notification.
type Report struct {
	Pkgbase    string
	Subject    string
	Body       string
	Maintainer Recipient
}

// Recipient mirrors recipe.Maintainer without importing the recipe
// package, keeping this package's dependency surface to the interface it
// needs.
type Recipient struct {
	Name   string
	Email  string
	Handle string
}

// Sink delivers Reports to maintainers. Implementations must not block
// the build loop for long — the build supervisor (C4) calls Deliver
// synchronously after classifying a failure.
type Sink interface {
	Deliver(ctx context.Context, r Report) error
}

// LogSink is the trivial Sink: every report is written to a *log.Logger.
// Useful as a default when no mail/issue backend is configured, and for
// tests.
type LogSink struct {
	Log *log.Logger
}

func (s *LogSink) Deliver(ctx context.Context, r Report) error {
	l := s.Log
	if l == nil {
		l = log.Default()
	}
	l.Printf("[report %s] %s: %s", r.Pkgbase, r.Subject, firstLine(r.Body))
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// GitHubIssueSink delivers reports as GitHub issues, one issue per
// pkgbase: a later report for the same pkgbase is added as a comment on
// the issue this sink opened for it. Only issues opened by this sink
// value are remembered; existing issues on GitHub are not looked up, so
// a new process opens a new issue for a pkgbase.
type GitHubIssueSink struct {
	Owner, Repo string
	Client      *github.Client

	mu         sync.Mutex
	openIssues map[string]int // pkgbase -> issue number, recorded when Deliver opens it
}

// NewGitHubIssueSink builds a Sink authenticated with accessToken.
func NewGitHubIssueSink(ctx context.Context, owner, repo, accessToken string) *GitHubIssueSink {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubIssueSink{
		Owner:      owner,
		Repo:       repo,
		Client:     github.NewClient(tc),
		openIssues: make(map[string]int),
	}
}

func (s *GitHubIssueSink) Deliver(ctx context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	title := fmt.Sprintf("[%s] %s", r.Pkgbase, r.Subject)
	body := r.Body
	if r.Maintainer.Handle != "" {
		body += fmt.Sprintf("\n\ncc @%s", r.Maintainer.Handle)
	}

	if num, ok := s.openIssues[r.Pkgbase]; ok {
		_, _, err := s.Client.Issues.CreateComment(ctx, s.Owner, s.Repo, num, &github.IssueComment{
			Body: &body,
		})
		return err
	}

	issue, _, err := s.Client.Issues.Create(ctx, s.Owner, s.Repo, &github.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return err
	}
	s.openIssues[r.Pkgbase] = issue.GetNumber()
	return nil
}

// RuntimeError builds a runtime-error report: a whole-
// invocation failure, not attributable to a single package.
func RuntimeError(err error) Report {
	return Report{
		Pkgbase: "*",
		Subject: "lilac runtime error",
		Body:    fmt.Sprintf("%+v", err),
	}
}
