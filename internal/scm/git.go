// Package scm exposes the revision queries the brancher needs from the
// source control system hosting a workspace.
package scm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bianoble/pipetrack/internal/fsview"
)

// ErrNoSCM is returned by NoSCM for every revision query.
var ErrNoSCM = errors.New("workspace is not tracked by git")

// Git runs git commands against the repository at Dir.
type Git struct {
	Dir string
}

// Provider is the set of revision queries a workspace needs from its SCM.
type Provider interface {
	ResolveRevision(ctx context.Context, rev string) (string, error)
	ListBranches(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context) ([]string, error)
	ListAllCommits(ctx context.Context) ([]string, error)
	TreeView(ctx context.Context, rev, label string) (fsview.View, error)
}

// Detect returns a Git provider when dir is inside a git work tree, and
// NoSCM otherwise.
func Detect(ctx context.Context, dir string) Provider {
	g := &Git{Dir: dir}
	if _, err := g.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		return NoSCM{}
	}
	return g
}

// ResolveRevision returns the commit id rev points to.
func (g *Git) ResolveRevision(ctx context.Context, rev string) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("unknown revision '%s': %w", rev, err)
	}
	return out, nil
}

// ListBranches returns local branch names.
func (g *Git) ListBranches(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return lines(out), nil
}

// ListTags returns tag names.
func (g *Git) ListTags(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/tags")
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	return lines(out), nil
}

// ListAllCommits returns every commit reachable from any ref, newest first.
func (g *Git) ListAllCommits(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "rev-list", "--all")
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}
	return lines(out), nil
}

// TreeView returns a read-only view of the tree of rev.
func (g *Git) TreeView(ctx context.Context, rev, label string) (fsview.View, error) {
	top, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("locating work tree: %w", err)
	}
	top, err = filepath.EvalSymlinks(top)
	if err != nil {
		return nil, err
	}
	return fsview.NewGitTree(ctx, top, rev, label), nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.Dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// NoSCM stands in for a workspace outside git. Only the working tree is
// available.
type NoSCM struct{}

func (NoSCM) ResolveRevision(context.Context, string) (string, error) { return "", ErrNoSCM }
func (NoSCM) ListBranches(context.Context) ([]string, error)          { return nil, ErrNoSCM }
func (NoSCM) ListTags(context.Context) ([]string, error)              { return nil, ErrNoSCM }
func (NoSCM) ListAllCommits(context.Context) ([]string, error)        { return nil, ErrNoSCM }
func (NoSCM) TreeView(context.Context, string, string) (fsview.View, error) {
	return nil, ErrNoSCM
}
