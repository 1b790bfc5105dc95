package repo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bianoble/pipetrack/internal/fsview"
)

// ErrBrancherActive is returned when Brancher is entered while another
// Brancher call on the same Repo is still running.
var ErrBrancherActive = errors.New("revision brancher is already active")

// BranchOptions selects the revisions Brancher visits besides the working
// tree.
type BranchOptions struct {
	Revs        []string
	AllBranches bool
	AllTags     bool
	AllCommits  bool
}

func (o BranchOptions) empty() bool {
	return len(o.Revs) == 0 && !o.AllBranches && !o.AllTags && !o.AllCommits
}

// Brancher calls fn once per selected revision with that revision's tree
// installed as the active view.
//
// Without any selection fn is called once with an empty label and the view
// is left alone. Otherwise the working tree comes first, then every distinct
// commit in listing order; names resolving to the same commit share one call
// with their names joined by ", ". The view active on entry is reinstated
// before Brancher returns, whatever fn does.
func (r *Repo) Brancher(ctx context.Context, opts BranchOptions, fn func(ctx context.Context, rev string) error) error {
	r.mu.Lock()
	if r.branching {
		r.mu.Unlock()
		return ErrBrancherActive
	}
	if opts.empty() {
		r.mu.Unlock()
		return fn(ctx, "")
	}
	r.branching = true
	saved := r.view
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.view = saved
		r.branching = false
		r.mu.Unlock()
		r.Logger.Debug("restored view", "view", saved.Name())
	}()

	r.setView(fsview.NewWorkingTree(r.Root))
	if err := fn(ctx, fsview.WorkingTreeName); err != nil {
		return err
	}

	revs, err := r.selectRevisions(ctx, opts)
	if err != nil {
		return err
	}
	groups, order, err := r.groupRevisions(ctx, revs)
	if err != nil {
		return err
	}

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		label := strings.Join(groups[id], ", ")
		view, err := r.SCM.TreeView(ctx, id, label)
		if err != nil {
			return fmt.Errorf("opening revision '%s': %w", label, err)
		}
		r.setView(view)
		r.Logger.Debug("switched view", "revision", label, "commit", id)
		if err := fn(ctx, label); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) selectRevisions(ctx context.Context, opts BranchOptions) ([]string, error) {
	if opts.AllCommits {
		commits, err := r.SCM.ListAllCommits(ctx)
		if err != nil {
			return nil, err
		}
		return commits, nil
	}

	var revs []string
	for _, rev := range opts.Revs {
		if rev != fsview.WorkingTreeName {
			revs = append(revs, rev)
		}
	}
	if opts.AllBranches {
		branches, err := r.SCM.ListBranches(ctx)
		if err != nil {
			return nil, err
		}
		revs = append(revs, branches...)
	}
	if opts.AllTags {
		tags, err := r.SCM.ListTags(ctx)
		if err != nil {
			return nil, err
		}
		revs = append(revs, tags...)
	}
	return revs, nil
}

// groupRevisions maps each commit id to the distinct names resolving to it.
// Ids are returned in the order their first name appears.
func (r *Repo) groupRevisions(ctx context.Context, revs []string) (map[string][]string, []string, error) {
	groups := make(map[string][]string)
	var order []string
	for _, rev := range revs {
		id, err := r.SCM.ResolveRevision(ctx, rev)
		if err != nil {
			return nil, nil, err
		}
		names, seen := groups[id]
		if !seen {
			order = append(order, id)
		}
		if !slices.Contains(names, rev) {
			groups[id] = append(names, rev)
		}
	}
	return groups, order, nil
}
