package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bianoble/pipetrack/internal/fsview"
	"github.com/bianoble/pipetrack/internal/prompt"
	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/stage"
)

// ErrNotWorkingTree is returned by mutations while a historical revision is
// the active view.
var ErrNotWorkingTree = errors.New("stages can only be changed in the working tree")

// CommitEngine records the current state of stage outputs: it caches them
// and stores their checksums and the declaration hash in the stage file.
type CommitEngine struct {
	Repo    *repo.Repo
	Confirm prompt.Confirmer
	Jobs    int
	Logger  *slog.Logger
}

// CommitOptions configures a commit operation.
type CommitOptions struct {
	// Force commits changed stages without asking.
	Force bool
	// WithDeps also commits every ancestor of each target, producers first.
	WithDeps bool
}

// Commit commits every target independently. Failures are collected in the
// result; the returned error is reserved for problems affecting the whole
// batch.
func (e *CommitEngine) Commit(ctx context.Context, targets []string, opts CommitOptions) (*CommitResult, error) {
	if !e.Repo.View().IsWorkingTree() {
		return nil, ErrNotWorkingTree
	}
	result := &CommitResult{}
	stages, errs, err := targetsOrAll(e.Repo, targets, opts.WithDeps)
	if err != nil {
		return nil, err
	}
	result.Errors = append(result.Errors, errs...)

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		cached, err := e.commitStage(ctx, s, opts.Force)
		if err != nil {
			loggerOrDiscard(e.Logger).Debug("commit failed", "stage", s.Address(), "error", err)
			result.Errors = append(result.Errors, TargetError{Target: s.Address(), Err: err})
			continue
		}
		result.Committed = append(result.Committed, s.Address())
		result.Cached = append(result.Cached, cached...)
	}
	return result, nil
}

func (e *CommitEngine) commitStage(ctx context.Context, s *stage.Stage, force bool) ([]FileAction, error) {
	view := fsview.NewWorkingTree(e.Repo.Root)
	if err := stage.CheckMissingOutputs(s, view); err != nil {
		return nil, err
	}

	deps, err := measure(ctx, e.Repo.Cache, view, s.Deps, e.Jobs)
	if err != nil {
		return nil, err
	}
	var missing []string
	for i, d := range s.Deps {
		if d.Kind != stage.KindRemote && !deps[i].Exists {
			missing = append(missing, d.String())
		}
	}
	if len(missing) > 0 {
		return nil, &stage.Error{
			Kind:  stage.ErrMissingDataSource,
			Paths: missing,
			Msg:   fmt.Sprintf("missing dependencies: %s", strings.Join(missing, ", ")),
		}
	}
	outs, err := measure(ctx, e.Repo.Cache, view, s.Outs, e.Jobs)
	if err != nil {
		return nil, err
	}

	if changed := changedEntries(s, deps, outs); len(changed) > 0 && !force {
		question := fmt.Sprintf("Stage '%s' changed (%s). Commit anyway?", s.Address(), strings.Join(changed, ", "))
		ok := false
		if e.Confirm != nil {
			ok, err = e.Confirm.Confirm(ctx, question)
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			return nil, &stage.Error{
				Kind: stage.ErrChangedDeclaration,
				Msg:  fmt.Sprintf("stage '%s' changed (%s): use --force to commit anyway", s.Address(), strings.Join(changed, ", ")),
			}
		}
	}

	var cached []FileAction
	for i, o := range s.Outs {
		if o.Kind != stage.KindLocal {
			continue
		}
		if o.Cache {
			if err := e.Repo.Cache.Put(o.Abs, outs[i].Checksum); err != nil {
				return nil, fmt.Errorf("caching %s: %w", o, err)
			}
			cached = append(cached, FileAction{Path: o.String(), Action: "cached"})
		}
		o.Checksum = outs[i].Checksum
	}
	for i, d := range s.Deps {
		if d.Kind == stage.KindRemote {
			continue
		}
		d.Checksum = deps[i].Checksum
		if d.Kind == stage.KindParam {
			d.Values = deps[i].Values
		}
	}
	s.MD5 = stage.ComputeDeclarationHash(s)
	if err := e.Repo.Loader.Save(s); err != nil {
		return nil, err
	}
	loggerOrDiscard(e.Logger).Debug("committed stage", "stage", s.Address(), "md5", s.MD5)
	return cached, nil
}

// changedEntries lists what differs from the recorded state of s. Edges
// without a recorded checksum have never been committed and do not count.
func changedEntries(s *stage.Stage, deps, outs []edgeState) []string {
	var changed []string
	if s.MD5 != "" && s.MD5 != stage.ComputeDeclarationHash(s) {
		changed = append(changed, "declaration")
	}
	for i, d := range s.Deps {
		if d.Checksum != "" && deps[i].Exists && d.Checksum != deps[i].Checksum {
			changed = append(changed, "dep "+d.String())
		}
	}
	for i, o := range s.Outs {
		if o.Checksum != "" && outs[i].Exists && o.Checksum != outs[i].Checksum {
			changed = append(changed, "out "+o.String())
		}
	}
	return changed
}
