package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bianoble/pipetrack/internal/prompt"
	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/sandbox"
	"github.com/bianoble/pipetrack/internal/stage"
)

// RemoveEngine deletes stage outputs from the workspace and, when purging,
// the stages themselves.
type RemoveEngine struct {
	Repo    *repo.Repo
	Confirm prompt.Confirmer
	Logger  *slog.Logger
}

// RemoveOptions configures a remove operation.
type RemoveOptions struct {
	// Purge also deletes the cache entries of every output and the stage
	// declaration.
	Purge bool
	// Force purges without asking.
	Force bool
}

// Remove processes every target independently. Without Purge only cached,
// non-persistent outputs are deleted; they can be restored with checkout.
func (e *RemoveEngine) Remove(ctx context.Context, targets []string, opts RemoveOptions) (*RemoveResult, error) {
	if !e.Repo.View().IsWorkingTree() {
		return nil, ErrNotWorkingTree
	}
	result := &RemoveResult{}
	stages, errs := collect(e.Repo, targets, false)
	result.Errors = append(result.Errors, errs...)

	var keep map[string]bool
	if opts.Purge {
		var err error
		if keep, err = e.sharedObjects(stages); err != nil {
			return nil, err
		}
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var (
			removed []FileAction
			err     error
		)
		if opts.Purge {
			removed, err = e.purge(ctx, s, opts.Force, keep)
		} else {
			removed, err = e.removeOuts(s)
		}
		result.Removed = append(result.Removed, removed...)
		if err != nil {
			result.Errors = append(result.Errors, TargetError{Target: s.Address(), Err: err})
			continue
		}
		if opts.Purge {
			result.Purged = append(result.Purged, s.Address())
		}
	}
	return result, nil
}

func (e *RemoveEngine) removeOuts(s *stage.Stage) ([]FileAction, error) {
	var removed []FileAction
	for _, o := range s.Outs {
		if o.Kind != stage.KindLocal || !o.Cache || o.Persist {
			continue
		}
		action, err := e.removeOut(o)
		if err != nil {
			return removed, err
		}
		if action != nil {
			removed = append(removed, *action)
		}
	}
	return removed, nil
}

func (e *RemoveEngine) purge(ctx context.Context, s *stage.Stage, force bool, keep map[string]bool) ([]FileAction, error) {
	if !force {
		ok := false
		if e.Confirm != nil {
			var err error
			ok, err = e.Confirm.Confirm(ctx, fmt.Sprintf("Are you sure you want to purge '%s' with all its outputs?", s.Address()))
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			return nil, stage.NewError(stage.ErrConfirmationRequired,
				"purging '%s' requires confirmation: use --force to proceed", s.Address())
		}
	}

	var removed []FileAction
	for _, o := range s.Outs {
		if o.Kind != stage.KindLocal {
			continue
		}
		action, err := e.removeOut(o)
		if err != nil {
			return removed, err
		}
		if action != nil {
			removed = append(removed, *action)
		}
		if o.Cache && o.Checksum != "" {
			if err := e.Repo.Cache.RemoveExcept(o.Checksum, keep); err != nil {
				return removed, fmt.Errorf("removing cache entry of %s: %w", o, err)
			}
		}
	}
	if err := e.Repo.Loader.Delete(s); err != nil {
		return removed, err
	}
	loggerOrDiscard(e.Logger).Debug("purged stage", "stage", s.Address())
	return removed, nil
}

// sharedObjects collects the cache objects still referenced by stages that
// are not being purged, so their outputs stay restorable.
func (e *RemoveEngine) sharedObjects(purging []*stage.Stage) (map[string]bool, error) {
	all, err := e.Repo.Stages()
	if err != nil {
		return nil, fmt.Errorf("loading stages: %w", err)
	}
	gone := make(map[string]bool, len(purging))
	for _, s := range purging {
		gone[s.Address()] = true
	}
	keep := make(map[string]bool)
	for _, s := range all {
		if gone[s.Address()] {
			continue
		}
		for _, o := range s.Outs {
			if !o.Cache {
				continue
			}
			for _, obj := range e.Repo.Cache.Objects(o.Checksum) {
				keep[obj] = true
			}
		}
	}
	return keep, nil
}

// removeOut deletes one output from the workspace. Outputs already absent
// produce no action.
func (e *RemoveEngine) removeOut(o *stage.Edge) (*FileAction, error) {
	// Lstat so a dangling symlink output is still removed.
	if _, err := os.Lstat(o.Abs); err != nil {
		return nil, nil
	}
	if err := sandbox.SafeRemove(e.Repo.Root, o.Abs); err != nil {
		return nil, fmt.Errorf("removing %s: %w", o, err)
	}
	return &FileAction{Path: o.String(), Action: "removed"}, nil
}
