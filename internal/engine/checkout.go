package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/stage"
)

// CheckoutEngine restores cached outputs into the workspace.
type CheckoutEngine struct {
	Repo   *repo.Repo
	Jobs   int
	Logger *slog.Logger
}

// CheckoutOptions configures a checkout operation.
type CheckoutOptions struct {
	WithDeps bool
	DryRun   bool
}

// Checkout brings every cached output of the targets (all stages when there
// are none) back to its recorded checksum. Outputs whose content is not in
// the cache are reported as errors of their stage.
func (e *CheckoutEngine) Checkout(ctx context.Context, targets []string, opts CheckoutOptions) (*CheckoutResult, error) {
	if !e.Repo.View().IsWorkingTree() {
		return nil, ErrNotWorkingTree
	}
	result := &CheckoutResult{}
	stages, errs, err := targetsOrAll(e.Repo, targets, opts.WithDeps)
	if err != nil {
		return nil, err
	}
	result.Errors = append(result.Errors, errs...)

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.checkoutStage(ctx, s, opts, result); err != nil {
			result.Errors = append(result.Errors, TargetError{Target: s.Address(), Err: err})
		}
	}
	return result, nil
}

func (e *CheckoutEngine) checkoutStage(ctx context.Context, s *stage.Stage, opts CheckoutOptions, result *CheckoutResult) error {
	current, err := measure(ctx, e.Repo.Cache, e.Repo.View(), s.Outs, e.Jobs)
	if err != nil {
		return err
	}

	var missing []string
	for i, o := range s.Outs {
		if o.Kind != stage.KindLocal || !o.Cache || o.Checksum == "" {
			continue
		}
		if current[i].Exists && current[i].Checksum == o.Checksum {
			result.Skipped = append(result.Skipped, FileAction{Path: o.String(), Action: "unchanged"})
			continue
		}
		if !e.Repo.Cache.Exists(o.Checksum) {
			missing = append(missing, o.String())
			result.Skipped = append(result.Skipped, FileAction{Path: o.String(), Action: "missing"})
			continue
		}

		action := "written"
		if current[i].Exists {
			action = "modified"
		}
		if !opts.DryRun {
			if err := e.Repo.Cache.Get(o.Checksum, o.Abs); err != nil {
				return fmt.Errorf("restoring %s: %w", o, err)
			}
			loggerOrDiscard(e.Logger).Debug("restored output", "stage", s.Address(), "path", o.String())
		}
		result.Written = append(result.Written, FileAction{Path: o.String(), Action: action})
	}
	if len(missing) > 0 {
		return &stage.Error{
			Kind:  stage.ErrMissingDataSource,
			Paths: missing,
			Msg:   fmt.Sprintf("outputs not in cache: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
