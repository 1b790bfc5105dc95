package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/bianoble/pipetrack/internal/cache"
	"github.com/bianoble/pipetrack/internal/fsview"
	"github.com/bianoble/pipetrack/internal/logging"
	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/stage"
	"github.com/bianoble/pipetrack/internal/stagefile"
)

// edgeState is the content of an edge as currently seen through a view.
type edgeState struct {
	Exists   bool
	Checksum string
	Values   map[string]any
}

// measure computes the current checksum of every local and param edge.
// Edges are measured concurrently, at most jobs at a time; remote edges are
// left zero.
func measure(ctx context.Context, c *cache.Cache, view fsview.View, edges []*stage.Edge, jobs int) ([]edgeState, error) {
	states := make([]edgeState, len(edges))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobsOrDefault(jobs))
	for i, e := range edges {
		if e.Kind == stage.KindRemote {
			continue
		}
		i, e := i, e
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !view.Exists(e.Abs) {
				return nil
			}
			if e.Kind == stage.KindParam {
				values, err := stagefile.ReadParams(view, e.Abs, e.Params)
				if err != nil {
					// Unreadable or missing keys count as a missing dependency.
					return nil
				}
				states[i] = edgeState{Exists: true, Checksum: stage.ParamsChecksum(values), Values: values}
				return nil
			}
			sum, err := c.Checksum(view, e.Abs)
			if err != nil {
				return fmt.Errorf("computing checksum of %s: %w", e, err)
			}
			states[i] = edgeState{Exists: true, Checksum: sum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func jobsOrDefault(jobs int) int {
	if jobs > 0 {
		return jobs
	}
	return runtime.NumCPU()
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return logging.Discard()
}

// collect resolves every target of a batch. Targets that fail to resolve are
// reported as TargetErrors; the stages of the others are returned in order
// without duplicates.
func collect(r *repo.Repo, targets []string, withDeps bool) ([]*stage.Stage, []TargetError) {
	var (
		stages []*stage.Stage
		errs   []TargetError
	)
	seen := make(map[string]bool)
	for _, t := range targets {
		found, err := r.CollectTarget(t, withDeps)
		if err != nil {
			errs = append(errs, TargetError{Target: t, Err: err})
			continue
		}
		for _, s := range found {
			if !seen[s.Address()] {
				seen[s.Address()] = true
				stages = append(stages, s)
			}
		}
	}
	return stages, errs
}

// targetsOrAll returns the stages named by targets, or every stage of the
// active view when there are none.
func targetsOrAll(r *repo.Repo, targets []string, withDeps bool) ([]*stage.Stage, []TargetError, error) {
	if len(targets) > 0 {
		stages, errs := collect(r, targets, withDeps)
		return stages, errs, nil
	}
	stages, err := r.Stages()
	if err != nil {
		return nil, nil, err
	}
	return stages, nil, nil
}
