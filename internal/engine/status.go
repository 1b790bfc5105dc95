package engine

import (
	"context"
	"log/slog"

	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/stage"
)

// Edge states reported by status.
const (
	StateModified   = "modified"
	StateDeleted    = "deleted"
	StateNew        = "new"
	StateNotInCache = "not in cache"
)

// StatusEngine reports which stages of the active view need to be rerun or
// restored.
type StatusEngine struct {
	Repo   *repo.Repo
	Jobs   int
	Logger *slog.Logger
}

// StatusOptions configures a status operation.
type StatusOptions struct {
	WithDeps bool
}

// EdgeStatus describes one dependency or output that differs from its
// recorded state.
type EdgeStatus struct {
	Path  string
	State string
}

// StageStatus describes the state of a single stage.
type StageStatus struct {
	Stage              string
	ChangedDeclaration bool
	AlwaysChanged      bool
	Deps               []EdgeStatus
	Outs               []EdgeStatus
	NotInCache         []string
}

// Clean reports whether nothing about the stage needs attention.
func (s StageStatus) Clean() bool {
	return !s.ChangedDeclaration && !s.AlwaysChanged &&
		len(s.Deps) == 0 && len(s.Outs) == 0 && len(s.NotInCache) == 0
}

// Changes lists the kinds of change found, in report order.
func (s StageStatus) Changes() []string {
	var out []string
	if s.ChangedDeclaration {
		out = append(out, "changed declaration")
	}
	if s.AlwaysChanged {
		out = append(out, "always changed")
	}
	if len(s.Deps) > 0 {
		out = append(out, "changed deps")
	}
	if len(s.Outs) > 0 {
		out = append(out, "changed outs")
	}
	if len(s.NotInCache) > 0 {
		out = append(out, StateNotInCache)
	}
	return out
}

// StatusResult holds the stages of one view that need attention.
type StatusResult struct {
	// View is the label of the view the status was computed on.
	View   string
	Stages []StageStatus
	Errors []TargetError
}

// Status inspects the targets, or every stage when there are none. Content
// checks of dependencies and outputs only run on the working tree; the
// declaration and cache checks run on any view.
func (e *StatusEngine) Status(ctx context.Context, targets []string, opts StatusOptions) (*StatusResult, error) {
	view := e.Repo.View()
	result := &StatusResult{View: view.Name()}
	stages, errs, err := targetsOrAll(e.Repo, targets, opts.WithDeps)
	if err != nil {
		return nil, err
	}
	result.Errors = append(result.Errors, errs...)

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		st, err := e.stageStatus(ctx, s, view.IsWorkingTree())
		if err != nil {
			result.Errors = append(result.Errors, TargetError{Target: s.Address(), Err: err})
			continue
		}
		if !st.Clean() {
			result.Stages = append(result.Stages, st)
		}
	}
	loggerOrDiscard(e.Logger).Debug("status computed", "view", result.View, "stages", len(stages), "changed", len(result.Stages))
	return result, nil
}

func (e *StatusEngine) stageStatus(ctx context.Context, s *stage.Stage, workspace bool) (StageStatus, error) {
	st := StageStatus{
		Stage:              s.Address(),
		ChangedDeclaration: s.MD5 != stage.ComputeDeclarationHash(s),
		AlwaysChanged:      s.AlwaysChanged,
	}

	for _, o := range s.Outs {
		if o.Kind == stage.KindLocal && o.Cache && o.Checksum != "" && !e.Repo.Cache.Exists(o.Checksum) {
			st.NotInCache = append(st.NotInCache, o.String())
		}
	}
	if !workspace {
		return st, nil
	}

	view := e.Repo.View()
	if !s.Locked {
		deps, err := measure(ctx, e.Repo.Cache, view, s.Deps, e.Jobs)
		if err != nil {
			return st, err
		}
		st.Deps = compare(s.Deps, deps)
	}
	outs, err := measure(ctx, e.Repo.Cache, view, s.Outs, e.Jobs)
	if err != nil {
		return st, err
	}
	st.Outs = compare(s.Outs, outs)
	return st, nil
}

func compare(edges []*stage.Edge, current []edgeState) []EdgeStatus {
	var out []EdgeStatus
	for i, e := range edges {
		if e.Kind == stage.KindRemote {
			continue
		}
		switch {
		case !current[i].Exists:
			out = append(out, EdgeStatus{Path: e.String(), State: StateDeleted})
		case e.Checksum == "":
			out = append(out, EdgeStatus{Path: e.String(), State: StateNew})
		case e.Checksum != current[i].Checksum:
			out = append(out, EdgeStatus{Path: e.String(), State: StateModified})
		}
	}
	return out
}
