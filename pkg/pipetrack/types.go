package pipetrack

import (
	"github.com/bianoble/pipetrack/internal/engine"
	"github.com/bianoble/pipetrack/internal/graph"
	"github.com/bianoble/pipetrack/internal/prompt"
	"github.com/bianoble/pipetrack/internal/repo"
)

// Type aliases re-export engine types as the public API.
// Users import "github.com/bianoble/pipetrack/pkg/pipetrack" and use
// pipetrack.CommitResult, pipetrack.StatusResult, etc.

type FileAction = engine.FileAction
type TargetError = engine.TargetError
type CommitOptions = engine.CommitOptions
type CommitResult = engine.CommitResult
type RemoveOptions = engine.RemoveOptions
type RemoveResult = engine.RemoveResult
type CheckoutOptions = engine.CheckoutOptions
type CheckoutResult = engine.CheckoutResult
type StatusOptions = engine.StatusOptions
type StatusResult = engine.StatusResult
type StageStatus = engine.StageStatus
type EdgeStatus = engine.EdgeStatus
type ShowOptions = engine.ShowOptions
type InfoResult = engine.InfoResult
type BranchOptions = repo.BranchOptions
type View = graph.View
type ViewMode = graph.ViewMode
type Confirmer = prompt.Confirmer

const (
	ViewStages   = graph.ViewStages
	ViewCommands = graph.ViewCommands
	ViewOuts     = graph.ViewOuts
)
