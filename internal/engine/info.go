package engine

import (
	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/scm"
)

// ConfigLayerStatus describes a config layer's load status for display.
type ConfigLayerStatus struct {
	Level  string // "system", "user", "project"
	Path   string
	Loaded bool
}

// InfoResult holds workspace information for the info command.
type InfoResult struct {
	Version     string
	Root        string
	CacheDir    string
	SCM         string
	ConfigChain []ConfigLayerStatus
	CacheSize   int64
	Stages      int
	Pipelines   int
}

// Info gathers workspace information. Stage counts are left zero when the
// stages cannot be loaded.
func Info(version string, r *repo.Repo, chain []ConfigLayerStatus) (*InfoResult, error) {
	res := &InfoResult{
		Version:     version,
		Root:        r.Root,
		ConfigChain: chain,
		SCM:         "none",
	}
	if _, ok := r.SCM.(*scm.Git); ok {
		res.SCM = "git"
	}

	if r.Cache != nil {
		res.CacheDir = r.Cache.Path()
		size, err := r.Cache.Size()
		if err == nil {
			res.CacheSize = size
		}
	}

	if g, err := r.Graph(); err == nil {
		res.Stages = g.Len()
		res.Pipelines = len(g.ConnectedComponents())
	}
	return res, nil
}
