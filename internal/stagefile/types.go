package stagefile

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// File names recognised by the loader.
const (
	StageExt     = ".stage"
	PipelineFile = "pipeline.yaml"
	LockFile     = "pipeline.lock"
)

// SingleStage is the on-disk form of a *.stage file.
type SingleStage struct {
	MD5           string         `yaml:"md5,omitempty"`
	Cmd           string         `yaml:"cmd,omitempty"`
	Wdir          string         `yaml:"wdir,omitempty"`
	Deps          []DepEntry     `yaml:"deps,omitempty"`
	Outs          []OutEntry     `yaml:"outs,omitempty"`
	Locked        bool           `yaml:"locked,omitempty"`
	AlwaysChanged bool           `yaml:"always_changed,omitempty"`
	Meta          map[string]any `yaml:"meta,omitempty"`
}

// DepEntry is a dependency of a single-stage file.
type DepEntry struct {
	Path   string   `yaml:"path"`
	MD5    string   `yaml:"md5,omitempty"`
	Params []string `yaml:"params,omitempty"`
}

// OutEntry is an output of a single-stage file. Cache defaults to true.
type OutEntry struct {
	Path    string `yaml:"path"`
	MD5     string `yaml:"md5,omitempty"`
	Cache   *bool  `yaml:"cache,omitempty"`
	Persist bool   `yaml:"persist,omitempty"`
	Metric  bool   `yaml:"metric,omitempty"`
	Plot    bool   `yaml:"plot,omitempty"`
}

// Pipeline is the on-disk form of pipeline.yaml. Stages keeps the mapping
// node so stage order and untouched formatting survive a rewrite.
type Pipeline struct {
	Stages yaml.Node `yaml:"stages"`
}

// PipelineStage is one entry under "stages:" in pipeline.yaml.
type PipelineStage struct {
	Cmd           string         `yaml:"cmd"`
	Wdir          string         `yaml:"wdir,omitempty"`
	Deps          []string       `yaml:"deps,omitempty"`
	Params        []ParamsEntry  `yaml:"params,omitempty"`
	Outs          []PathEntry    `yaml:"outs,omitempty"`
	Metrics       []PathEntry    `yaml:"metrics,omitempty"`
	Plots         []PathEntry    `yaml:"plots,omitempty"`
	Locked        bool           `yaml:"locked,omitempty"`
	AlwaysChanged bool           `yaml:"always_changed,omitempty"`
	Meta          map[string]any `yaml:"meta,omitempty"`
}

// PathEntry is an output written either as a bare path or as
// {path: {cache: false, persist: true}}.
type PathEntry struct {
	Path  string
	Flags OutFlags
}

// OutFlags are the optional per-output settings of pipeline.yaml.
type OutFlags struct {
	Cache   *bool `yaml:"cache,omitempty"`
	Persist bool  `yaml:"persist,omitempty"`
}

func (p *PathEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		return n.Decode(&p.Path)
	}
	var m map[string]OutFlags
	if err := n.Decode(&m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("line %d: output must name exactly one path", n.Line)
	}
	for path, flags := range m {
		p.Path, p.Flags = path, flags
	}
	return nil
}

func (p PathEntry) MarshalYAML() (any, error) {
	if p.Flags == (OutFlags{}) {
		return p.Path, nil
	}
	return map[string]OutFlags{p.Path: p.Flags}, nil
}

// ParamsEntry selects keys of a parameters file: a bare key reads the
// default file, {file: [keys]} reads another one.
type ParamsEntry struct {
	File string
	Keys []string
}

func (p *ParamsEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var key string
		if err := n.Decode(&key); err != nil {
			return err
		}
		p.Keys = []string{key}
		return nil
	}
	var m map[string][]string
	if err := n.Decode(&m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("line %d: params entry must name exactly one file", n.Line)
	}
	for file, keys := range m {
		p.File, p.Keys = file, keys
	}
	return nil
}

func (p ParamsEntry) MarshalYAML() (any, error) {
	if p.File == "" && len(p.Keys) == 1 {
		return p.Keys[0], nil
	}
	return map[string][]string{p.File: p.Keys}, nil
}

// LockStage records the checksums of one pipeline stage in pipeline.lock.
type LockStage struct {
	Cmd    string                    `yaml:"cmd"`
	MD5    string                    `yaml:"md5,omitempty"`
	Deps   []LockEdge                `yaml:"deps,omitempty"`
	Params map[string]map[string]any `yaml:"params,omitempty"`
	Outs   []LockEdge                `yaml:"outs,omitempty"`
}

// LockEdge is a path with its recorded checksum.
type LockEdge struct {
	Path string `yaml:"path"`
	MD5  string `yaml:"md5,omitempty"`
}
