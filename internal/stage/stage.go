// Package stage defines pipeline stages, their dependencies and outputs,
// the structural checks every stage must pass, and the declaration hash used
// to decide whether a stage is up to date.
package stage

import (
	"path"
	"path/filepath"
	"strings"
)

// Stage is a declared unit of work.
type Stage struct {
	// Path is the absolute path of the file declaring the stage.
	Path string
	// Name is the stage name inside a multi-stage file; empty otherwise.
	Name string
	// Root is the absolute repository root the address is relative to.
	Root string

	WorkingDir    string
	Cmd           string
	Locked        bool
	AlwaysChanged bool
	Deps          []*Edge
	Outs          []*Edge

	// MD5 is the stored declaration hash.
	MD5  string
	Meta map[string]any
}

// Address is the stable identity of the stage inside the workspace.
func (s *Stage) Address() string {
	rel := s.Path
	if s.Root != "" {
		if r, err := filepath.Rel(s.Root, s.Path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)
	if s.Name != "" {
		return rel + ":" + s.Name
	}
	return rel
}

func (s *Stage) String() string { return s.Address() }

// IsDataSource reports whether the stage only registers data (no command).
func (s *Stage) IsDataSource() bool { return s.Cmd == "" }

// EdgeKind discriminates the declaration shapes an Edge can come from.
type EdgeKind int

const (
	// KindLocal is a path inside the workspace.
	KindLocal EdgeKind = iota
	// KindParam is a set of keys read from a parameters file.
	KindParam
	// KindRemote is an external URL reference.
	KindRemote
)

func (k EdgeKind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindParam:
		return "param"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// DefaultParamsFile is the parameters file used when a param dependency
// does not name one.
const DefaultParamsFile = "params.yaml"

// EdgeSpec is a decoded dependency or output declaration, before it is
// resolved against a working directory.
type EdgeSpec struct {
	Kind     EdgeKind
	Path     string
	Params   []string
	Values   map[string]any
	Checksum string
	Cache    bool
	Persist  bool
	Metric   bool
	Plot     bool
}

// LocalSpec declares a workspace path. Local outputs are cached by default.
func LocalSpec(p string) EdgeSpec {
	return EdgeSpec{Kind: KindLocal, Path: filepath.ToSlash(p), Cache: true}
}

// ParamSpec declares keys of a parameters file.
func ParamSpec(file string, keys []string) EdgeSpec {
	if file == "" {
		file = DefaultParamsFile
	}
	return EdgeSpec{Kind: KindParam, Path: filepath.ToSlash(file), Params: append([]string(nil), keys...)}
}

// RemoteSpec declares an external URL.
func RemoteSpec(url string) EdgeSpec {
	return EdgeSpec{Kind: KindRemote, Path: url}
}

// IsRemotePath reports whether p looks like a URL rather than a workspace path.
func IsRemotePath(p string) bool {
	i := strings.Index(p, "://")
	return i > 0 && !strings.ContainsAny(p[:i], "/\\")
}

// Resolve turns the spec into an Edge anchored at wdir.
func (s EdgeSpec) Resolve(wdir string) *Edge {
	e := &Edge{
		Kind:     s.Kind,
		Path:     s.Path,
		Params:   append([]string(nil), s.Params...),
		Values:   s.Values,
		Checksum: s.Checksum,
		Cache:    s.Cache,
		Persist:  s.Persist,
		Metric:   s.Metric,
		Plot:     s.Plot,
	}
	switch s.Kind {
	case KindRemote:
		e.Abs = s.Path
		e.Cache = false
	default:
		p := filepath.FromSlash(s.Path)
		if !filepath.IsAbs(p) {
			p = filepath.Join(wdir, p)
		}
		e.Abs = filepath.Clean(p)
	}
	if s.Kind == KindParam {
		e.Cache = false
	}
	return e
}

// Edge is a resolved dependency or output.
type Edge struct {
	Kind EdgeKind
	// Path is the path as declared, relative to the stage working directory.
	Path string
	// Abs is the cleaned absolute path used to match producers and consumers.
	Abs    string
	Params []string
	// Values are the recorded values of Params, keyed by parameter name.
	Values   map[string]any
	Checksum string
	Cache    bool
	Persist  bool
	Metric   bool
	Plot     bool
}

func (e *Edge) String() string {
	if e.Kind == KindRemote {
		return e.Path
	}
	return path.Clean(e.Path)
}

// IsLocal reports whether the edge references a workspace path.
func (e *Edge) IsLocal() bool { return e.Kind == KindLocal }
