// Package stagefile reads and writes stage declarations: single-stage
// *.stage files and multi-stage pipeline.yaml files with their
// pipeline.lock.
package stagefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/pipetrack/internal/fsview"
	"github.com/bianoble/pipetrack/internal/sandbox"
	"github.com/bianoble/pipetrack/internal/stage"
)

// Loader reads stages from a view of the workspace rooted at Root and
// writes them back to the working tree.
type Loader struct {
	Root   string
	Logger *slog.Logger
}

// New returns a Loader for the workspace at root.
func New(root string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{Root: root, Logger: logger}
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	File   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed:\n  - %s", e.File, strings.Join(e.Errors, "\n  - "))
}

// IsStageFile reports whether name is a file the loader understands.
func IsStageFile(name string) bool {
	base := filepath.Base(name)
	return base == PipelineFile || (strings.HasSuffix(base, StageExt) && base != StageExt)
}

// SplitAddress splits "dir/pipeline.yaml:name" into its file and stage
// name. Addresses of single-stage files have no name.
func SplitAddress(addr string) (file, name string) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, ""
	}
	if filepath.Base(addr[:i]) != PipelineFile || strings.ContainsAny(addr[i+1:], `/\`) {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

// LoadAll collects every stage under Root, in lexical file order. Hidden
// directories are skipped.
func (l *Loader) LoadAll(view fsview.View) ([]*stage.Stage, error) {
	var files []string
	err := view.Walk(l.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != l.Root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsStageFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting stage files: %w", err)
	}
	sort.Strings(files)

	var stages []*stage.Stage
	for _, f := range files {
		loaded, err := l.LoadFile(view, f)
		if err != nil {
			return nil, err
		}
		stages = append(stages, loaded...)
	}
	l.Logger.Debug("loaded stages", "view", view.Name(), "files", len(files), "stages", len(stages))
	return stages, nil
}

// LoadFile loads every stage declared in path.
func (l *Loader) LoadFile(view fsview.View, path string) ([]*stage.Stage, error) {
	switch {
	case filepath.Base(path) == PipelineFile:
		return l.loadPipeline(view, path)
	case IsStageFile(path):
		s, err := l.loadSingle(view, path)
		if err != nil {
			return nil, err
		}
		return []*stage.Stage{s}, nil
	default:
		return nil, fmt.Errorf("'%s' is not a stage file: expected '*%s' or '%s'", l.rel(path), StageExt, PipelineFile)
	}
}

func (l *Loader) rel(path string) string {
	if r, err := filepath.Rel(l.Root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return path
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("file is empty")
		}
		return err
	}
	return nil
}

func (l *Loader) checkDirs(view fsview.View, file, wdir string) error {
	check := func(dir string, isWdir bool) error {
		if view.IsWorkingTree() {
			return sandbox.CheckStagePath(l.Root, dir, isWdir)
		}
		return sandbox.CheckStagePathIn(view, l.Root, dir, isWdir)
	}
	if err := check(filepath.Dir(file), false); err != nil {
		return err
	}
	return check(wdir, true)
}

func resolveWdir(file, wdir string) string {
	dir := filepath.Dir(file)
	if wdir == "" {
		return dir
	}
	return filepath.Clean(filepath.Join(dir, filepath.FromSlash(wdir)))
}

func (l *Loader) loadSingle(view fsview.View, path string) (*stage.Stage, error) {
	data, err := view.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stage file %s: %w", l.rel(path), err)
	}
	var f SingleStage
	if err := decodeStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parsing stage file %s: %w", l.rel(path), err)
	}
	if errs := validateSingle(&f); len(errs) > 0 {
		return nil, &ValidationError{File: l.rel(path), Errors: errs}
	}

	wdir := resolveWdir(path, f.Wdir)
	if err := l.checkDirs(view, path, wdir); err != nil {
		return nil, err
	}

	s := &stage.Stage{
		Path:          path,
		Root:          l.Root,
		WorkingDir:    wdir,
		Cmd:           f.Cmd,
		Locked:        f.Locked,
		AlwaysChanged: f.AlwaysChanged,
		MD5:           f.MD5,
		Meta:          f.Meta,
	}
	for _, d := range f.Deps {
		spec := depSpec(d.Path)
		if len(d.Params) > 0 {
			spec = stage.ParamSpec(d.Path, d.Params)
		}
		spec.Checksum = d.MD5
		s.Deps = append(s.Deps, spec.Resolve(wdir))
	}
	for _, o := range f.Outs {
		spec := outSpec(o.Path, o.Cache, o.Persist)
		spec.Metric, spec.Plot, spec.Checksum = o.Metric, o.Plot, o.MD5
		s.Outs = append(s.Outs, spec.Resolve(wdir))
	}

	if err := stage.Validate(s); err != nil {
		return nil, fmt.Errorf("stage %s: %w", s.Address(), err)
	}
	return s, nil
}

func depSpec(p string) stage.EdgeSpec {
	if stage.IsRemotePath(p) {
		return stage.RemoteSpec(p)
	}
	spec := stage.LocalSpec(p)
	spec.Cache = false
	return spec
}

func outSpec(p string, cache *bool, persist bool) stage.EdgeSpec {
	spec := stage.LocalSpec(p)
	if stage.IsRemotePath(p) {
		spec = stage.RemoteSpec(p)
	}
	if cache != nil {
		spec.Cache = *cache
	}
	spec.Persist = persist
	return spec
}

// validateSingle checks a decoded stage file for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func validateSingle(f *SingleStage) []string {
	var errs []string
	for i, d := range f.Deps {
		if d.Path == "" {
			errs = append(errs, fmt.Sprintf("deps[%d]: 'path' is required", i))
		}
	}
	for i, o := range f.Outs {
		if o.Path == "" {
			errs = append(errs, fmt.Sprintf("outs[%d]: 'path' is required", i))
		}
	}
	return errs
}

// allowedPipelineKeys are the keys of a stage entry in pipeline.yaml.
var allowedPipelineKeys = map[string]bool{
	"cmd": true, "wdir": true, "deps": true, "params": true, "outs": true,
	"metrics": true, "plots": true, "locked": true, "always_changed": true, "meta": true,
}

func (l *Loader) loadPipeline(view fsview.View, path string) ([]*stage.Stage, error) {
	data, err := view.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file %s: %w", l.rel(path), err)
	}
	var p Pipeline
	if err := decodeStrict(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pipeline file %s: %w", l.rel(path), err)
	}
	lock, err := l.readLock(view, lockPath(path))
	if err != nil {
		return nil, err
	}

	defs, err := pipelineStages(&p)
	if err != nil {
		return nil, fmt.Errorf("parsing pipeline file %s: %w", l.rel(path), err)
	}
	stages := make([]*stage.Stage, 0, len(defs))
	for _, def := range defs {
		wdir := resolveWdir(path, def.Wdir)
		if err := l.checkDirs(view, path, wdir); err != nil {
			return nil, err
		}
		s := pipelineStage(path, l.Root, def.Name, &def.PipelineStage, lock[def.Name])
		if err := stage.Validate(s); err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Address(), err)
		}
		stages = append(stages, s)
	}
	return stages, nil
}

type namedStage struct {
	Name string
	PipelineStage
}

// pipelineStages decodes the "stages:" mapping in declaration order.
func pipelineStages(p *Pipeline) ([]namedStage, error) {
	n := &p.Stages
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: 'stages' must be a mapping", n.Line)
	}
	var out []namedStage
	var errs []string
	for i := 0; i+1 < len(n.Content); i += 2 {
		name, body := n.Content[i].Value, n.Content[i+1]
		if body.Kind != yaml.MappingNode {
			errs = append(errs, fmt.Sprintf("stage '%s': must be a mapping", name))
			continue
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			if key := body.Content[j].Value; !allowedPipelineKeys[key] {
				errs = append(errs, fmt.Sprintf("stage '%s': unknown key '%s'", name, key))
			}
		}
		var ps PipelineStage
		if err := body.Decode(&ps); err != nil {
			errs = append(errs, fmt.Sprintf("stage '%s': %v", name, err))
			continue
		}
		if ps.Cmd == "" {
			errs = append(errs, fmt.Sprintf("stage '%s': 'cmd' is required", name))
		}
		out = append(out, namedStage{Name: name, PipelineStage: ps})
	}
	if len(errs) > 0 {
		return nil, &ValidationError{File: PipelineFile, Errors: errs}
	}
	return out, nil
}

func pipelineStage(path, root, name string, def *PipelineStage, lock *LockStage) *stage.Stage {
	wdir := resolveWdir(path, def.Wdir)
	s := &stage.Stage{
		Path:          path,
		Name:          name,
		Root:          root,
		WorkingDir:    wdir,
		Cmd:           def.Cmd,
		Locked:        def.Locked,
		AlwaysChanged: def.AlwaysChanged,
		Meta:          def.Meta,
	}
	depSums, outSums := map[string]string{}, map[string]string{}
	var params map[string]map[string]any
	if lock != nil {
		s.MD5 = lock.MD5
		for _, d := range lock.Deps {
			depSums[d.Path] = d.MD5
		}
		for _, o := range lock.Outs {
			outSums[o.Path] = o.MD5
		}
		params = lock.Params
	}

	for _, d := range def.Deps {
		spec := depSpec(d)
		spec.Checksum = depSums[spec.Path]
		s.Deps = append(s.Deps, spec.Resolve(wdir))
	}
	for _, spec := range groupParams(def.Params) {
		if values, ok := params[spec.Path]; ok {
			spec.Values = values
			spec.Checksum = stage.ParamsChecksum(values)
		}
		s.Deps = append(s.Deps, spec.Resolve(wdir))
	}
	addOuts := func(entries []PathEntry, metric, plot bool) {
		for _, o := range entries {
			spec := outSpec(o.Path, o.Flags.Cache, o.Flags.Persist)
			spec.Metric, spec.Plot = metric, plot
			spec.Checksum = outSums[spec.Path]
			s.Outs = append(s.Outs, spec.Resolve(wdir))
		}
	}
	addOuts(def.Outs, false, false)
	addOuts(def.Metrics, true, false)
	addOuts(def.Plots, false, true)
	return s
}

// groupParams merges params entries by file, in first-appearance order.
func groupParams(entries []ParamsEntry) []stage.EdgeSpec {
	var order []string
	keys := map[string][]string{}
	for _, e := range entries {
		file := e.File
		if file == "" {
			file = stage.DefaultParamsFile
		}
		if _, seen := keys[file]; !seen {
			order = append(order, file)
		}
		keys[file] = append(keys[file], e.Keys...)
	}
	specs := make([]stage.EdgeSpec, 0, len(order))
	for _, file := range order {
		specs = append(specs, stage.ParamSpec(file, keys[file]))
	}
	return specs
}

func lockPath(pipelinePath string) string {
	return filepath.Join(filepath.Dir(pipelinePath), LockFile)
}

func (l *Loader) readLock(view fsview.View, path string) (map[string]*LockStage, error) {
	if !view.Exists(path) {
		return map[string]*LockStage{}, nil
	}
	data, err := view.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lock file %s: %w", l.rel(path), err)
	}
	lock := map[string]*LockStage{}
	if len(bytes.TrimSpace(data)) == 0 {
		return lock, nil
	}
	if err := decodeStrict(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", l.rel(path), err)
	}
	if errs := validateLock(lock); len(errs) > 0 {
		return nil, &ValidationError{File: l.rel(path), Errors: errs}
	}
	return lock, nil
}

// validateLock checks a decoded lock file for semantic correctness.
func validateLock(lock map[string]*LockStage) []string {
	var errs []string
	names := make([]string, 0, len(lock))
	for name := range lock {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ls := lock[name]
		if ls == nil {
			errs = append(errs, fmt.Sprintf("locked stage '%s': entry is empty", name))
			continue
		}
		if ls.Cmd == "" {
			errs = append(errs, fmt.Sprintf("locked stage '%s': 'cmd' is required", name))
		}
		for i, d := range ls.Deps {
			if d.Path == "" {
				errs = append(errs, fmt.Sprintf("locked stage '%s': deps[%d]: 'path' is required", name, i))
			}
		}
		for i, o := range ls.Outs {
			if o.Path == "" {
				errs = append(errs, fmt.Sprintf("locked stage '%s': outs[%d]: 'path' is required", name, i))
			}
		}
	}
	return errs
}
