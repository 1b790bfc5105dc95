package stagefile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/pipetrack/internal/fsview"
	"github.com/bianoble/pipetrack/internal/sandbox"
	"github.com/bianoble/pipetrack/internal/stage"
)

// Save writes s back to the working tree. Single-stage files are rewritten
// whole. For pipeline stages the lock entry is always rewritten, and the
// pipeline.yaml entry only when the declaration itself changed.
func (l *Loader) Save(s *stage.Stage) error {
	if s.Name == "" {
		data, err := encodeYAML(toSingle(s))
		if err != nil {
			return fmt.Errorf("marshaling stage %s: %w", s.Address(), err)
		}
		if err := sandbox.SafeWrite(l.Root, s.Path, data, 0644); err != nil {
			return fmt.Errorf("writing stage %s: %w", s.Address(), err)
		}
		l.Logger.Debug("saved stage file", "stage", s.Address())
		return nil
	}

	doc, stages, err := l.readPipelineDoc(s.Path)
	if err != nil {
		return err
	}
	idx := findStage(stages, s.Name)
	replace := true
	if idx >= 0 {
		var def PipelineStage
		if err := stages.Content[idx+1].Decode(&def); err == nil {
			old := pipelineStage(s.Path, l.Root, s.Name, &def, nil)
			replace = !stage.DeclarationsEqual(declarationOnly(old).Dumpd(), declarationOnly(s).Dumpd())
		}
	}
	if replace {
		var body yaml.Node
		if err := body.Encode(toPipelineStage(s)); err != nil {
			return fmt.Errorf("encoding stage %s: %w", s.Address(), err)
		}
		if idx >= 0 {
			stages.Content[idx+1] = &body
		} else {
			stages.Content = append(stages.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s.Name}, &body)
		}
		if err := l.writeYAML(s.Path, doc); err != nil {
			return err
		}
		l.Logger.Debug("updated pipeline declaration", "stage", s.Address())
	}

	lock, err := l.readLock(fsview.NewWorkingTree(l.Root), lockPath(s.Path))
	if err != nil {
		return err
	}
	lock[s.Name] = toLock(s)
	if err := l.writeYAML(lockPath(s.Path), lock); err != nil {
		return err
	}
	l.Logger.Debug("updated lock entry", "stage", s.Address())
	return nil
}

// Delete removes the declaration of s from the working tree. Removing the
// last stage of a pipeline file removes the file and its lock file.
func (l *Loader) Delete(s *stage.Stage) error {
	if s.Name == "" {
		if err := sandbox.SafeRemove(l.Root, s.Path); err != nil {
			return fmt.Errorf("removing stage file %s: %w", s.Address(), err)
		}
		return nil
	}

	doc, stages, err := l.readPipelineDoc(s.Path)
	if err != nil {
		return err
	}
	if idx := findStage(stages, s.Name); idx >= 0 {
		stages.Content = append(stages.Content[:idx], stages.Content[idx+2:]...)
	}
	lock, err := l.readLock(fsview.NewWorkingTree(l.Root), lockPath(s.Path))
	if err != nil {
		return err
	}
	delete(lock, s.Name)

	if len(stages.Content) == 0 {
		if err := sandbox.SafeRemove(l.Root, s.Path); err != nil {
			return err
		}
		return sandbox.SafeRemove(l.Root, lockPath(s.Path))
	}
	if err := l.writeYAML(s.Path, doc); err != nil {
		return err
	}
	if len(lock) == 0 {
		return sandbox.SafeRemove(l.Root, lockPath(s.Path))
	}
	return l.writeYAML(lockPath(s.Path), lock)
}

// readPipelineDoc returns the document node of a pipeline file and its
// "stages" mapping, creating both when the file does not exist yet.
func (l *Loader) readPipelineDoc(path string) (*yaml.Node, *yaml.Node, error) {
	var doc yaml.Node
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("reading pipeline file %s: %w", l.rel(path), err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("parsing pipeline file %s: %w", l.rel(path), err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("pipeline file %s: top level must be a mapping", l.rel(path))
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "stages" {
			return &doc, root.Content[i+1], nil
		}
	}
	stages := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "stages"}, stages)
	return &doc, stages, nil
}

func findStage(stages *yaml.Node, name string) int {
	for i := 0; i+1 < len(stages.Content); i += 2 {
		if stages.Content[i].Value == name {
			return i
		}
	}
	return -1
}

func (l *Loader) writeYAML(path string, v any) error {
	data, err := encodeYAML(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", l.rel(path), err)
	}
	if err := sandbox.SafeWrite(l.Root, path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", l.rel(path), err)
	}
	return nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// declarationOnly returns a copy of s without any recorded checksum.
func declarationOnly(s *stage.Stage) *stage.Stage {
	c := *s
	c.MD5 = ""
	strip := func(edges []*stage.Edge) []*stage.Edge {
		out := make([]*stage.Edge, 0, len(edges))
		for _, e := range edges {
			ec := *e
			ec.Checksum, ec.Values = "", nil
			out = append(out, &ec)
		}
		return out
	}
	c.Deps, c.Outs = strip(s.Deps), strip(s.Outs)
	return &c
}

func wdirLabel(s *stage.Stage) string {
	label, _ := stage.ResolveWorkingDirLabel(s.WorkingDir, s.Path)
	return label
}

func toSingle(s *stage.Stage) *SingleStage {
	f := &SingleStage{
		MD5:           s.MD5,
		Cmd:           s.Cmd,
		Wdir:          wdirLabel(s),
		Locked:        s.Locked,
		AlwaysChanged: s.AlwaysChanged,
		Meta:          s.Meta,
	}
	for _, d := range s.Deps {
		f.Deps = append(f.Deps, DepEntry{Path: d.Path, MD5: d.Checksum, Params: d.Params})
	}
	for _, o := range s.Outs {
		f.Outs = append(f.Outs, OutEntry{
			Path:    o.Path,
			MD5:     o.Checksum,
			Cache:   cacheFlag(o),
			Persist: o.Persist,
			Metric:  o.Metric,
			Plot:    o.Plot,
		})
	}
	return f
}

// cacheFlag is nil for the default (cached) so files stay minimal.
func cacheFlag(e *stage.Edge) *bool {
	if e.Cache || e.Kind == stage.KindRemote {
		return nil
	}
	off := false
	return &off
}

func toPipelineStage(s *stage.Stage) *PipelineStage {
	ps := &PipelineStage{
		Cmd:           s.Cmd,
		Wdir:          wdirLabel(s),
		Locked:        s.Locked,
		AlwaysChanged: s.AlwaysChanged,
		Meta:          s.Meta,
	}
	for _, d := range s.Deps {
		if d.Kind != stage.KindParam {
			ps.Deps = append(ps.Deps, d.Path)
			continue
		}
		if filepath.ToSlash(d.Path) == stage.DefaultParamsFile {
			for _, k := range d.Params {
				ps.Params = append(ps.Params, ParamsEntry{Keys: []string{k}})
			}
			continue
		}
		ps.Params = append(ps.Params, ParamsEntry{File: d.Path, Keys: d.Params})
	}
	for _, o := range s.Outs {
		entry := PathEntry{Path: o.Path, Flags: OutFlags{Cache: cacheFlag(o), Persist: o.Persist}}
		switch {
		case o.Metric:
			ps.Metrics = append(ps.Metrics, entry)
		case o.Plot:
			ps.Plots = append(ps.Plots, entry)
		default:
			ps.Outs = append(ps.Outs, entry)
		}
	}
	return ps
}

func toLock(s *stage.Stage) *LockStage {
	ls := &LockStage{Cmd: s.Cmd, MD5: s.MD5}
	for _, d := range s.Deps {
		if d.Kind == stage.KindParam {
			if d.Values != nil {
				if ls.Params == nil {
					ls.Params = map[string]map[string]any{}
				}
				ls.Params[d.Path] = d.Values
			}
			continue
		}
		ls.Deps = append(ls.Deps, LockEdge{Path: d.Path, MD5: d.Checksum})
	}
	for _, o := range s.Outs {
		ls.Outs = append(ls.Outs, LockEdge{Path: o.Path, MD5: o.Checksum})
	}
	return ls
}
