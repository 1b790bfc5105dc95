package stage

import (
	"encoding/json"
	"path/filepath"
	"reflect"
)

// Keys of a persisted stage declaration.
const (
	KeyMD5           = "md5"
	KeyCmd           = "cmd"
	KeyWdir          = "wdir"
	KeyLocked        = "locked"
	KeyDeps          = "deps"
	KeyOuts          = "outs"
	KeyAlwaysChanged = "always_changed"
	KeyMeta          = "meta"

	KeyPath    = "path"
	KeyParams  = "params"
	KeyCache   = "cache"
	KeyPersist = "persist"
	KeyMetric  = "metric"
	KeyPlot    = "plot"
)

// Dump is the persisted mapping form of a stage declaration.
type Dump map[string]any

// Dumpd returns the declaration of s with every falsy key omitted.
func (s *Stage) Dumpd() Dump {
	d := Dump{}
	if s.MD5 != "" {
		d[KeyMD5] = s.MD5
	}
	if s.Cmd != "" {
		d[KeyCmd] = s.Cmd
	}
	if wdir, ok := ResolveWorkingDirLabel(s.WorkingDir, s.Path); ok {
		d[KeyWdir] = wdir
	}
	if s.Locked {
		d[KeyLocked] = true
	}
	if len(s.Deps) > 0 {
		deps := make([]any, 0, len(s.Deps))
		for _, e := range s.Deps {
			deps = append(deps, e.dumpDep())
		}
		d[KeyDeps] = deps
	}
	if len(s.Outs) > 0 {
		outs := make([]any, 0, len(s.Outs))
		for _, e := range s.Outs {
			outs = append(outs, e.dumpOut())
		}
		d[KeyOuts] = outs
	}
	if s.AlwaysChanged {
		d[KeyAlwaysChanged] = true
	}
	if len(s.Meta) > 0 {
		d[KeyMeta] = s.Meta
	}
	return d
}

func (e *Edge) dumpDep() map[string]any {
	m := map[string]any{KeyPath: e.Path}
	if e.Checksum != "" {
		m[KeyMD5] = e.Checksum
	}
	if e.Kind == KindParam {
		params := make([]any, 0, len(e.Params))
		for _, p := range e.Params {
			params = append(params, p)
		}
		m[KeyParams] = params
	}
	return m
}

func (e *Edge) dumpOut() map[string]any {
	m := map[string]any{KeyPath: e.Path, KeyCache: e.Cache}
	if e.Checksum != "" {
		m[KeyMD5] = e.Checksum
	}
	if e.Persist {
		m[KeyPersist] = true
	}
	if e.Metric {
		m[KeyMetric] = true
	}
	if e.Plot {
		m[KeyPlot] = true
	}
	return m
}

// ResolveWorkingDirLabel returns the working directory relative to the
// directory of the declaring file, in slash form. ok is false when the label
// would be ".", so declarations without a wdir keep the same hash.
func ResolveWorkingDirLabel(workingDir, filePath string) (label string, ok bool) {
	if workingDir == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Dir(filePath), workingDir)
	if err != nil {
		rel = workingDir
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", false
	}
	return rel, true
}

// DeclarationsEqual reports whether two dumps declare the same stage,
// ignoring the stored hash, output checksums and the order of deps and outs.
func DeclarationsEqual(oldDump, newDump Dump) bool {
	a, b := normalize(oldDump), normalize(newDump)
	for _, m := range []map[string]any{a, b} {
		delete(m, KeyMD5)
		if outs, ok := m[KeyOuts].([]any); ok {
			for _, o := range outs {
				if om, ok := o.(map[string]any); ok {
					delete(om, KeyMD5)
				}
			}
		}
		for _, key := range []string{KeyDeps, KeyOuts} {
			if list, ok := m[key].([]any); ok && len(list) > 0 {
				m[key] = keyByPath(list)
			}
		}
	}
	return reflect.DeepEqual(a, b)
}

// normalize deep-copies d into plain JSON types so dumps decoded from YAML
// compare equal to dumps built in memory.
func normalize(d Dump) map[string]any {
	out := map[string]any{}
	if d == nil {
		return out
	}
	data, err := json.Marshal(d)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func keyByPath(list []any) map[string]any {
	keyed := make(map[string]any, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p, _ := m[KeyPath].(string)
		keyed[p] = m
	}
	return keyed
}
