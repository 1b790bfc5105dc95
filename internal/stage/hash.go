package stage

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// hashExcluded are keys dropped at every level of the hash payload: toggling
// them must never make a stage stale.
var hashExcluded = map[string]bool{
	KeyLocked:  true,
	KeyMetric:  true,
	KeyPersist: true,
	KeyPlot:    true,
	KeyMD5:     true,
}

// ComputeDeclarationHash fingerprints the functional declaration of s.
//
// The stored hash, metadata, checksums and the locked, metric, persist and
// plot flags are not part of the payload. A wdir of "." is dropped so files written
// without a wdir hash the same as files that spell it out. Deps and outs are
// sorted by path.
func ComputeDeclarationHash(s *Stage) string {
	d := normalize(s.Dumpd())
	delete(d, KeyMD5)
	delete(d, KeyMeta)
	if w, ok := d[KeyWdir].(string); ok && w == "." {
		delete(d, KeyWdir)
	}

	payload := filterKeys(d).(map[string]any)
	for _, key := range []string{KeyDeps, KeyOuts} {
		if list, ok := payload[key].([]any); ok {
			sortByPath(list)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// normalize already round-tripped the dump through JSON.
		panic("stage: marshal hash payload: " + err.Error())
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ParamsChecksum is the checksum of a param dependency: the md5 of the
// canonical JSON of the selected values.
func ParamsChecksum(values map[string]any) string {
	data, err := json.Marshal(values)
	if err != nil {
		data = []byte(fmt.Sprint(values))
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func filterKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if hashExcluded[k] {
				continue
			}
			out[k] = filterKeys(val)
		}
		if params, ok := out[KeyParams].([]any); ok {
			sort.Slice(params, func(i, j int) bool {
				a, _ := params[i].(string)
				b, _ := params[j].(string)
				return a < b
			})
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			out = append(out, filterKeys(val))
		}
		return out
	default:
		return v
	}
}

func sortByPath(list []any) {
	pathOf := func(v any) string {
		m, _ := v.(map[string]any)
		p, _ := m[KeyPath].(string)
		return p
	}
	sort.SliceStable(list, func(i, j int) bool { return pathOf(list[i]) < pathOf(list[j]) })
}

// Changed reports whether the stored declaration hash no longer matches the
// declaration. A stage without a stored hash has never been committed and
// counts as changed.
func (s *Stage) Changed() bool {
	if s.AlwaysChanged {
		return true
	}
	return s.MD5 != ComputeDeclarationHash(s)
}
