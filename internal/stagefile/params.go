package stagefile

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/pipetrack/internal/fsview"
)

// ReadParams reads the selected keys of a YAML parameters file. Keys use
// dots to reach into nested mappings ("train.lr").
func ReadParams(view fsview.View, path string, keys []string) (map[string]any, error) {
	data, err := view.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading params file %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing params file %s: %w", path, err)
	}

	values := make(map[string]any, len(keys))
	var missing []string
	for _, key := range keys {
		v, ok := lookup(doc, key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		values[key] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("params file %s has no %s", path, strings.Join(missing, ", "))
	}
	return values, nil
}

func lookup(doc map[string]any, key string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
