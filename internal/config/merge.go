package config

import "fmt"

// Merge combines two configs where overlay takes precedence over base.
// This implements the hierarchical merge semantics:
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalar settings: a value set in overlay replaces the base value
//   - state.enabled: an explicit false in overlay wins over a base true
func Merge(base, overlay *Config) (*Config, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := &Config{}
	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	result.Core.Jobs = pick(base.Core.Jobs, overlay.Core.Jobs)
	result.Cache.Dir = pick(base.Cache.Dir, overlay.Cache.Dir)
	result.Log.Level = pick(base.Log.Level, overlay.Log.Level)
	result.Log.Format = pick(base.Log.Format, overlay.Log.Format)

	result.State.Enabled = base.State.Enabled
	if overlay.State.Enabled != nil {
		result.State.Enabled = overlay.State.Enabled
	}

	return result, nil
}

// MergeAll merges multiple configs in order (lowest precedence first).
// Returns an error if any version mismatch is found.
func MergeAll(configs []*Config) (*Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := configs[0]
	for i := 1; i < len(configs); i++ {
		var err error
		result, err = Merge(result, configs[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0 && overlay == 0:
		*out = 0 // neither declares; validation will catch this
	case base == 0:
		*out = overlay
	case overlay == 0:
		*out = base
	case base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d: all config layers must agree on version", base, overlay)
	}
	return nil
}

// pick returns overlay unless it is the zero value.
func pick[T comparable](base, overlay T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}
