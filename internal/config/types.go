package config

// Config represents a pipetrack config.yaml file. Every field is optional
// except version; unset fields inherit from lower layers or Defaults.
type Config struct {
	Version int         `yaml:"version"`
	Core    CoreConfig  `yaml:"core,omitempty"`
	Cache   CacheConfig `yaml:"cache,omitempty"`
	State   StateConfig `yaml:"state,omitempty"`
	Log     LogConfig   `yaml:"log,omitempty"`
}

// CoreConfig holds engine settings.
type CoreConfig struct {
	// Jobs bounds concurrent checksum computation. Zero means one per CPU.
	Jobs int `yaml:"jobs,omitempty"`
}

// CacheConfig locates the content-addressed cache.
type CacheConfig struct {
	// Dir is the cache directory; relative paths are resolved against the
	// workspace root.
	Dir string `yaml:"dir,omitempty"`
}

// StateConfig controls the checksum memo.
type StateConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format,omitempty"` // "text", "json"
}

// Defaults returns the configuration used when no layer sets a value.
func Defaults() *Config {
	enabled := true
	return &Config{
		Version: 1,
		State:   StateConfig{Enabled: &enabled},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// StateEnabled reports whether the checksum memo should be opened.
func (c *Config) StateEnabled() bool {
	return c.State.Enabled == nil || *c.State.Enabled
}
