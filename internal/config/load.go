package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/pipetrack/internal/logging"
)

// Load reads and validates a single config file.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

// parse decodes a config file without validating it, so partial layers can
// be merged first.
func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d: only version 1 is supported", cfg.Version))
	}
	if cfg.Core.Jobs < 0 {
		errs = append(errs, fmt.Sprintf("core.jobs: must not be negative, got %d", cfg.Core.Jobs))
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: invalid level '%s': must be one of: debug, info, warn, error", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format: invalid format '%s': must be one of: text, json", cfg.Log.Format))
	}

	return errs
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// HierarchicalOptions controls LoadHierarchical.
type HierarchicalOptions struct {
	ProjectPath      string
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit loads only the project layer.
	NoInherit bool
}

// HierarchicalResult is the merged configuration and the status of every
// layer that was considered.
type HierarchicalResult struct {
	Config *Config
	Layers []Layer
}

// LoadHierarchical loads the system, user and project layers that exist,
// merges them over Defaults and validates the result. Missing layers are
// skipped; a layer that exists but cannot be parsed is an error.
func LoadHierarchical(opts HierarchicalOptions) (*HierarchicalResult, error) {
	layers := Layers(opts)

	configs := []*Config{Defaults()}
	for i := range layers {
		cfg, err := parse(layers[i].Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			layers[i].Err = err
			return nil, fmt.Errorf("%s config: %w", layers[i].Level, err)
		}
		layers[i].Loaded = true
		configs = append(configs, cfg)
	}

	merged, err := MergeAll(configs)
	if err != nil {
		return nil, err
	}
	if errs := Validate(merged); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &HierarchicalResult{Config: merged, Layers: layers}, nil
}
