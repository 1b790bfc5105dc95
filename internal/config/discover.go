package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// FileName is the name of every config layer file.
const FileName = "config.yaml"

const (
	appDir        = "pipetrack"
	projectDir    = ".pipetrack"
	envNoInherit  = "PIPETRACK_NO_INHERIT"
	winSystemBase = `C:\ProgramData`
)

// Level names where a config layer lives. Later levels win.
type Level string

const (
	LevelSystem  Level = "system"
	LevelUser    Level = "user"
	LevelProject Level = "project"
)

// Layer is one candidate config file and what happened when it was read.
type Layer struct {
	Level  Level
	Path   string
	Loaded bool
	Err    error
}

// ProjectPath returns the project config of the workspace at root.
func ProjectPath(root string) string {
	return filepath.Join(root, projectDir, FileName)
}

// Layers lists the config files LoadHierarchical reads, lowest precedence
// first. Empty system and user paths fall back to the OS locations; with
// NoInherit only the project file is listed. Two levels naming the same
// file keep the lower one.
func Layers(opts HierarchicalOptions) []Layer {
	candidates := []Layer{{Level: LevelProject, Path: opts.ProjectPath}}
	if !opts.NoInherit {
		candidates = []Layer{
			{Level: LevelSystem, Path: orDefault(opts.SystemConfigPath, systemPath)},
			{Level: LevelUser, Path: orDefault(opts.UserConfigPath, userPath)},
			candidates[0],
		}
	}

	var layers []Layer
	seen := make(map[string]bool, len(candidates))
	for _, l := range candidates {
		if l.Path == "" {
			continue
		}
		key := l.Path
		if abs, err := filepath.Abs(key); err == nil {
			key = abs
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		layers = append(layers, l)
	}
	return layers
}

func orDefault(path string, fallback func() string) string {
	if path != "" {
		return path
	}
	return fallback()
}

func systemPath() string {
	if runtime.GOOS != "windows" {
		return filepath.Join("/etc", appDir, FileName)
	}
	base := os.Getenv("ProgramData")
	if base == "" {
		base = winSystemBase
	}
	return filepath.Join(base, appDir, FileName)
}

// userPath is empty when the OS reports no config directory.
func userPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appDir, FileName)
}

// EnvNoInherit reports whether PIPETRACK_NO_INHERIT asks for project-only
// config.
func EnvNoInherit() bool {
	return truthy(os.Getenv(envNoInherit))
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
