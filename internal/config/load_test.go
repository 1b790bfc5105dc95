package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
version: 1

core:
  jobs: 4

cache:
  dir: /var/cache/pipetrack

state:
  enabled: false

log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", exampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 4, cfg.Core.Jobs)
	assert.Equal(t, "/var/cache/pipetrack", cfg.Cache.Dir)
	assert.False(t, cfg.StateEnabled())
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", "version: 1\ncore:\n  jobs: -2\n")

	_, err := Load(path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assertContainsError(t, verr.Errors, "core.jobs")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"version zero", Config{}, "unsupported version"},
		{"version too new", Config{Version: 99}, "unsupported version"},
		{"negative jobs", Config{Version: 1, Core: CoreConfig{Jobs: -1}}, "core.jobs"},
		{"bad level", Config{Version: 1, Log: LogConfig{Level: "loud"}}, "log.level"},
		{"bad format", Config{Version: 1, Log: LogConfig{Format: "xml"}}, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertContainsError(t, Validate(&tt.cfg), tt.want)
		})
	}
}

func TestValidateValidConfig(t *testing.T) {
	assert.Empty(t, Validate(Defaults()), "defaults should be valid")
	assert.Empty(t, Validate(&Config{Version: 1, Log: LogConfig{Level: "WARN", Format: "text"}}))
}

func TestValidationErrorFormat(t *testing.T) {
	msg := (&ValidationError{Errors: []string{"error one", "error two"}}).Error()
	assert.Contains(t, msg, "error one")
	assert.Contains(t, msg, "error two")
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.StateEnabled())
	assert.Zero(t, cfg.Core.Jobs, "zero jobs means one per CPU")
	assert.True(t, (&Config{}).StateEnabled(), "unset state.enabled means enabled")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pipetrack", "config.yaml")
	require.NoError(t, Save(path, Defaults()))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.StateEnabled())
}

func assertContainsError(t *testing.T, errs []string, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return
		}
	}
	t.Errorf("expected an error containing %q, got: %v", substr, errs)
}
