package stage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestComputeDeclarationHashIdempotent(t *testing.T) {
	root := t.TempDir()
	s := testStage(root, "train.stage", []string{"data.csv"}, []string{"model.bin"})

	first := ComputeDeclarationHash(s)
	s.MD5 = first
	assert.Equal(t, first, ComputeDeclarationHash(s), "hash changed after storing it")
	assert.Len(t, first, 32, "md5 hex digest")
	assert.False(t, s.Changed(), "stage with freshly stored hash reported as changed")
}

func TestComputeDeclarationHashIgnoresFlags(t *testing.T) {
	root := t.TempDir()
	base := testStage(root, "train.stage", []string{"data.csv"}, []string{"model.bin", "metrics.json"})
	want := ComputeDeclarationHash(base)

	mutations := []struct {
		name string
		fn   func(s *Stage)
	}{
		{"locked", func(s *Stage) { s.Locked = true }},
		{"persist", func(s *Stage) { s.Outs[0].Persist = true }},
		{"metric", func(s *Stage) { s.Outs[1].Metric = true }},
		{"plot", func(s *Stage) { s.Outs[1].Plot = true }},
		{"meta", func(s *Stage) { s.Meta = map[string]any{"owner": "data-team"} }},
		{"stored md5", func(s *Stage) { s.MD5 = "0123456789abcdef0123456789abcdef" }},
		{"dep checksum", func(s *Stage) { s.Deps[0].Checksum = "aaaa" }},
		{"out checksum", func(s *Stage) { s.Outs[0].Checksum = "bbbb" }},
		{"reordered outs", func(s *Stage) { s.Outs[0], s.Outs[1] = s.Outs[1], s.Outs[0] }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			s := testStage(root, "train.stage", []string{"data.csv"}, []string{"model.bin", "metrics.json"})
			m.fn(s)
			assert.Equal(t, want, ComputeDeclarationHash(s))
		})
	}
}

func TestComputeDeclarationHashDetectsChanges(t *testing.T) {
	root := t.TempDir()
	want := ComputeDeclarationHash(testStage(root, "train.stage", []string{"data.csv"}, []string{"model.bin"}))

	mutations := []struct {
		name string
		fn   func(s *Stage)
	}{
		{"cmd", func(s *Stage) { s.Cmd = "python other.py" }},
		{"extra dep", func(s *Stage) { s.Deps = append(s.Deps, LocalSpec("extra.csv").Resolve(root)) }},
		{"cache flag", func(s *Stage) { s.Outs[0].Cache = false }},
		{"wdir", func(s *Stage) { s.WorkingDir = filepath.Join(root, "sub") }},
		{"always changed", func(s *Stage) { s.AlwaysChanged = true }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			s := testStage(root, "train.stage", []string{"data.csv"}, []string{"model.bin"})
			m.fn(s)
			assert.NotEqual(t, want, ComputeDeclarationHash(s))
		})
	}
}

func TestResolveWorkingDirLabel(t *testing.T) {
	root := filepath.FromSlash("/repo")
	file := filepath.Join(root, "stages", "train.stage")

	_, ok := ResolveWorkingDirLabel(filepath.Join(root, "stages"), file)
	assert.False(t, ok, "label for the file's own directory is omitted")
	_, ok = ResolveWorkingDirLabel("", file)
	assert.False(t, ok, "empty working dir is omitted")

	label, ok := ResolveWorkingDirLabel(root, file)
	assert.True(t, ok)
	assert.Equal(t, "..", label)

	label, ok = ResolveWorkingDirLabel(filepath.Join(root, "stages", "src"), file)
	assert.True(t, ok)
	assert.Equal(t, "src", label)
}

func TestDumpdOmitsFalsyKeys(t *testing.T) {
	root := t.TempDir()
	s := &Stage{Path: filepath.Join(root, "data.stage"), Root: root, WorkingDir: root}
	s.Outs = []*Edge{LocalSpec("data.csv").Resolve(root)}

	d := s.Dumpd()
	for _, key := range []string{KeyMD5, KeyCmd, KeyWdir, KeyLocked, KeyDeps, KeyAlwaysChanged, KeyMeta} {
		assert.NotContains(t, d, key)
	}
	outs, ok := d[KeyOuts].([]any)
	require.True(t, ok, "outs = %#v", d[KeyOuts])
	require.Len(t, outs, 1)
	out := outs[0].(map[string]any)
	assert.Equal(t, "data.csv", out[KeyPath])
	assert.Equal(t, true, out[KeyCache])
}

func TestDeclarationsEqual(t *testing.T) {
	root := t.TempDir()
	s := testStage(root, "train.stage", []string{"a.csv", "b.csv"}, []string{"model.bin"})
	before := s.Dumpd()

	// Round-trip through YAML the way stage files are persisted.
	data, err := yaml.Marshal(map[string]any(before))
	require.NoError(t, err)
	var decoded Dump
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.True(t, DeclarationsEqual(decoded, before), "YAML round-trip changed the declaration")

	s.MD5 = "ffff"
	s.Outs[0].Checksum = "1234"
	s.Deps[0], s.Deps[1] = s.Deps[1], s.Deps[0]
	assert.True(t, DeclarationsEqual(before, s.Dumpd()), "md5, out checksums and ordering are ignored")

	s.Cmd = "python other.py"
	assert.False(t, DeclarationsEqual(before, s.Dumpd()), "command change not detected")

	assert.Contains(t, before, KeyCmd, "DeclarationsEqual mutated its input")
}
