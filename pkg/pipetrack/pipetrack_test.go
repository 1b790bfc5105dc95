package pipetrack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/pipetrack/internal/config"
	"github.com/bianoble/pipetrack/internal/prompt"
	"github.com/bianoble/pipetrack/internal/repo"
)

// setupWorkspace initializes a workspace with a two-stage pipeline.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, repo.Init(dir))
	files := map[string]string{
		"fetch.stage": "cmd: fetch\nouts:\n- path: data.csv\n",
		"train.stage": "cmd: train\ndeps:\n- path: data.csv\nouts:\n- path: model.bin\n",
		"data.csv":    "a,b\n1,2\n",
		"model.bin":   "weights",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// newTestClient creates a client that ignores system and user config.
func newTestClient(t *testing.T, dir string, confirm Confirmer) *Client {
	t.Helper()
	client, err := New(context.Background(), Options{
		ProjectRoot: dir,
		NoInherit:   true,
		Confirm:     confirm,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewFindsRootFromSubdirectory(t *testing.T) {
	dir := setupWorkspace(t)
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0755))

	client := newTestClient(t, sub, nil)
	assert.Equal(t, dir, client.Root())
	assert.Equal(t, 1, client.Config().Version, "default config version")
}

func TestNewOutsideWorkspace(t *testing.T) {
	_, err := New(context.Background(), Options{ProjectRoot: t.TempDir(), NoInherit: true})
	assert.Error(t, err)
}

func TestNewAppliesProjectConfig(t *testing.T) {
	dir := setupWorkspace(t)
	cfg := &config.Config{Version: 1, Cache: config.CacheConfig{Dir: "shared-cache"}, Core: config.CoreConfig{Jobs: 2}}
	require.NoError(t, config.Save(config.ProjectPath(dir), cfg))

	client := newTestClient(t, dir, nil)
	assert.Equal(t, 2, client.Config().Core.Jobs)
	_, err := client.Commit(context.Background(), []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "shared-cache"), "configured cache dir is used")
}

func TestClientCommitAndStatus(t *testing.T) {
	dir := setupWorkspace(t)
	client := newTestClient(t, dir, nil)
	ctx := context.Background()

	status, err := client.Status(ctx, nil, StatusOptions{})
	require.NoError(t, err)
	require.Len(t, status.Stages, 2, "both stages are uncommitted")

	res, err := client.Commit(ctx, nil, CommitOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)

	status, err = client.Status(ctx, nil, StatusOptions{})
	require.NoError(t, err)
	assert.Empty(t, status.Stages, "clean status after commit")
}

func TestClientStatusRevisionsWithoutSelection(t *testing.T) {
	dir := setupWorkspace(t)
	client := newTestClient(t, dir, nil)

	results, err := client.StatusRevisions(context.Background(), nil, StatusOptions{}, BranchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "working tree", results[0].View)
}

func TestClientCheckout(t *testing.T) {
	dir := setupWorkspace(t)
	client := newTestClient(t, dir, nil)
	ctx := context.Background()

	_, err := client.Commit(ctx, nil, CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "model.bin")))

	res, err := client.Checkout(ctx, []string{"train.stage"}, CheckoutOptions{})
	require.NoError(t, err)
	require.Len(t, res.Written, 1)
	assert.Equal(t, "model.bin", res.Written[0].Path)
	data, err := os.ReadFile(filepath.Join(dir, "model.bin"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
}

func TestClientRemovePurgeNeedsConfirmation(t *testing.T) {
	dir := setupWorkspace(t)
	ctx := context.Background()

	// Each client holds the checksum memo open, so the first is closed
	// before the second is opened.
	refusing := newTestClient(t, dir, nil)
	res, err := refusing.Remove(ctx, []string{"train.stage"}, RemoveOptions{Purge: true})
	require.NoError(t, err)
	require.True(t, res.Failed(), "purge without confirmation should fail")
	require.NoError(t, refusing.Close())

	res, err = newTestClient(t, dir, prompt.Static(true)).Remove(ctx, []string{"train.stage"}, RemoveOptions{Purge: true})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	assert.NoFileExists(t, filepath.Join(dir, "train.stage"))
}

func TestClientPipelines(t *testing.T) {
	dir := setupWorkspace(t)
	client := newTestClient(t, dir, nil)

	lines, err := client.Pipeline("train.stage", ShowOptions{Commands: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "train"}, lines)

	tree, err := client.PipelineTree("train.stage", ViewStages)
	require.NoError(t, err)
	assert.Equal(t, "train.stage\n└── fetch.stage\n", tree)

	view, err := client.PipelineView("train.stage", ViewOuts)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"model.bin", "data.csv"}}, view.Edges)

	all, err := client.Pipelines()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0], 2)
}

func TestClientInfo(t *testing.T) {
	dir := setupWorkspace(t)
	client := newTestClient(t, dir, nil)

	info, err := client.Info("test")
	require.NoError(t, err)
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, dir, info.Root)
	assert.Equal(t, 2, info.Stages)
	require.Len(t, info.ConfigChain, 1)
	assert.Equal(t, "project", info.ConfigChain[0].Level)
	assert.False(t, info.ConfigChain[0].Loaded)
}
