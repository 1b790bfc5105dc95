package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/pipetrack/internal/cache"
	"github.com/bianoble/pipetrack/internal/prompt"
	"github.com/bianoble/pipetrack/internal/repo"
	"github.com/bianoble/pipetrack/internal/scm"
	"github.com/bianoble/pipetrack/internal/stage"
)

func newRepo(t *testing.T) *repo.Repo {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, repo.Init(root))
	r, err := repo.Open(context.Background(), root, repo.Options{SCM: scm.NoSCM{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func loadStage(t *testing.T, r *repo.Repo, target string) *stage.Stage {
	t.Helper()
	found, err := r.CollectTarget(target, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

// chainRepo declares fetch.stage -> train.stage -> eval.stage through
// data.csv and model.bin, with every output present on disk.
func chainRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r := newRepo(t)
	writeFile(t, filepath.Join(r.Root, "fetch.stage"), "cmd: fetch\nouts:\n- path: data.csv\n")
	writeFile(t, filepath.Join(r.Root, "train.stage"), "cmd: train\ndeps:\n- path: data.csv\nouts:\n- path: model.bin\n")
	writeFile(t, filepath.Join(r.Root, "eval.stage"), "cmd: eval\ndeps:\n- path: model.bin\nouts:\n- path: scores.json\n  cache: false\n  metric: true\n")
	writeFile(t, filepath.Join(r.Root, "data.csv"), "a,b\n1,2\n")
	writeFile(t, filepath.Join(r.Root, "model.bin"), "weights")
	writeFile(t, filepath.Join(r.Root, "scores.json"), `{"acc": 0.9}`)
	return r
}

func TestCommitStoresChecksums(t *testing.T) {
	r := chainRepo(t)
	eng := &CommitEngine{Repo: r}

	res, err := eng.Commit(context.Background(), []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	assert.Equal(t, []string{"fetch.stage"}, res.Committed)
	assert.Equal(t, []FileAction{{Path: "data.csv", Action: "cached"}}, res.Cached)

	s := loadStage(t, r, "fetch.stage")
	want := cache.ComputeHash([]byte("a,b\n1,2\n"))
	assert.Equal(t, want, s.Outs[0].Checksum)
	assert.False(t, s.Changed())
	assert.True(t, r.Cache.Exists(want))
}

func TestCommitWithDeps(t *testing.T) {
	r := chainRepo(t)
	eng := &CommitEngine{Repo: r}

	res, err := eng.Commit(context.Background(), []string{"eval.stage"}, CommitOptions{WithDeps: true})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	assert.Equal(t, []string{"fetch.stage", "train.stage", "eval.stage"}, res.Committed)

	train := loadStage(t, r, "train.stage")
	assert.Equal(t, cache.ComputeHash([]byte("a,b\n1,2\n")), train.Deps[0].Checksum)

	eval := loadStage(t, r, "eval.stage")
	assert.NotEmpty(t, eval.Outs[0].Checksum)
	assert.False(t, r.Cache.Exists(eval.Outs[0].Checksum), "uncached output must not enter the cache")
}

func TestCommitCollectsFailures(t *testing.T) {
	r := chainRepo(t)
	require.NoError(t, os.Remove(filepath.Join(r.Root, "model.bin")))
	eng := &CommitEngine{Repo: r}

	res, err := eng.Commit(context.Background(), []string{"train.stage", "missing.stage", "fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch.stage"}, res.Committed)
	require.Len(t, res.Errors, 2)

	assert.Equal(t, "missing.stage", res.Errors[0].Target)
	assert.ErrorIs(t, res.Errors[0], repo.ErrStageNotFound)

	assert.Equal(t, "train.stage", res.Errors[1].Target)
	assert.ErrorIs(t, res.Errors[1], stage.ErrMissingDataSource)
	assert.ErrorIs(t, res.Errors[1], stage.ErrData)
}

func TestCommitMissingDependency(t *testing.T) {
	r := chainRepo(t)
	require.NoError(t, os.Remove(filepath.Join(r.Root, "data.csv")))

	res, err := (&CommitEngine{Repo: r}).Commit(context.Background(), []string{"train.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], stage.ErrMissingDataSource)
	assert.Contains(t, res.Errors[0].Error(), "data.csv")
}

func TestCommitChangedOutput(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	_, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	writeFile(t, filepath.Join(r.Root, "data.csv"), "a,b\n3,4\n")
	newSum := cache.ComputeHash([]byte("a,b\n3,4\n"))

	res, err := (&CommitEngine{Repo: r, Confirm: prompt.Static(false)}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], stage.ErrChangedDeclaration)
	assert.NotEqual(t, newSum, loadStage(t, r, "fetch.stage").Outs[0].Checksum)

	res, err = (&CommitEngine{Repo: r, Confirm: prompt.Static(true)}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, newSum, loadStage(t, r, "fetch.stage").Outs[0].Checksum)

	writeFile(t, filepath.Join(r.Root, "data.csv"), "a,b\n5,6\n")
	res, err = (&CommitEngine{Repo: r}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{Force: true})
	require.NoError(t, err)
	require.False(t, res.Failed())
}

func TestCommitChangedDeclaration(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	_, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)

	s := loadStage(t, r, "fetch.stage")
	s.Cmd = "fetch --all"
	require.NoError(t, r.Loader.Save(s))

	res, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], stage.ErrChangedDeclaration)
	assert.Contains(t, res.Errors[0].Error(), "declaration")
}

func TestCommitParams(t *testing.T) {
	r := newRepo(t)
	writeFile(t, filepath.Join(r.Root, "pipeline.yaml"), `stages:
  train:
    cmd: train
    params: [lr]
    outs: [model.bin]
`)
	writeFile(t, filepath.Join(r.Root, "params.yaml"), "lr: 0.5\nunused: 1\n")
	writeFile(t, filepath.Join(r.Root, "model.bin"), "weights")

	res, err := (&CommitEngine{Repo: r}).Commit(context.Background(), []string{"pipeline.yaml:train"}, CommitOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)

	lock := readFile(t, filepath.Join(r.Root, "pipeline.lock"))
	assert.Contains(t, lock, "lr: 0.5")
	assert.NotContains(t, lock, "unused")

	s := loadStage(t, r, "pipeline.yaml:train")
	assert.Equal(t, stage.ParamsChecksum(map[string]any{"lr": 0.5}), s.Deps[0].Checksum)
	assert.False(t, s.Changed())
}

func TestCommitAllStages(t *testing.T) {
	r := chainRepo(t)
	res, err := (&CommitEngine{Repo: r}).Commit(context.Background(), nil, CommitOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Committed, 3)
}

func TestRemoveOutsOnly(t *testing.T) {
	r := newRepo(t)
	writeFile(t, filepath.Join(r.Root, "train.stage"), `cmd: train
outs:
- path: model.bin
- path: logs
  persist: true
- path: scores.json
  cache: false
`)
	writeFile(t, filepath.Join(r.Root, "model.bin"), "weights")
	writeFile(t, filepath.Join(r.Root, "logs", "run.log"), "ok")
	writeFile(t, filepath.Join(r.Root, "scores.json"), "{}")

	res, err := (&RemoveEngine{Repo: r}).Remove(context.Background(), []string{"train.stage"}, RemoveOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, []FileAction{{Path: "model.bin", Action: "removed"}}, res.Removed)
	assert.Empty(t, res.Purged)

	assert.NoFileExists(t, filepath.Join(r.Root, "model.bin"))
	assert.DirExists(t, filepath.Join(r.Root, "logs"))
	assert.FileExists(t, filepath.Join(r.Root, "scores.json"))
	assert.FileExists(t, filepath.Join(r.Root, "train.stage"))
}

func TestRemovePurge(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	_, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	sum := loadStage(t, r, "fetch.stage").Outs[0].Checksum

	res, err := (&RemoveEngine{Repo: r, Confirm: prompt.Static(false)}).Remove(ctx, []string{"fetch.stage"}, RemoveOptions{Purge: true})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], stage.ErrConfirmationRequired)
	assert.ErrorIs(t, res.Errors[0], stage.ErrConfirmation)
	assert.FileExists(t, filepath.Join(r.Root, "data.csv"))
	assert.FileExists(t, filepath.Join(r.Root, "fetch.stage"))
	assert.True(t, r.Cache.Exists(sum))

	res, err = (&RemoveEngine{Repo: r}).Remove(ctx, []string{"fetch.stage"}, RemoveOptions{Purge: true, Force: true})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	assert.Equal(t, []string{"fetch.stage"}, res.Purged)
	assert.NoFileExists(t, filepath.Join(r.Root, "data.csv"))
	assert.NoFileExists(t, filepath.Join(r.Root, "fetch.stage"))
	assert.False(t, r.Cache.Exists(sum))
}

func TestRemovePurgeConfirmed(t *testing.T) {
	r := chainRepo(t)
	res, err := (&RemoveEngine{Repo: r, Confirm: prompt.Static(true)}).Remove(context.Background(), []string{"eval.stage"}, RemoveOptions{Purge: true})
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.NoFileExists(t, filepath.Join(r.Root, "scores.json"))
}

func TestRemoveSymlinkOutput(t *testing.T) {
	r := newRepo(t)
	source := filepath.Join(r.Root, "raw", "source.csv")
	link := filepath.Join(r.Root, "link.csv")
	writeFile(t, source, "a,b\n")
	if err := os.Symlink(source, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	writeFile(t, filepath.Join(r.Root, "link.stage"), "cmd: link\nouts:\n- path: link.csv\n")

	res, err := (&RemoveEngine{Repo: r}).Remove(context.Background(), []string{"link.stage"}, RemoveOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	assert.Equal(t, []FileAction{{Path: "link.csv", Action: "removed"}}, res.Removed)

	assert.Equal(t, "a,b\n", readFile(t, source))
	_, err = os.Lstat(link)
	assert.True(t, os.IsNotExist(err), "link should be removed, got %v", err)
}

func TestRemoveDanglingSymlinkOutput(t *testing.T) {
	r := newRepo(t)
	link := filepath.Join(r.Root, "model.bin")
	if err := os.Symlink(filepath.Join(r.Root, "gone.bin"), link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	writeFile(t, filepath.Join(r.Root, "train.stage"), "cmd: train\nouts:\n- path: model.bin\n")

	res, err := (&RemoveEngine{Repo: r}).Remove(context.Background(), []string{"train.stage"}, RemoveOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	_, err = os.Lstat(link)
	assert.True(t, os.IsNotExist(err), "dangling link should be removed, got %v", err)
}

func TestRemovePurgeKeepsSharedObjects(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(r.Root, "a.stage"), "cmd: a\nouts:\n- path: feat_a\n")
	writeFile(t, filepath.Join(r.Root, "b.stage"), "cmd: b\nouts:\n- path: feat_b\n- path: copy.csv\n")
	writeFile(t, filepath.Join(r.Root, "feat_a", "x.csv"), "1")
	writeFile(t, filepath.Join(r.Root, "feat_b", "x.csv"), "1")
	writeFile(t, filepath.Join(r.Root, "feat_b", "y.csv"), "2")
	writeFile(t, filepath.Join(r.Root, "copy.csv"), "1")

	res, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"a.stage", "b.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	dirA := loadStage(t, r, "a.stage").Outs[0].Checksum
	dirB := loadStage(t, r, "b.stage").Outs[0].Checksum
	require.True(t, cache.IsDirChecksum(dirA))

	removed, err := (&RemoveEngine{Repo: r}).Remove(ctx, []string{"a.stage"}, RemoveOptions{Purge: true, Force: true})
	require.NoError(t, err)
	require.False(t, removed.Failed(), "errors: %v", removed.Errors)

	assert.False(t, r.Cache.Has(dirA), "purged manifest should be gone")
	assert.True(t, r.Cache.Has(cache.ComputeHash([]byte("1"))))
	assert.True(t, r.Cache.Exists(dirB))

	require.NoError(t, os.RemoveAll(filepath.Join(r.Root, "feat_b")))
	restored, err := (&CheckoutEngine{Repo: r}).Checkout(ctx, []string{"b.stage"}, CheckoutOptions{})
	require.NoError(t, err)
	require.False(t, restored.Failed(), "errors: %v", restored.Errors)
	assert.Equal(t, "1", readFile(t, filepath.Join(r.Root, "feat_b", "x.csv")))
}

func findStatus(t *testing.T, res *StatusResult, addr string) StageStatus {
	t.Helper()
	for _, s := range res.Stages {
		if s.Stage == addr {
			return s
		}
	}
	t.Fatalf("no status for %s in %+v", addr, res.Stages)
	return StageStatus{}
}

func TestStatus(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	eng := &StatusEngine{Repo: r}

	res, err := eng.Status(ctx, nil, StatusOptions{})
	require.NoError(t, err)
	assert.Equal(t, "working tree", res.View)
	require.Len(t, res.Stages, 3)
	fetch := findStatus(t, res, "fetch.stage")
	assert.True(t, fetch.ChangedDeclaration)
	assert.Equal(t, []EdgeStatus{{Path: "data.csv", State: StateNew}}, fetch.Outs)

	_, err = (&CommitEngine{Repo: r}).Commit(ctx, nil, CommitOptions{})
	require.NoError(t, err)
	res, err = eng.Status(ctx, nil, StatusOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Stages)

	writeFile(t, filepath.Join(r.Root, "data.csv"), "changed")
	require.NoError(t, os.Remove(filepath.Join(r.Root, "scores.json")))
	res, err = eng.Status(ctx, nil, StatusOptions{})
	require.NoError(t, err)
	require.Len(t, res.Stages, 3)

	fetch = findStatus(t, res, "fetch.stage")
	assert.Equal(t, []EdgeStatus{{Path: "data.csv", State: StateModified}}, fetch.Outs)
	assert.Equal(t, []string{"changed outs"}, fetch.Changes())

	train := findStatus(t, res, "train.stage")
	assert.Equal(t, []EdgeStatus{{Path: "data.csv", State: StateModified}}, train.Deps)
	assert.Empty(t, train.Outs)

	eval := findStatus(t, res, "eval.stage")
	assert.Equal(t, []EdgeStatus{{Path: "scores.json", State: StateDeleted}}, eval.Outs)
}

func TestStatusNotInCache(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	_, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"train.stage"}, CommitOptions{})
	require.NoError(t, err)
	sum := loadStage(t, r, "train.stage").Outs[0].Checksum
	require.NoError(t, r.Cache.Remove(sum))

	res, err := (&StatusEngine{Repo: r}).Status(ctx, []string{"train.stage"}, StatusOptions{})
	require.NoError(t, err)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, []string{"model.bin"}, res.Stages[0].NotInCache)
	assert.Equal(t, []string{StateNotInCache}, res.Stages[0].Changes())
}

func TestStatusLockedSkipsDeps(t *testing.T) {
	r := newRepo(t)
	writeFile(t, filepath.Join(r.Root, "import.stage"), "locked: true\ndeps:\n- path: raw.csv\n  md5: stale\n")

	res, err := (&StatusEngine{Repo: r}).Status(context.Background(), nil, StatusOptions{})
	require.NoError(t, err)
	require.Len(t, res.Stages, 1)
	assert.Empty(t, res.Stages[0].Deps)
}

func TestCheckout(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	_, err := (&CommitEngine{Repo: r}).Commit(ctx, nil, CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(r.Root, "data.csv")))
	writeFile(t, filepath.Join(r.Root, "model.bin"), "tampered")
	eng := &CheckoutEngine{Repo: r}

	res, err := eng.Checkout(ctx, nil, CheckoutOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, res.Written, 2)
	assert.NoFileExists(t, filepath.Join(r.Root, "data.csv"))

	res, err = eng.Checkout(ctx, nil, CheckoutOptions{})
	require.NoError(t, err)
	require.False(t, res.Failed(), "errors: %v", res.Errors)
	assert.ElementsMatch(t, []FileAction{
		{Path: "data.csv", Action: "written"},
		{Path: "model.bin", Action: "modified"},
	}, res.Written)
	assert.Equal(t, "a,b\n1,2\n", readFile(t, filepath.Join(r.Root, "data.csv")))
	assert.Equal(t, "weights", readFile(t, filepath.Join(r.Root, "model.bin")))

	res, err = eng.Checkout(ctx, []string{"fetch.stage"}, CheckoutOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Equal(t, []FileAction{{Path: "data.csv", Action: "unchanged"}}, res.Skipped)
}

func TestCheckoutMissingFromCache(t *testing.T) {
	r := chainRepo(t)
	ctx := context.Background()
	_, err := (&CommitEngine{Repo: r}).Commit(ctx, []string{"fetch.stage"}, CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Cache.Remove(loadStage(t, r, "fetch.stage").Outs[0].Checksum))
	require.NoError(t, os.Remove(filepath.Join(r.Root, "data.csv")))

	res, err := (&CheckoutEngine{Repo: r}).Checkout(ctx, []string{"fetch.stage"}, CheckoutOptions{})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], stage.ErrMissingDataSource)
	assert.Contains(t, res.Errors[0].Error(), "data.csv")
}

func TestPipelineShowAndList(t *testing.T) {
	r := chainRepo(t)
	writeFile(t, filepath.Join(r.Root, "solo.stage"), "cmd: solo\nlocked: true\n")
	eng := &PipelineEngine{Repo: r}

	lines, err := eng.Show("eval.stage", ShowOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch.stage", "train.stage", "eval.stage"}, lines)

	lines, err = eng.Show("eval.stage", ShowOptions{Commands: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "train", "eval"}, lines)

	lines, err = eng.Show("eval.stage", ShowOptions{Outs: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"data.csv", "model.bin", "scores.json"}, lines)

	lines, err = eng.Show("eval.stage", ShowOptions{Locked: true})
	require.NoError(t, err)
	assert.Empty(t, lines)

	pipelines, err := eng.List()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"eval.stage", "fetch.stage", "train.stage"},
		{"solo.stage"},
	}, pipelines)
}

func TestPipelineTree(t *testing.T) {
	r := chainRepo(t)
	eng := &PipelineEngine{Repo: r}

	out, err := eng.Tree("eval.stage", ShowOptions{}.Mode())
	require.NoError(t, err)
	assert.Equal(t, "eval.stage\n└── train.stage\n    └── fetch.stage\n", out)

	v, err := eng.View("eval.stage", ShowOptions{Outs: true}.Mode())
	require.NoError(t, err)
	assert.Equal(t, []string{"scores.json", "model.bin", "data.csv"}, v.Nodes)

	writeFile(t, filepath.Join(r.Root, "fetch2.stage"), "cmd: fetch2\nouts:\n- path: extra.csv\n")
	writeFile(t, filepath.Join(r.Root, "train.stage"), "cmd: train\ndeps:\n- path: data.csv\n- path: extra.csv\nouts:\n- path: model.bin\n")
	_, err = eng.Tree("eval.stage", ShowOptions{}.Mode())
	assert.ErrorIs(t, err, stage.ErrNotATree)
}

func TestInfo(t *testing.T) {
	r := chainRepo(t)
	res, err := Info("1.2.3", r, []ConfigLayerStatus{{Level: "project", Path: "x", Loaded: true}})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", res.Version)
	assert.Equal(t, r.Root, res.Root)
	assert.Equal(t, "none", res.SCM)
	assert.Equal(t, 3, res.Stages)
	assert.Equal(t, 1, res.Pipelines)
	assert.Len(t, res.ConfigChain, 1)
}
