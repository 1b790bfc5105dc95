// Package repo ties a workspace together: its root, the active filesystem
// view, the stage loader, the cache and the SCM provider.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bianoble/pipetrack/internal/cache"
	"github.com/bianoble/pipetrack/internal/fsview"
	"github.com/bianoble/pipetrack/internal/graph"
	"github.com/bianoble/pipetrack/internal/logging"
	"github.com/bianoble/pipetrack/internal/sandbox"
	"github.com/bianoble/pipetrack/internal/scm"
	"github.com/bianoble/pipetrack/internal/stage"
	"github.com/bianoble/pipetrack/internal/stagefile"
	"github.com/bianoble/pipetrack/internal/state"
)

// DirName is the workspace metadata directory at the repository root.
const DirName = ".pipetrack"

var (
	ErrNotARepo      = errors.New("not a pipetrack repository (or any of the parent directories)")
	ErrStageNotFound = errors.New("stage not found")
)

// Options configures Open. The zero value opens the default cache without
// a checksum memo and detects git.
type Options struct {
	// CacheDir overrides the cache location; relative paths are taken from
	// the repository root.
	CacheDir string
	// State enables the on-disk checksum memo.
	State  bool
	Logger *slog.Logger
	// SCM overrides provider detection.
	SCM scm.Provider
}

// Repo is an open workspace.
type Repo struct {
	Root   string
	SCM    scm.Provider
	Cache  *cache.Cache
	Loader *stagefile.Loader
	Logger *slog.Logger

	state *state.State

	mu        sync.Mutex
	view      fsview.View
	branching bool
}

// FindRoot walks up from dir to the nearest directory holding DirName.
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(filepath.Join(abs, DirName))
		if err == nil && info.IsDir() {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("%s: %w", dir, ErrNotARepo)
		}
		abs = parent
	}
}

// Init creates the metadata directory of a new workspace at root. It is a
// no-op for directories already initialized.
func Init(root string) error {
	meta := filepath.Join(root, DirName)
	if err := os.MkdirAll(meta, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", meta, err)
	}
	ignore := filepath.Join(meta, ".gitignore")
	if _, err := os.Stat(ignore); err == nil {
		return nil
	}
	if err := sandbox.SafeWrite(root, ignore, []byte("/cache\n/state\n"), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", ignore, err)
	}
	return nil
}

// Open opens the workspace rooted at root.
func Open(ctx context.Context, root string, opts Options) (*Repo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if info, err := os.Stat(filepath.Join(abs, DirName)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotARepo)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var st *state.State
	if opts.State {
		st, err = state.Open(state.Options{Dir: filepath.Join(abs, DirName, "state"), Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("opening state: %w", err)
		}
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = cache.DefaultDir(abs)
	} else if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(abs, cacheDir)
	}
	c, err := cache.New(cacheDir, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	provider := opts.SCM
	if provider == nil {
		provider = scm.Detect(ctx, abs)
	}

	return &Repo{
		Root:   abs,
		SCM:    provider,
		Cache:  c,
		Loader: stagefile.New(abs, logger),
		Logger: logger,
		state:  st,
		view:   fsview.NewWorkingTree(abs),
	}, nil
}

// Close releases the checksum memo.
func (r *Repo) Close() error {
	return r.state.Close()
}

// View returns the active filesystem view.
func (r *Repo) View() fsview.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

func (r *Repo) setView(v fsview.View) {
	r.mu.Lock()
	r.view = v
	r.mu.Unlock()
}

// Stages loads every stage visible in the active view.
func (r *Repo) Stages() ([]*stage.Stage, error) {
	return r.Loader.LoadAll(r.View())
}

// Graph builds the pipeline graph of the active view. Graphs are never
// cached, so callers see the result of earlier mutations.
func (r *Repo) Graph() (*graph.Graph, error) {
	stages, err := r.Stages()
	if err != nil {
		return nil, err
	}
	return graph.Build(stages)
}

// CollectTarget resolves a stage address ("file.stage" or
// "dir/pipeline.yaml:name") to stages of the active view. A pipeline file
// without a name selects all of its stages. With withDeps the result also
// holds every ancestor, producers first.
func (r *Repo) CollectTarget(target string, withDeps bool) ([]*stage.Stage, error) {
	file, name := stagefile.SplitAddress(target)
	path, err := sandbox.ValidatePath(r.Root, file)
	if err != nil {
		return nil, err
	}
	view := r.View()
	if !view.Exists(path) {
		return nil, fmt.Errorf("'%s': %w", target, ErrStageNotFound)
	}

	loaded, err := r.Loader.LoadFile(view, path)
	if err != nil {
		return nil, err
	}
	var selected []*stage.Stage
	for _, s := range loaded {
		if name == "" || s.Name == name {
			selected = append(selected, s)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("'%s': %w", target, ErrStageNotFound)
	}
	if !withDeps {
		return selected, nil
	}

	g, err := r.Graph()
	if err != nil {
		return nil, err
	}
	var out []*stage.Stage
	seen := make(map[string]bool)
	for _, s := range selected {
		node, ok := g.Node(s.Address())
		if !ok {
			return nil, fmt.Errorf("'%s': %w", s.Address(), ErrStageNotFound)
		}
		sub, err := g.SubgraphFor(node)
		if err != nil {
			return nil, err
		}
		order, err := sub.PostorderFrom(node)
		if err != nil {
			return nil, err
		}
		for _, o := range order {
			if !seen[o.Address()] {
				seen[o.Address()] = true
				out = append(out, o)
			}
		}
	}
	return out, nil
}
