package fsview

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// GitTree is a read-only view of the workspace as recorded in a git tree.
// The listing is loaded lazily on first access and cached for the life of
// the view.
type GitTree struct {
	dir   string
	rev   string
	label string
	ctx   context.Context

	once    sync.Once
	loadErr error
	entries map[string]treeEntry // slash-relative path -> entry
	dirs    map[string]bool
}

type treeEntry struct {
	mode string
	sha  string
	size int64
}

// NewGitTree returns a view of the tree of rev in the repository at dir.
func NewGitTree(ctx context.Context, dir, rev, label string) *GitTree {
	if label == "" {
		label = rev
	}
	return &GitTree{dir: dir, rev: rev, label: label, ctx: ctx}
}

func (g *GitTree) Name() string        { return g.label }
func (g *GitTree) Root() string        { return g.dir }
func (g *GitTree) IsWorkingTree() bool { return false }

// Rev returns the revision the view was built from.
func (g *GitTree) Rev() string { return g.rev }

func (g *GitTree) load() error {
	g.once.Do(func() {
		cmd := exec.CommandContext(g.ctx, "git", "-C", g.dir, "ls-tree", "-r", "-l", "-z", g.rev)
		cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
		out, err := cmd.Output()
		if err != nil {
			g.loadErr = fmt.Errorf("git ls-tree %s: %w", g.rev, err)
			return
		}
		g.entries = make(map[string]treeEntry)
		g.dirs = map[string]bool{".": true}
		for _, rec := range bytes.Split(out, []byte{0}) {
			if len(rec) == 0 {
				continue
			}
			// <mode> SP <type> SP <object> SP+ <size> TAB <path>
			meta, name, ok := strings.Cut(string(rec), "\t")
			if !ok {
				continue
			}
			fields := strings.Fields(meta)
			if len(fields) < 4 || fields[1] != "blob" {
				continue
			}
			size, _ := strconv.ParseInt(fields[3], 10, 64)
			g.entries[name] = treeEntry{mode: fields[0], sha: fields[2], size: size}
			for d := pathDir(name); d != "."; d = pathDir(d) {
				g.dirs[d] = true
			}
		}
	})
	return g.loadErr
}

func pathDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "."
	}
	return p[:i]
}

func (g *GitTree) rel(path string) (string, error) {
	rel, err := filepath.Rel(g.dir, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", path, g.dir)
	}
	return rel, nil
}

func (g *GitTree) ReadFile(path string) ([]byte, error) {
	if err := g.load(); err != nil {
		return nil, err
	}
	rel, err := g.rel(path)
	if err != nil {
		return nil, err
	}
	e, ok := g.entries[rel]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrNotExist}
	}
	cmd := exec.CommandContext(g.ctx, "git", "-C", g.dir, "cat-file", "blob", e.sha)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git cat-file %s: %w", e.sha, err)
	}
	return out, nil
}

func (g *GitTree) Stat(path string) (os.FileInfo, error) {
	if err := g.load(); err != nil {
		return nil, err
	}
	rel, err := g.rel(path)
	if err != nil {
		return nil, err
	}
	if e, ok := g.entries[rel]; ok {
		return &treeInfo{name: filepath.Base(path), size: e.size, mode: fileMode(e.mode)}, nil
	}
	if g.dirs[rel] {
		return &treeInfo{name: filepath.Base(path), mode: fs.ModeDir | 0o755}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
}

func (g *GitTree) Exists(path string) bool {
	_, err := g.Stat(path)
	return err == nil
}

func (g *GitTree) IsDir(path string) bool {
	info, err := g.Stat(path)
	return err == nil && info.IsDir()
}

func (g *GitTree) Walk(root string, fn filepath.WalkFunc) error {
	if err := g.load(); err != nil {
		return err
	}
	rel, err := g.rel(root)
	if err != nil {
		return err
	}

	var paths []string
	under := func(p string) bool {
		return rel == "." || p == rel || strings.HasPrefix(p, rel+"/")
	}
	for p := range g.entries {
		if under(p) {
			paths = append(paths, p)
		}
	}
	for d := range g.dirs {
		if d != "." && under(d) {
			paths = append(paths, d)
		}
	}
	if rel == "." {
		paths = append(paths, ".")
	}
	if len(paths) == 0 {
		return fn(root, nil, &fs.PathError{Op: "walk", Path: root, Err: fs.ErrNotExist})
	}
	sort.Strings(paths)

	var skipped []string
	for _, p := range paths {
		if isSkipped(p, skipped) {
			continue
		}
		abs := filepath.Join(g.dir, filepath.FromSlash(p))
		info, statErr := g.Stat(abs)
		err := fn(abs, info, statErr)
		if err == filepath.SkipDir {
			if info != nil && info.IsDir() {
				skipped = append(skipped, p)
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func isSkipped(p string, skipped []string) bool {
	for _, s := range skipped {
		if s == "." || strings.HasPrefix(p, s+"/") {
			return true
		}
	}
	return false
}

func fileMode(gitMode string) fs.FileMode {
	switch gitMode {
	case "100755":
		return 0o755
	case "120000":
		return fs.ModeSymlink | 0o777
	default:
		return 0o644
	}
}

type treeInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (i *treeInfo) Name() string       { return i.name }
func (i *treeInfo) Size() int64        { return i.size }
func (i *treeInfo) Mode() fs.FileMode  { return i.mode }
func (i *treeInfo) ModTime() time.Time { return time.Time{} }
func (i *treeInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *treeInfo) Sys() any           { return nil }
