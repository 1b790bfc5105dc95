// Package fsview provides read-only filesystem views of a workspace: the
// working tree on disk and historical git trees.
package fsview

import (
	"os"
	"path/filepath"
)

// WorkingTreeName is the label of the live workspace view.
const WorkingTreeName = "working tree"

// View abstracts read access to the workspace at some point in time. Paths
// are absolute and must be inside Root.
type View interface {
	// Name labels the view: WorkingTreeName or a revision label.
	Name() string
	// Root is the absolute workspace root.
	Root() string
	// IsWorkingTree reports whether the view is the live workspace, the only
	// view whose stages can be written back.
	IsWorkingTree() bool

	ReadFile(path string) ([]byte, error)
	Stat(path string) (os.FileInfo, error)
	Exists(path string) bool
	IsDir(path string) bool
	// Walk visits every file and directory under root in lexical order.
	Walk(root string, fn filepath.WalkFunc) error
}

// WorkingTree implements View on the operating system filesystem.
type WorkingTree struct {
	Dir string
}

// NewWorkingTree returns a view of the workspace rooted at dir.
func NewWorkingTree(dir string) *WorkingTree {
	return &WorkingTree{Dir: dir}
}

func (w *WorkingTree) Name() string        { return WorkingTreeName }
func (w *WorkingTree) Root() string        { return w.Dir }
func (w *WorkingTree) IsWorkingTree() bool { return true }

func (w *WorkingTree) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (w *WorkingTree) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (w *WorkingTree) Walk(root string, fn filepath.WalkFunc) error {
	return filepath.Walk(root, fn)
}

func (w *WorkingTree) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (w *WorkingTree) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
