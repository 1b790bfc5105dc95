// Package sandbox confines stage paths and workspace writes to the
// repository root.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bianoble/pipetrack/internal/stage"
)

// CheckStagePath verifies that dir, the directory of a stage file or a
// stage working directory, exists, is a directory and lies inside root.
// Symlinks are resolved on both sides before the containment check.
func CheckStagePath(root, dir string, isWorkingDir bool) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stagePathError(stage.ErrPathNotFound, dir, isWorkingDir)
		}
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return stagePathError(stage.ErrPathNotFound, dir, isWorkingDir)
	}
	if !info.IsDir() {
		return stagePathError(stage.ErrPathNotDirectory, dir, isWorkingDir)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return err
	}
	if !within(realRoot, resolved) {
		return stagePathError(stage.ErrPathOutsideRepo, dir, isWorkingDir)
	}
	return nil
}

// DirChecker answers existence queries for a read-only view of the
// workspace.
type DirChecker interface {
	Exists(path string) bool
	IsDir(path string) bool
}

// CheckStagePathIn is CheckStagePath for a historical view, where nothing
// is on disk and containment is checked lexically.
func CheckStagePathIn(view DirChecker, root, dir string, isWorkingDir bool) error {
	if !within(filepath.Clean(root), filepath.Clean(dir)) {
		return stagePathError(stage.ErrPathOutsideRepo, dir, isWorkingDir)
	}
	if !view.Exists(dir) {
		return stagePathError(stage.ErrPathNotFound, dir, isWorkingDir)
	}
	if !view.IsDir(dir) {
		return stagePathError(stage.ErrPathNotDirectory, dir, isWorkingDir)
	}
	return nil
}

func stagePathError(kind error, dir string, isWorkingDir bool) error {
	label := "file path"
	if isWorkingDir {
		label = "stage working dir"
	}
	var reason string
	switch kind {
	case stage.ErrPathNotFound:
		reason = "does not exist"
	case stage.ErrPathNotDirectory:
		reason = "is not directory"
	default:
		reason = "is outside of the repository"
	}
	return &stage.Error{Kind: kind, Path: dir, Msg: fmt.Sprintf("%s '%s' %s", label, dir, reason)}
}

// ValidatePath checks that target, absolute or relative to root, stays
// inside root once symlinks are resolved. Returns the resolved path.
func ValidatePath(root, target string) (string, error) {
	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}

	candidate := target
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(realRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	// The path may not exist yet, so resolve as much as we can.
	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving target path: %w", err)
	}
	if !within(realRoot, resolved) {
		return "", &stage.Error{
			Kind: stage.ErrPathOutsideRepo,
			Path: target,
			Msg:  fmt.Sprintf("path '%s' resolves to '%s' which is outside the repository '%s'", target, resolved, realRoot),
		}
	}
	return resolved, nil
}

func resolveRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving repository root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving repository root symlinks: %w", err)
	}
	return realRoot, nil
}

// within treats root itself as inside; the separator suffix keeps "root2"
// from matching "root".
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExistingPath resolves symlinks for the longest existing prefix of
// path, then appends the non-existing suffix.
func resolveExistingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(path)
	if dir == path {
		return path, nil
	}
	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, filepath.Base(path)), nil
}

// SafeWrite atomically writes content to a path inside root.
func SafeWrite(root, path string, content []byte, perm os.FileMode) error {
	resolved, err := ValidatePath(root, path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	// Temp file in the same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".pipetrack-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", resolved, err)
	}

	success = true
	return nil
}

// SafeRemove removes a file or directory tree inside root. Removing a path
// that does not exist is not an error; removing root itself is.
//
// Only the parent directory is resolved through symlinks. When path is
// itself a symlink the link is removed, never the file it points to.
func SafeRemove(root, path string) error {
	realRoot, err := resolveRoot(root)
	if err != nil {
		return err
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(realRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	parent, err := ValidatePath(root, filepath.Dir(candidate))
	if err != nil {
		return err
	}
	target := filepath.Join(parent, filepath.Base(candidate))
	if target == realRoot || !within(realRoot, target) {
		return fmt.Errorf("refusing to remove the repository root")
	}
	if _, err := os.Lstat(target); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", path, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
