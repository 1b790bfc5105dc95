package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bianoble/pipetrack/internal/fsview"
	"github.com/bianoble/pipetrack/internal/state"
)

// DirSuffix marks checksums of directory outputs. The object stored under
// such a checksum is a JSON manifest of the directory's files.
const DirSuffix = ".dir"

// ErrNotCached is returned when an object is missing from the cache.
var ErrNotCached = errors.New("not in cache")

// Cache provides content-addressed storage of stage outputs.
// Objects are stored by their MD5 checksum and verified on retrieval.
type Cache struct {
	dir   string
	state *state.State
}

// ManifestEntry is one file of a directory output.
type ManifestEntry struct {
	RelPath string `json:"relpath"`
	MD5     string `json:"md5"`
}

// New creates a Cache at the given directory.
// The directory is created if it does not exist. st may be nil.
func New(dir string, st *state.State) (*Cache, error) {
	objDir := filepath.Join(dir, "objects")
	if err := os.MkdirAll(objDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", objDir, err)
	}
	return &Cache{dir: dir, state: st}, nil
}

// DefaultDir returns the cache directory of the workspace at root.
func DefaultDir(root string) string {
	return filepath.Join(root, ".pipetrack", "cache")
}

// IsDirChecksum reports whether checksum names a directory manifest.
func IsDirChecksum(checksum string) bool {
	return strings.HasSuffix(checksum, DirSuffix)
}

// GetObject retrieves a cached object by checksum.
// Returns the content and true if found and verified.
// Returns nil, false if not cached.
func (c *Cache) GetObject(checksum string) ([]byte, bool, error) {
	path := c.objectPath(checksum)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", checksum, err)
	}

	if ComputeHash(data) != strings.TrimSuffix(checksum, DirSuffix) {
		// Self-healing: remove corrupt entry.
		_ = os.Remove(path)
		return nil, false, nil
	}
	return data, true, nil
}

// PutObject stores content under checksum.
// Verifies the content matches the checksum before storing.
// No-op if already cached.
func (c *Cache) PutObject(checksum string, content []byte) error {
	actual := ComputeHash(content)
	if actual != strings.TrimSuffix(checksum, DirSuffix) {
		return fmt.Errorf("cache put: content hash %s does not match declared hash %s", actual, checksum)
	}

	path := c.objectPath(checksum)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeAtomic(path, content, 0644)
}

// Has checks if an object exists in the cache without reading content.
func (c *Cache) Has(checksum string) bool {
	_, err := os.Stat(c.objectPath(checksum))
	return err == nil
}

// Exists reports whether the output with the given checksum can be fully
// restored from the cache. For directories every listed file must be present.
func (c *Cache) Exists(checksum string) bool {
	if checksum == "" || !c.Has(checksum) {
		return false
	}
	if !IsDirChecksum(checksum) {
		return true
	}
	entries, err := c.manifest(checksum)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !c.Has(e.MD5) {
			return false
		}
	}
	return true
}

// Checksum computes the checksum of path as seen through view. Directories
// get the checksum of their manifest with DirSuffix appended.
func (c *Cache) Checksum(view fsview.View, path string) (string, error) {
	info, err := view.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return c.fileChecksum(view, path, info)
	}
	_, checksum, err := c.buildManifest(view, path)
	return checksum, err
}

func (c *Cache) fileChecksum(view fsview.View, path string, info os.FileInfo) (string, error) {
	memo := view.IsWorkingTree() && c.state != nil
	if memo {
		if sum, ok := c.state.Get(path, info); ok {
			return sum, nil
		}
	}
	data, err := view.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := ComputeHash(data)
	if memo {
		_ = c.state.Set(path, info, sum)
	}
	return sum, nil
}

func (c *Cache) buildManifest(view fsview.View, dir string) ([]ManifestEntry, string, error) {
	var entries []ManifestEntry
	err := view.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sum, err := c.fileChecksum(view, path, info)
		if err != nil {
			return err
		}
		entries = append(entries, ManifestEntry{RelPath: filepath.ToSlash(rel), MD5: sum})
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	if entries == nil {
		entries = []ManifestEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, "", err
	}
	return entries, ComputeHash(data) + DirSuffix, nil
}

func (c *Cache) manifest(checksum string) ([]ManifestEntry, error) {
	data, ok, err := c.GetObject(checksum)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", checksum, ErrNotCached)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", checksum, err)
	}
	return entries, nil
}

// Put stores the workspace content at path under checksum. The content must
// still hash to checksum.
func (c *Cache) Put(path, checksum string) error {
	view := fsview.NewWorkingTree(filepath.Dir(path))
	if !IsDirChecksum(checksum) {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		return c.PutObject(checksum, data)
	}

	entries, actual, err := c.buildManifest(view, path)
	if err != nil {
		return err
	}
	if actual != checksum {
		return fmt.Errorf("cache put: directory %s hashes to %s, not %s", path, actual, checksum)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(path, filepath.FromSlash(e.RelPath)))
		if err != nil {
			return err
		}
		if err := c.PutObject(e.MD5, data); err != nil {
			return err
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.PutObject(checksum, data)
}

// Get restores the object with the given checksum to dest, replacing any
// existing content. Directory outputs are restored file by file.
func (c *Cache) Get(checksum, dest string) error {
	if !IsDirChecksum(checksum) {
		return c.restoreFile(checksum, dest)
	}
	entries, err := c.manifest(checksum)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(dest); statErr == nil && !info.IsDir() {
		if err := os.Remove(dest); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	for _, e := range entries {
		if err := c.restoreFile(e.MD5, filepath.Join(dest, filepath.FromSlash(e.RelPath))); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) restoreFile(checksum, dest string) error {
	data, ok, err := c.GetObject(checksum)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", checksum, ErrNotCached)
	}
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	return writeAtomic(dest, data, 0644)
}

// Remove deletes the object with the given checksum. For directories the
// manifest and every listed file are removed.
func (c *Cache) Remove(checksum string) error {
	return c.RemoveExcept(checksum, nil)
}

// RemoveExcept is Remove but leaves every object named in keep in place.
// keep is usually built with Objects from the outputs that stay committed.
func (c *Cache) RemoveExcept(checksum string, keep map[string]bool) error {
	if checksum == "" || keep[checksum] {
		return nil
	}
	if IsDirChecksum(checksum) {
		if entries, err := c.manifest(checksum); err == nil {
			for _, e := range entries {
				if keep[e.MD5] {
					continue
				}
				if err := removeIfExists(c.objectPath(e.MD5)); err != nil {
					return err
				}
			}
		}
	}
	return removeIfExists(c.objectPath(checksum))
}

// Objects lists the cache objects a checksum refers to: the checksum
// itself and, for a directory, every file of its manifest. A manifest
// missing from the cache contributes nothing beyond the checksum.
func (c *Cache) Objects(checksum string) []string {
	if checksum == "" {
		return nil
	}
	objects := []string{checksum}
	if IsDirChecksum(checksum) {
		if entries, err := c.manifest(checksum); err == nil {
			for _, e := range entries {
				objects = append(objects, e.MD5)
			}
		}
	}
	return objects
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry %s: %w", path, err)
	}
	return nil
}

// Size returns the total size of the cache in bytes.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Path returns the cache directory path.
func (c *Cache) Path() string {
	return c.dir
}

func (c *Cache) objectPath(checksum string) string {
	if len(checksum) < 3 {
		return filepath.Join(c.dir, "objects", checksum)
	}
	return filepath.Join(c.dir, "objects", checksum[:2], checksum[2:])
}

// ComputeHash computes the MD5 hash of content and returns the hex string.
func ComputeHash(content []byte) string {
	h := md5.Sum(content)
	return hex.EncodeToString(h[:])
}

func writeAtomic(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
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
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
