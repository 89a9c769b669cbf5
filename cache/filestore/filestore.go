// Package filestore maps logical resource addresses to durable files
// across an ordered list of read roots plus a single write root, and
// owns the address-to-path mapping scheme used for remote URLs.
package filestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tilegrid/cache/cache"
)

// Location is a single read root, or the write root, in the FileStore's
// search list.
type Location struct {
	Dir string

	// IsInstall marks a root whose content is read-only and excluded
	// from automatic cleanup.
	IsInstall bool

	// IsMarkWhenUsed controls whether FindFile bumps the access time of
	// the matched file, or of its containing directory, on a hit.
	IsMarkWhenUsed bool
}

// FileStore maps logical addresses to files across an ordered list of
// read roots plus a single write root.
type FileStore struct {
	logger cache.Logger

	// Resources, if set, is consulted first by FindFile when
	// checkClasspath is true, serving bundled read-only resources the
	// way a classpath lookup would.
	Resources fs.FS

	mu            sync.RWMutex // guards readLocations/writeLocation/storageMode
	readLocations []*Location
	writeLocation *Location
	storageMode   StorageMode

	mkdirMu sync.Mutex // serializes directory creation and file deletion against check-then-act races

	removedFiles atomic.Int64
}

// New returns an empty FileStore with no read or write roots configured.
func New(logger cache.Logger) *FileStore {
	if logger == nil {
		logger = cache.NopLogger{}
	}
	return &FileStore{
		logger: logger,
	}
}

// SetWriteLocation configures dir as the single write root, creating it
// if necessary. The write root is always kept at position 0 of the read
// list, so newly written files are the first to be found.
func (s *FileStore) SetWriteLocation(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return cache.BadRequestf("filestore: invalid write location %q: %v", dir, err)
	}
	if err := os.MkdirAll(abs, 0775); err != nil {
		return cache.Internalf("filestore: failed to create write location %q: %v", abs, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocation = &Location{Dir: abs}
	s.reinsertWriteLocationLocked()
	return nil
}

// WriteLocation returns the configured write root directory, or "" if
// none is set.
func (s *FileStore) WriteLocation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.writeLocation == nil {
		return ""
	}
	return s.writeLocation.Dir
}

// AddLocation inserts dir as a read root at position index (clamped to
// [0, len]). A prior entry for the same absolute path is removed first,
// so re-adding a location moves it rather than duplicating it. index is
// interpreted against the list *after* removing any duplicate but
// *before* the write-root is always pinned back to position 0.
func (s *FileStore) AddLocation(index int, dir string, isInstall bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return cache.BadRequestf("filestore: invalid location %q: %v", dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocationLocked(abs)

	if index < 0 {
		index = 0
	}
	if index > len(s.readLocations) {
		index = len(s.readLocations)
	}

	loc := &Location{Dir: abs, IsInstall: isInstall}
	s.readLocations = append(s.readLocations, nil)
	copy(s.readLocations[index+1:], s.readLocations[index:])
	s.readLocations[index] = loc

	s.reinsertWriteLocationLocked()
	return nil
}

// RemoveLocation removes the read root matching dir. Removing the
// current write root is refused.
func (s *FileStore) RemoveLocation(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return cache.BadRequestf("filestore: invalid location %q: %v", dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeLocation != nil && s.writeLocation.Dir == abs {
		return cache.BadRequestf("filestore: cannot remove the write location %q", abs)
	}

	s.removeLocationLocked(abs)
	return nil
}

// ReadLocations returns a snapshot of the current read-root list, in
// search order.
func (s *FileStore) ReadLocations() []Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Location, len(s.readLocations))
	for i, l := range s.readLocations {
		out[i] = *l
	}
	return out
}

func (s *FileStore) removeLocationLocked(abs string) {
	for i, l := range s.readLocations {
		if l.Dir == abs {
			s.readLocations = append(s.readLocations[:i:i], s.readLocations[i+1:]...)
			return
		}
	}
}

// reinsertWriteLocationLocked ensures the write root, if set, is present
// at position 0 of readLocations. Callers must hold s.mu.
func (s *FileStore) reinsertWriteLocationLocked() {
	if s.writeLocation == nil {
		return
	}
	s.removeLocationLocked(s.writeLocation.Dir)
	s.readLocations = append([]*Location{s.writeLocation}, s.readLocations...)
}

// FindFile searches, in order, the classpath-equivalent resource set
// (if checkClasspath) and then each read root, for a file at the
// store-relative path `name`. A hit in Resources returns "resource:"
// followed by name. A hit in a read root returns a file:// URL and
// optionally bumps the access time of the file or its containing folder,
// depending on the location's IsMarkWhenUsed flag.
func (s *FileStore) FindFile(name string, checkClasspath bool) (string, bool) {
	if checkClasspath && s.Resources != nil {
		if _, err := fs.Stat(s.Resources, name); err == nil {
			return "resource:" + name, true
		}
	}

	s.mu.RLock()
	locations := make([]*Location, len(s.readLocations))
	copy(locations, s.readLocations)
	s.mu.RUnlock()

	for _, loc := range locations {
		full := filepath.Join(loc.Dir, filepath.FromSlash(name))
		info, err := os.Stat(full)
		if err != nil {
			// A store written in zstd mode holds the same content under
			// a ".zst" suffix; probe for that before moving on.
			full += ZstdSuffix
			if info, err = os.Stat(full); err != nil {
				continue
			}
		}

		if loc.IsMarkWhenUsed {
			s.markUsed(full, info.IsDir())
		}

		return "file://" + full, true
	}

	return "", false
}

// markUsed bumps the access (and modification) time of path, or of its
// containing directory if markFolder is true, to the current time. Best
// effort: failures are logged, not returned, since this is advisory
// bookkeeping rather than a correctness requirement.
func (s *FileStore) markUsed(path string, markFolder bool) {
	target := path
	if markFolder {
		target = filepath.Dir(path)
	}
	if _, err := os.Stat(target); err != nil {
		return
	}
	now := time.Now()
	if err := os.Chtimes(target, now, now); err != nil {
		s.logger.Printf("filestore: failed to update access time of %s: %v", target, err)
	}
}

// NewFile returns a writable handle under the write root for the
// store-relative path name, creating the parent directory if necessary.
// Directory creation runs under a single lock so racing callers for the
// same parent both succeed. Returns false if no write root is
// configured.
func (s *FileStore) NewFile(name string) (*os.File, bool, error) {
	s.mu.RLock()
	wl := s.writeLocation
	s.mu.RUnlock()
	if wl == nil {
		return nil, false, nil
	}

	full := filepath.Join(wl.Dir, filepath.FromSlash(name))
	dir := filepath.Dir(full)

	s.mkdirMu.Lock()
	err := os.MkdirAll(dir, 0775)
	s.mkdirMu.Unlock()
	if err != nil {
		return nil, true, cache.Internalf("filestore: failed to create directory %q: %v", dir, err)
	}

	f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		return nil, true, cache.Internalf("filestore: failed to create file %q: %v", full, err)
	}
	return f, true, nil
}

// PrepareWrite ensures the parent directory for the store-relative path
// name exists under the write root and returns the absolute final path,
// without creating or truncating the file itself. Callers that need an
// atomic save should create a temp file alongside this path and rename
// it into place, rather than calling NewFile. Returns false if no write
// root is configured.
func (s *FileStore) PrepareWrite(name string) (string, bool, error) {
	s.mu.RLock()
	wl := s.writeLocation
	s.mu.RUnlock()
	if wl == nil {
		return "", false, nil
	}

	full := filepath.Join(wl.Dir, filepath.FromSlash(name))
	dir := filepath.Dir(full)

	s.mkdirMu.Lock()
	err := os.MkdirAll(dir, 0775)
	s.mkdirMu.Unlock()
	if err != nil {
		return "", true, cache.Internalf("filestore: failed to create directory %q: %v", dir, err)
	}
	return full, true, nil
}

// RemoveFile deletes the file at fileURL, but only if it resides under
// the write root or the system temp directory; a foreign location is
// silently ignored rather than treated as an error.
func (s *FileStore) RemoveFile(fileURL string) error {
	path := strings.TrimPrefix(fileURL, "file://")

	s.mu.RLock()
	wl := s.writeLocation
	s.mu.RUnlock()

	allowed := wl != nil && isUnder(wl.Dir, path)
	allowed = allowed || isUnder(os.TempDir(), path)
	if !allowed {
		return nil
	}

	s.mkdirMu.Lock()
	err := os.Remove(path)
	s.mkdirMu.Unlock()

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cache.Internalf("filestore: failed to remove %q: %v", path, err)
	}
	s.removedFiles.Add(1)
	return nil
}

func isUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// NameFilter decides whether a store-relative name should be included
// by the List* family of methods.
type NameFilter func(name string) bool

// ListFileNames returns the store-relative, forward-slash-separated
// names of files directly inside dir within the write root (shallow,
// non-recursive).
func (s *FileStore) ListFileNames(dir string, filter NameFilter) ([]string, error) {
	s.mu.RLock()
	wl := s.writeLocation
	s.mu.RUnlock()
	if wl == nil {
		return nil, nil
	}

	full := filepath.Join(wl.Dir, filepath.FromSlash(dir))
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, cache.Internalf("filestore: failed to list %q: %v", full, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rel := storeRelative(dir, e.Name())
		if filter == nil || filter(rel) {
			names = append(names, rel)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListAllFileNames returns the store-relative names of every file under
// dir within the write root, recursing into subdirectories.
func (s *FileStore) ListAllFileNames(dir string, filter NameFilter) ([]string, error) {
	return s.listDeep(dir, filter, false)
}

// ListTopFileNames walks dir within the write root in lexical order and
// returns, for each directory it reaches, the store-relative name of the
// first file accepted by filter. Once a directory yields a match, its
// remaining entries, including subdirectories not yet visited, are
// skipped.
func (s *FileStore) ListTopFileNames(dir string, filter NameFilter) ([]string, error) {
	return s.listDeep(dir, filter, true)
}

func (s *FileStore) listDeep(dir string, filter NameFilter, topOnly bool) ([]string, error) {
	s.mu.RLock()
	wl := s.writeLocation
	s.mu.RUnlock()
	if wl == nil {
		return nil, nil
	}

	root := filepath.Join(wl.Dir, filepath.FromSlash(dir))
	var names []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		relToRoot, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel := storeRelative(dir, filepath.ToSlash(relToRoot))
		if filter != nil && !filter(rel) {
			return nil
		}
		names = append(names, rel)
		if topOnly {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, cache.Internalf("filestore: failed to walk %q: %v", root, err)
	}
	sort.Strings(names)
	return names, nil
}

func storeRelative(dir, name string) string {
	dir = strings.Trim(filepath.ToSlash(dir), "/")
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
