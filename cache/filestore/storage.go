package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tilegrid/cache/cache"
	"github.com/tilegrid/cache/utils/zstdpool"
)

// StorageMode controls how newly saved files are encoded under the
// write root.
type StorageMode int

const (
	// StorageUncompressed stores files exactly as retrieved.
	StorageUncompressed StorageMode = iota
	// StorageZstd stores files zstd-compressed, with a ".zst" suffix
	// appended to the mapped path. Reading transparently handles both
	// encodings regardless of the configured mode, so a store written
	// by one configuration stays readable by the other.
	StorageZstd
)

// ZstdSuffix is appended to a store-relative path when its file is
// written in StorageZstd mode.
const ZstdSuffix = ".zst"

// ParseStorageMode converts a configuration string to a StorageMode.
func ParseStorageMode(s string) (StorageMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "uncompressed":
		return StorageUncompressed, nil
	case "zstd":
		return StorageZstd, nil
	default:
		return StorageUncompressed, fmt.Errorf("filestore: unknown storage mode %q", s)
	}
}

// SetStorageMode configures how future saves encode their files. It
// does not rewrite existing files.
func (s *FileStore) SetStorageMode(mode StorageMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storageMode = mode
}

// StorageMode returns the currently configured storage mode.
func (s *FileStore) StorageMode() StorageMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storageMode
}

// Open returns the decoded content of the store-relative path name,
// searching the read roots in order. A file stored compressed is
// decompressed transparently, so callers always see the original bytes
// whichever storage mode wrote the file.
func (s *FileStore) Open(name string) (io.ReadCloser, error) {
	s.mu.RLock()
	locations := make([]*Location, len(s.readLocations))
	copy(locations, s.readLocations)
	s.mu.RUnlock()

	for _, loc := range locations {
		full := filepath.Join(loc.Dir, filepath.FromSlash(name))
		if f, err := os.Open(full); err == nil {
			if strings.HasSuffix(name, ZstdSuffix) {
				return wrapCompressed(f)
			}
			return f, nil
		}
		if f, err := os.Open(full + ZstdSuffix); err == nil {
			return wrapCompressed(f)
		}
	}

	return nil, cache.NotFoundf("filestore: no file for %q in any read location", name)
}

// compressedFile decompresses f through a pooled decoder and closes
// both on Close.
type compressedFile struct {
	io.ReadCloser
	f *os.File
}

func (c *compressedFile) Close() error {
	err := c.ReadCloser.Close()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func wrapCompressed(f *os.File) (io.ReadCloser, error) {
	dec, err := zstdpool.WrapReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &compressedFile{ReadCloser: dec, f: f}, nil
}
