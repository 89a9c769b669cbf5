package filestore

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/djherbis/atime"
	"golang.org/x/sync/errgroup"
)

// Usage summarizes what a scan found on disk.
type Usage struct {
	Files int64
	Bytes int64

	// OldestAccess is the least recent access time seen across every
	// scanned file; zero if no files were found.
	OldestAccess time.Time
}

// Scan walks every read root concurrently and returns aggregate usage.
// It is intended for startup reporting and capacity planning; the store
// itself does not need it to operate. Roots that do not exist are
// counted as empty rather than reported as errors.
func (s *FileStore) Scan() (Usage, error) {
	s.mu.RLock()
	locations := make([]*Location, len(s.readLocations))
	copy(locations, s.readLocations)
	s.mu.RUnlock()

	var files, bytes atomic.Int64
	var oldest atomic.Int64 // unix nanos; 0 = unset

	var g errgroup.Group
	for _, loc := range locations {
		root := loc.Dir
		g.Go(func() error {
			return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if os.IsNotExist(err) {
						return nil
					}
					return err
				}
				if d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil // deleted mid-scan
				}
				files.Add(1)
				bytes.Add(info.Size())

				at := atime.Get(info).UnixNano()
				for {
					cur := oldest.Load()
					if cur != 0 && cur <= at {
						break
					}
					if oldest.CompareAndSwap(cur, at) {
						break
					}
				}
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return Usage{}, err
	}

	u := Usage{Files: files.Load(), Bytes: bytes.Load()}
	if ns := oldest.Load(); ns != 0 {
		u.OldestAccess = time.Unix(0, ns)
	}
	return u, nil
}
