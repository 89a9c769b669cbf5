// Package tempfile creates in-progress write targets for the atomic-save
// path used by cache/postprocess: a file is written to a uniquely-named
// sibling of its final name, then renamed into place, so concurrent
// readers never observe a partially-written file.
package tempfile

import (
	"errors"
	"os"

	"github.com/google/uuid"
)

// Creator creates temp files. It has no mutable state of its own, since
// uuid.NewString is already safe for concurrent use.
type Creator struct{}

// NewCreator returns a new Creator.
func NewCreator() *Creator {
	return &Creator{}
}

const flags = os.O_RDWR | os.O_CREATE | os.O_EXCL

// FinalMode is the permission bits of a cache file once a save has
// completed.
const FinalMode = 0664

// WIPMode is the permission bits of a cache file still being written.
const WIPMode = 0600

var errNoTempfile = errors.New("tempfile: failed to create a temp file after 10000 attempts")

// Create opens a new file named "<finalName>.tmp-<uuid>" in the same
// directory as finalName, so that a later os.Rename to finalName is
// guaranteed to be on the same filesystem. It retries on name
// collisions, which are only possible if the UUID source is broken.
func (c *Creator) Create(finalName string) (f *os.File, tmpName string, err error) {
	for i := 0; i < 10000; i++ {
		tmpName = finalName + ".tmp-" + uuid.NewString()

		f, err = os.OpenFile(tmpName, flags, WIPMode)
		if err == nil {
			return f, tmpName, nil
		}
		if os.IsExist(err) {
			continue
		}
		return nil, "", err
	}
	return nil, "", errNoTempfile
}

// Commit finalizes a temp file written via Create: it closes f (if
// non-nil), fixes its permissions to FinalMode, and atomically renames
// it to finalName.
func Commit(f *os.File, tmpName, finalName string) error {
	if f != nil {
		if err := f.Close(); err != nil {
			os.Remove(tmpName)
			return err
		}
	}
	if err := os.Chmod(tmpName, FinalMode); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, finalName)
}

// Discard removes an abandoned temp file created via Create.
func Discard(f *os.File, tmpName string) {
	if f != nil {
		f.Close()
	}
	os.Remove(tmpName)
}
