package filestore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tilegrid/cache/utils/zstdpool"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs := New(nil)
	if err := fs.SetWriteLocation(t.TempDir()); err != nil {
		t.Fatalf("SetWriteLocation: %v", err)
	}
	return fs
}

func writeStoreFile(t *testing.T, fs *FileStore, name, content string) {
	t.Helper()
	f, ok, err := fs.NewFile(name)
	if err != nil || !ok {
		t.Fatalf("NewFile(%q): ok=%v err=%v", name, ok, err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write %q: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %q: %v", name, err)
	}
}

func TestFindFileSearchesRootsInOrder(t *testing.T) {
	fs := newTestStore(t)
	other := t.TempDir()
	if err := fs.AddLocation(1, other, true); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}

	// The same name in both roots: the write root wins, since it is
	// always searched first.
	writeStoreFile(t, fs, "tiles/a.png", "from-write-root")
	if err := os.MkdirAll(filepath.Join(other, "tiles"), 0775); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(other, "tiles", "a.png"), []byte("from-install-root"), 0664); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	url, ok := fs.FindFile("tiles/a.png", false)
	if !ok {
		t.Fatalf("FindFile missed")
	}
	if !strings.HasPrefix(url, "file://"+fs.WriteLocation()) {
		t.Fatalf("FindFile = %q, want a hit under the write root", url)
	}
}

func TestWriteRootStaysFirstAfterAddLocation(t *testing.T) {
	fs := newTestStore(t)
	a, b := t.TempDir(), t.TempDir()

	if err := fs.AddLocation(0, a, false); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}
	if err := fs.AddLocation(0, b, true); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}

	locs := fs.ReadLocations()
	want := []Location{
		{Dir: fs.WriteLocation()},
		{Dir: b, IsInstall: true},
		{Dir: a},
	}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Fatalf("read locations mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveLocationRefusesWriteRoot(t *testing.T) {
	fs := newTestStore(t)
	if err := fs.RemoveLocation(fs.WriteLocation()); err == nil {
		t.Fatalf("expected an error removing the write root")
	}
}

func TestRemoveFileIgnoresForeignLocations(t *testing.T) {
	fs := newTestStore(t)

	foreign := filepath.Join(t.TempDir(), "precious.txt")
	if err := os.WriteFile(foreign, []byte("keep me"), 0664); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// RemoveFile also accepts files under the system temp directory, and
	// t.TempDir() lives there; point TMPDIR at another directory so the
	// file above is under neither the write root nor the temp directory.
	t.Setenv("TMPDIR", t.TempDir())

	if err := fs.RemoveFile("file://" + foreign); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("foreign file was deleted: %v", err)
	}
}

func TestRemoveFileDeletesUnderWriteRoot(t *testing.T) {
	fs := newTestStore(t)
	writeStoreFile(t, fs, "tiles/b.png", "bytes")

	url, ok := fs.FindFile("tiles/b.png", false)
	if !ok {
		t.Fatalf("FindFile missed")
	}
	if err := fs.RemoveFile(url); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if _, ok := fs.FindFile("tiles/b.png", false); ok {
		t.Fatalf("file still present after RemoveFile")
	}
}

func TestListFileNames(t *testing.T) {
	fs := newTestStore(t)
	writeStoreFile(t, fs, "tiles/a.png", "a")
	writeStoreFile(t, fs, "tiles/b.png", "b")
	writeStoreFile(t, fs, "tiles/sub/c.png", "c")

	shallow, err := fs.ListFileNames("tiles", nil)
	if err != nil {
		t.Fatalf("ListFileNames: %v", err)
	}
	if diff := cmp.Diff([]string{"tiles/a.png", "tiles/b.png"}, shallow); diff != "" {
		t.Fatalf("shallow listing mismatch (-want +got):\n%s", diff)
	}

	all, err := fs.ListAllFileNames("tiles", nil)
	if err != nil {
		t.Fatalf("ListAllFileNames: %v", err)
	}
	if diff := cmp.Diff([]string{"tiles/a.png", "tiles/b.png", "tiles/sub/c.png"}, all); diff != "" {
		t.Fatalf("deep listing mismatch (-want +got):\n%s", diff)
	}

	filtered, err := fs.ListAllFileNames("tiles", func(name string) bool {
		return strings.HasSuffix(name, "c.png")
	})
	if err != nil {
		t.Fatalf("ListAllFileNames(filter): %v", err)
	}
	if diff := cmp.Diff([]string{"tiles/sub/c.png"}, filtered); diff != "" {
		t.Fatalf("filtered listing mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenRoundTripsZstdStorage(t *testing.T) {
	fs := newTestStore(t)
	fs.SetStorageMode(StorageZstd)

	// Write the compressed form directly, the way a zstd-mode save
	// does, then confirm both FindFile and Open resolve the logical
	// name.
	full, ok, err := fs.PrepareWrite("tiles/z.png" + ZstdSuffix)
	if err != nil || !ok {
		t.Fatalf("PrepareWrite: ok=%v err=%v", ok, err)
	}
	f, err := os.Create(full)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	enc, err := zstdpool.WrapWriter(f)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	if _, err := enc.Write([]byte("tile bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := fs.FindFile("tiles/z.png", false); !ok {
		t.Fatalf("FindFile should resolve the compressed variant")
	}

	rc, err := fs.Open("tiles/z.png")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "tile bytes" {
		t.Fatalf("Open returned %q, want the original bytes", got)
	}
}

func TestScanAggregatesAcrossRoots(t *testing.T) {
	fs := newTestStore(t)
	other := t.TempDir()
	if err := fs.AddLocation(1, other, true); err != nil {
		t.Fatalf("AddLocation: %v", err)
	}

	writeStoreFile(t, fs, "tiles/a.png", "aaaa")
	if err := os.WriteFile(filepath.Join(other, "b.png"), []byte("bb"), 0664); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	usage, err := fs.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if usage.Files != 2 {
		t.Fatalf("Scan found %d files, want 2", usage.Files)
	}
	if usage.Bytes != 6 {
		t.Fatalf("Scan counted %d bytes, want 6", usage.Bytes)
	}
	if usage.OldestAccess.IsZero() {
		t.Fatalf("Scan should report an oldest access time")
	}
}
