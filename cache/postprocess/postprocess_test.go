package postprocess

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tilegrid/cache/cache/absent"
	"github.com/tilegrid/cache/cache/filestore"
	"github.com/tilegrid/cache/cache/retrieval"
)

type fakeRetriever struct {
	name        string
	buf         []byte
	contentType string
	state       retrieval.State
}

func (f *fakeRetriever) Name() string                       { return f.name }
func (f *fakeRetriever) Retrieve(ctx context.Context) error { return nil }
func (f *fakeRetriever) Buffer() []byte                     { return f.buf }
func (f *fakeRetriever) ContentType() string                { return f.contentType }
func (f *fakeRetriever) ContentLength() int64               { return int64(len(f.buf)) }
func (f *fakeRetriever) ContentLengthRead() int64           { return int64(len(f.buf)) }
func (f *fakeRetriever) Expiration() int64                  { return 0 }
func (f *fakeRetriever) State() retrieval.State             { return f.state }

func newStore(t *testing.T) *filestore.FileStore {
	t.Helper()
	fs := filestore.New(nil)
	if err := fs.SetWriteLocation(t.TempDir()); err != nil {
		t.Fatalf("SetWriteLocation: %v", err)
	}
	return fs
}

func TestRunSavesZipContent(t *testing.T) {
	fs := newStore(t)
	mapper := filestore.NewPathMapper()
	p := New(nil, fs, mapper, nil, Hooks{})

	r := &fakeRetriever{
		name:        "http://h/archive.zip",
		buf:         []byte("PK\x03\x04fakezip"),
		contentType: "application/zip",
		state:       retrieval.StateSuccessful,
	}

	saved, err := p.Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(saved) != string(r.buf) {
		t.Fatalf("Run returned %q, want the original buffer", saved)
	}

	target, err := mapper.MakeCachePath(r.name, r.contentType)
	if err != nil {
		t.Fatalf("MakeCachePath: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(fs.WriteLocation(), filepath.FromSlash(target)))
	if err != nil {
		t.Fatalf("expected a file on disk: %v", err)
	}
	if string(data) != string(r.buf) {
		t.Fatalf("saved file contents = %q, want %q", data, r.buf)
	}
}

func TestRunDoesNotOverwriteByDefault(t *testing.T) {
	fs := newStore(t)
	mapper := filestore.NewPathMapper()
	p := New(nil, fs, mapper, nil, Hooks{})

	r := &fakeRetriever{
		name:        "http://h/archive.zip",
		buf:         []byte("first"),
		contentType: "application/zip",
		state:       retrieval.StateSuccessful,
	}
	if _, err := p.Run(r); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r2 := &fakeRetriever{
		name:        "http://h/archive.zip",
		buf:         []byte("second"),
		contentType: "application/zip",
		state:       retrieval.StateSuccessful,
	}
	if _, err := p.Run(r2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	target, _ := mapper.MakeCachePath(r.name, r.contentType)
	data, err := os.ReadFile(filepath.Join(fs.WriteLocation(), filepath.FromSlash(target)))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("saved file = %q, want the original content retained", data)
	}
}

func TestRunMarksServerErrorAbsent(t *testing.T) {
	fs := newStore(t)
	mapper := filestore.NewPathMapper()
	absentList := absent.New(100, 1, time.Millisecond, time.Hour)
	p := New(nil, fs, mapper, absentList, Hooks{})

	r := &fakeRetriever{
		name:        "http://h/wms?SERVICE=WMS",
		buf:         []byte("<ServiceExceptionReport/>"),
		contentType: "application/vnd.ogc.se_xml",
		state:       retrieval.StateSuccessful,
	}

	saved, err := p.Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if saved != nil {
		t.Fatalf("expected nothing saved for a server-error payload")
	}
	if !absentList.IsAbsent(r.name) {
		t.Fatalf("expected the address to be marked absent")
	}
}

func TestRunUnknownContentTypeSavesNothing(t *testing.T) {
	fs := newStore(t)
	p := New(nil, fs, filestore.NewPathMapper(), nil, Hooks{})

	r := &fakeRetriever{
		name:        "http://h/weird",
		buf:         []byte("???"),
		contentType: "application/x-unknown-format",
		state:       retrieval.StateSuccessful,
	}

	saved, err := p.Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if saved != nil {
		t.Fatalf("expected nothing saved for an unknown content type")
	}
}

func TestRunInvokesOnSavedHook(t *testing.T) {
	fs := newStore(t)
	mapper := filestore.NewPathMapper()

	type saved struct {
		address, url, contentType string
		expiration                int64
	}
	var got *saved
	p := New(nil, fs, mapper, nil, Hooks{
		OnSaved: func(address, fileURL, contentType string, expiration int64) {
			got = &saved{address, fileURL, contentType, expiration}
		},
	})

	r := &fakeRetriever{
		name:        "http://h/tile.png",
		buf:         []byte("pngbytes"),
		contentType: "image/png",
		state:       retrieval.StateSuccessful,
	}
	if _, err := p.Run(r); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got == nil {
		t.Fatalf("expected OnSaved to be invoked")
	}
	if got.address != r.name {
		t.Fatalf("OnSaved address = %q, want %q", got.address, r.name)
	}
	if got.contentType != "image/png" {
		t.Fatalf("OnSaved contentType = %q, want image/png", got.contentType)
	}
	target, _ := mapper.MakeCachePath(r.name, r.contentType)
	wantSuffix := filepath.ToSlash(target)
	if !strings.HasSuffix(filepath.ToSlash(got.url), wantSuffix) {
		t.Fatalf("OnSaved url = %q, want suffix %q", got.url, wantSuffix)
	}
}

func TestRunSkipsNonSuccessfulRetriever(t *testing.T) {
	fs := newStore(t)
	p := New(nil, fs, filestore.NewPathMapper(), nil, Hooks{})

	r := &fakeRetriever{name: "http://h/x", contentType: "application/zip", state: retrieval.StateError}
	saved, err := p.Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if saved != nil {
		t.Fatalf("expected nothing saved for a non-successful retriever")
	}
}

func TestRunSavesCompressedInZstdMode(t *testing.T) {
	fs := newStore(t)
	fs.SetStorageMode(filestore.StorageZstd)
	mapper := filestore.NewPathMapper()
	p := New(nil, fs, mapper, nil, Hooks{})

	r := &fakeRetriever{
		name:        "http://h/tile.png",
		buf:         []byte("pngbytes"),
		contentType: "image/png",
		state:       retrieval.StateSuccessful,
	}
	if _, err := p.Run(r); err != nil {
		t.Fatalf("Run: %v", err)
	}

	target, err := mapper.MakeCachePath(r.name, r.contentType)
	if err != nil {
		t.Fatalf("MakeCachePath: %v", err)
	}

	// The on-disk file carries the compressed suffix and is not the
	// raw payload.
	raw, err := os.ReadFile(filepath.Join(fs.WriteLocation(), filepath.FromSlash(target)+filestore.ZstdSuffix))
	if err != nil {
		t.Fatalf("expected a compressed file on disk: %v", err)
	}
	if string(raw) == string(r.buf) {
		t.Fatalf("file was stored uncompressed in zstd mode")
	}

	// Reading back through the store yields the original bytes.
	rc, err := fs.Open(target)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(r.buf) {
		t.Fatalf("round trip = %q, want %q", got, r.buf)
	}
}
