// Package postprocess turns completed retrievals into cache files:
// content-type dispatch on a finished Retriever, atomic save to the
// FileStore, and the absent-list/log fallbacks for content that should
// not be cached.
package postprocess

import (
	"os"
	"strings"
	"sync"

	"github.com/tilegrid/cache/cache"
	"github.com/tilegrid/cache/cache/absent"
	"github.com/tilegrid/cache/cache/filestore"
	"github.com/tilegrid/cache/cache/retrieval"
	"github.com/tilegrid/cache/utils/tempfile"
	"github.com/tilegrid/cache/utils/zstdpool"
)

// loggedPrefixLen bounds how much of an unsaved text/error payload is
// logged.
const loggedPrefixLen = 2048

// Hooks lets a caller override individual steps of the pipeline. A nil
// hook uses the Processor's built-in behavior.
type Hooks struct {
	// OverwriteExistingFile reports whether a save should replace an
	// existing file at the target path. Default: never overwrite; the
	// existing file is retained and reported as the save result.
	OverwriteExistingFile func(targetPath string) bool

	// OutputFile computes the store-relative path a Retriever's content
	// should be saved to. Default uses mapper.MakeCachePath.
	OutputFile func(r retrieval.Retriever) (string, error)

	// HandleImageContent applies any pixel transform before save (e.g.
	// palette transparency mapping). Default is the identity transform.
	HandleImageContent func(buf []byte, contentType string) ([]byte, error)

	// OnSaved is invoked after a file is successfully written (or left
	// in place by the overwrite check) with the retriever's address, the
	// resulting file:// URL, its content type, and its expiration (epoch
	// millis, 0 = none). The caller's index hangs off this closure; the
	// Processor itself holds no reference to any particular index
	// implementation.
	OnSaved func(address, fileURL, contentType string, expiration int64)
}

// PathMapper is the subset of filestore.PathMapper the Processor needs,
// declared locally to keep this package's dependency surface narrow.
type PathMapper interface {
	MakeCachePath(rawURL, contentType string) (string, error)
}

// Processor implements retrieval.PostProcessor by dispatching on content
// type and saving accepted content atomically through a FileStore.
type Processor struct {
	logger cache.Logger
	store  *filestore.FileStore
	mapper PathMapper
	absent *absent.List
	hooks  Hooks

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex
}

// New returns a Processor saving accepted content into store, named via
// mapper, and recording permanently-failing content in absentList (which
// may be nil to disable that behavior).
func New(logger cache.Logger, store *filestore.FileStore, mapper PathMapper, absentList *absent.List, hooks Hooks) *Processor {
	if logger == nil {
		logger = cache.NopLogger{}
	}
	return &Processor{
		logger:    logger,
		store:     store,
		mapper:    mapper,
		absent:    absentList,
		hooks:     hooks,
		fileLocks: make(map[string]*sync.Mutex),
	}
}

// Run implements retrieval.PostProcessor.
func (p *Processor) Run(r retrieval.Retriever) ([]byte, error) {
	if r.State() != retrieval.StateSuccessful {
		return nil, nil
	}

	contentType := r.ContentType()
	if contentType == "" {
		contentType = contentTypeFromSuffix(r.Name())
	}

	switch {
	case contentType == "application/vnd.ogc.se_xml":
		return p.handleServerError(r)
	case isZip(contentType):
		return p.save(r, r.Buffer())
	case isText(contentType):
		return p.handleText(r)
	case strings.HasPrefix(contentType, "image/"):
		return p.handleImage(r, contentType)
	default:
		p.logger.Printf("postprocess: %s unknown content type %q, nothing saved", r.Name(), contentType)
		return nil, nil
	}
}

// handleServerError treats the payload as a WMS/WFS exception document:
// it is logged and the resource is marked absent, never saved.
func (p *Processor) handleServerError(r retrieval.Retriever) ([]byte, error) {
	p.logger.Printf("postprocess: %s returned a server error payload: %s", r.Name(), boundedPrefix(r.Buffer()))
	if p.absent != nil {
		p.absent.MarkAbsent(r.Name())
	}
	return nil, nil
}

// handleText saves text content only when a hook requests it; by
// default (no OutputFile override produces a path) it just logs a
// bounded prefix.
func (p *Processor) handleText(r retrieval.Retriever) ([]byte, error) {
	if p.hooks.OutputFile == nil {
		p.logger.Printf("postprocess: %s text content, not requested for save: %s", r.Name(), boundedPrefix(r.Buffer()))
		return nil, nil
	}
	return p.save(r, r.Buffer())
}

func (p *Processor) handleImage(r retrieval.Retriever, contentType string) ([]byte, error) {
	buf := r.Buffer()
	if p.hooks.HandleImageContent != nil {
		transformed, err := p.hooks.HandleImageContent(buf, contentType)
		if err != nil {
			return nil, cache.Internalf("postprocess: %s: image transform failed: %v", r.Name(), err)
		}
		buf = transformed
	}
	return p.save(r, buf)
}

// save performs the atomic, file-keyed save: a lock keyed by the target
// path serializes concurrent writers to the same file, and the write
// itself goes through a temp file plus rename so readers never observe
// a partial file. In zstd storage mode the payload is compressed on the
// way to disk and the target name gains the compressed suffix.
func (p *Processor) save(r retrieval.Retriever, buf []byte) ([]byte, error) {
	if buf == nil {
		return nil, nil
	}

	target, err := p.outputFile(r)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, nil
	}

	compress := p.store.StorageMode() == filestore.StorageZstd
	if compress {
		target += filestore.ZstdSuffix
	}

	lock := p.lockFor(target)
	lock.Lock()
	defer lock.Unlock()

	full, ok, err := p.store.PrepareWrite(target)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.logger.Printf("postprocess: %s: no write location configured, discarding", r.Name())
		return nil, nil
	}

	overwrite := p.hooks.OverwriteExistingFile
	if overwrite == nil {
		overwrite = func(string) bool { return false }
	}
	if fileExists(full) && !overwrite(full) {
		p.notifySaved(r, full)
		return buf, nil
	}

	creator := tempfile.NewCreator()
	f, tmpName, err := creator.Create(full)
	if err != nil {
		return nil, cache.Internalf("postprocess: %s: failed to create temp file: %v", r.Name(), err)
	}

	if err := writePayload(f, buf, compress); err != nil {
		tempfile.Discard(f, tmpName)
		return nil, cache.Internalf("postprocess: %s: write failed: %v", r.Name(), err)
	}

	if err := tempfile.Commit(f, tmpName, full); err != nil {
		return nil, cache.Internalf("postprocess: %s: commit failed: %v", r.Name(), err)
	}

	p.notifySaved(r, full)
	return buf, nil
}

// writePayload writes buf to f, zstd-compressing it if compress is set.
func writePayload(f *os.File, buf []byte, compress bool) error {
	if !compress {
		_, err := f.Write(buf)
		return err
	}
	enc, err := zstdpool.WrapWriter(f)
	if err != nil {
		return err
	}
	if _, err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// notifySaved invokes Hooks.OnSaved, if configured, so the caller's
// index (typically a datafilestore.Store) can transition the address's
// entry to LOCAL now that full holds its content.
func (p *Processor) notifySaved(r retrieval.Retriever, full string) {
	if p.hooks.OnSaved == nil {
		return
	}
	contentType := r.ContentType()
	if contentType == "" {
		contentType = contentTypeFromSuffix(r.Name())
	}
	p.hooks.OnSaved(r.Name(), "file://"+full, contentType, r.Expiration())
}

func (p *Processor) outputFile(r retrieval.Retriever) (string, error) {
	if p.hooks.OutputFile != nil {
		return p.hooks.OutputFile(r)
	}
	if p.mapper == nil {
		return "", nil
	}
	return p.mapper.MakeCachePath(r.Name(), r.ContentType())
}

func (p *Processor) lockFor(target string) *sync.Mutex {
	p.fileLocksMu.Lock()
	defer p.fileLocksMu.Unlock()
	l, ok := p.fileLocks[target]
	if !ok {
		l = &sync.Mutex{}
		p.fileLocks[target] = l
	}
	return l
}

func boundedPrefix(buf []byte) string {
	s := string(buf)
	if len(s) > loggedPrefixLen {
		s = s[:loggedPrefixLen]
	}
	return s
}

func isZip(contentType string) bool {
	return contentType == "application/zip" || strings.HasSuffix(contentType, "/zip")
}

func isText(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") || contentType == "application/xml"
}

func contentTypeFromSuffix(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		switch strings.ToLower(name[i:]) {
		case ".png":
			return "image/png"
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".gif":
			return "image/gif"
		case ".zip":
			return "application/zip"
		case ".xml":
			return "text/xml"
		case ".html", ".htm":
			return "text/html"
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
