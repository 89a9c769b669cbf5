package datafilestore

import (
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tilegrid/cache/cache"
	"github.com/tilegrid/cache/cache/absent"
	"github.com/tilegrid/cache/cache/filestore"
	"github.com/tilegrid/cache/cache/memcache"
	"github.com/tilegrid/cache/cache/retrieval"
)

// pendingRecheckInterval is how long a PENDING entry is left alone
// before a new request for the same address is allowed to re-probe and
// resubmit.
const pendingRecheckInterval = 5 * time.Second

// RetrieverFactory builds the Retriever a Store should submit for an
// address it could not resolve locally. Concrete subsystems (HTTP, S3,
// ...) are plugged in by the caller, keeping this package free of
// transport-specific imports.
type RetrieverFactory func(address string) (retrieval.Retriever, error)

// Submitter is the subset of retrieval.Service the Store needs.
// Declared locally so this package does not need to know about worker
// pools or queues, only that it can hand off a Retriever at a priority.
type Submitter interface {
	Submit(r retrieval.Retriever, priority int) *retrieval.Task
}

// SuccessListener is notified after a retrieval for an address has
// completed and its file is on disk: it receives the retrieval URL and
// the resulting local file:// URL.
type SuccessListener func(retrievalURL, localURL string)

// Store is the address index over everything the cache holds: what is
// locally cached, what is in flight, and what is known absent.
type Store struct {
	logger cache.Logger

	mu    sync.Mutex
	index *memcache.Cache

	files     *filestore.FileStore
	absent    *absent.List
	retriever RetrieverFactory
	submitter Submitter

	successListeners []SuccessListener

	cacheableContentTypes map[string]bool
	clock                 func() time.Time
}

// New returns a Store whose index is bounded by indexCapacity (in the
// same byte-weighted units as memcache.Cache), reading/writing files
// through files, consulting absentList before requesting a retrieval,
// and using retrieverFactory/submitter to fetch what it doesn't have.
// cacheableContentTypes lists the MIME types whose suffixes are probed
// when an address itself misses in the file store.
func New(logger cache.Logger, indexCapacity int64, files *filestore.FileStore, absentList *absent.List, retrieverFactory RetrieverFactory, submitter Submitter, cacheableContentTypes []string) *Store {
	if logger == nil {
		logger = cache.NopLogger{}
	}
	ct := make(map[string]bool, len(cacheableContentTypes))
	for _, c := range cacheableContentTypes {
		ct[strings.ToLower(c)] = true
	}
	return &Store{
		logger:                logger,
		index:                 memcache.New("datafilestore-index", indexCapacity, indexCapacity/2),
		files:                 files,
		absent:                absentList,
		retriever:             retrieverFactory,
		submitter:             submitter,
		cacheableContentTypes: ct,
		clock:                 time.Now,
	}
}

// Collectors returns the Prometheus collectors for the index's
// underlying MemoryCache, for a caller wiring up a metrics endpoint.
func (s *Store) Collectors() []prometheus.Collector {
	return s.index.Collectors()
}

// GetContentType is an O(1) index read; returns "" if address has no
// entry.
func (s *Store) GetContentType(address string) string {
	e := s.lookup(address)
	if e == nil {
		return ""
	}
	return e.ContentType
}

// GetExpirationTime is an O(1) index read; returns 0 if address has no
// entry or its entry carries no expiration.
func (s *Store) GetExpirationTime(address string) int64 {
	e := s.lookup(address)
	if e == nil {
		return 0
	}
	return e.Expiration
}

func (s *Store) lookup(address string) *Entry {
	v, ok := s.index.Get(address)
	if !ok {
		return nil
	}
	return v.(*Entry)
}

// AddSuccessListener registers fn to be called after every successful
// retrieval-and-save cycle, with the retrieval URL and the local
// file:// URL it produced. Listeners run on the worker thread that
// completed the retrieval, outside the index lock.
func (s *Store) AddSuccessListener(fn SuccessListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successListeners = append(s.successListeners, fn)
}

// RequestFile resolves address to a local file if it can, and otherwise
// schedules a background retrieval. It returns a non-empty URL only
// when the address already resolves to a local file; "" means the
// caller should ask again later.
func (s *Store) RequestFile(address string, cacheRemote bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	if s.absent != nil && s.absent.IsAbsent(address) {
		return ""
	}

	if e := s.lookup(address); e != nil {
		switch e.State {
		case StateLocal:
			if !e.isExpired(now) {
				return e.URL
			}
		case StatePending:
			if now.Sub(e.LastUpdateTime) <= pendingRecheckInterval {
				return ""
			}
		}
	}

	// An address that is already a file:// URL for an existing file
	// needs no search or retrieval, only an index upgrade.
	if localURL, ok := resolveLocalFile(address); ok {
		s.storeLocked(&Entry{
			Address:        address,
			State:          StateLocal,
			URL:            localURL,
			LastUpdateTime: now,
		})
		return localURL
	}

	if url, ok := s.files.FindFile(address, true); ok {
		s.storeLocked(&Entry{
			Address:        address,
			State:          StateLocal,
			URL:            url,
			LastUpdateTime: now,
		})
		return url
	}

	for ct := range s.cacheableContentTypes {
		if url, ok := s.files.FindFile(address+suffixFor(ct), true); ok {
			s.storeLocked(&Entry{
				Address:        address,
				State:          StateLocal,
				URL:            url,
				ContentType:    ct,
				LastUpdateTime: now,
			})
			return url
		}
	}

	if !cacheRemote || s.retriever == nil || s.submitter == nil {
		return ""
	}

	s.storeLocked(&Entry{
		Address:        address,
		State:          StatePending,
		LastUpdateTime: now,
	})

	r, err := s.retriever(address)
	if err != nil {
		s.logger.Printf("datafilestore: %s: failed to build retriever: %v", address, err)
		s.revertToNoneLocked(address)
		return ""
	}
	s.submitter.Submit(r, 0)
	return ""
}

// UpdateEntry is invoked by the post-processing pipeline after a
// successful save. It promotes the address's index entry to StateLocal,
// clears any absent-list record for the address, and notifies success
// listeners.
func (s *Store) UpdateEntry(address, url string, contentType string, expiration int64) {
	s.mu.Lock()
	s.storeLocked(&Entry{
		Address:        address,
		State:          StateLocal,
		URL:            url,
		ContentType:    contentType,
		Expiration:     expiration,
		LastUpdateTime: s.clock(),
	})
	listeners := s.successListeners
	s.mu.Unlock()

	if s.absent != nil {
		s.absent.UnmarkAbsent(address)
	}
	for _, fn := range listeners {
		fn(address, url)
	}
}

// RemoveFile removes both the on-disk file (via FileStore) and the
// index entry for address.
func (s *Store) RemoveFile(address string) error {
	s.mu.Lock()
	e := s.lookup(address)
	s.mu.Unlock()

	if e != nil && e.URL != "" {
		if err := s.files.RemoveFile(e.URL); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.index.Remove(address)
	s.mu.Unlock()
	return nil
}

// revertToNoneLocked drops a PENDING entry after a failure to even
// submit its retrieval. The address is not marked absent; nothing was
// learned about the resource itself.
func (s *Store) revertToNoneLocked(address string) {
	s.index.Remove(address)
}

// resolveLocalFile reports whether address is a file:// URL naming an
// existing file, returning the URL to index if so.
func resolveLocalFile(address string) (string, bool) {
	if !strings.HasPrefix(address, "file://") {
		return "", false
	}
	u, err := url.Parse(address)
	if err != nil || u.Path == "" {
		return "", false
	}
	if _, err := os.Stat(u.Path); err != nil {
		return "", false
	}
	return address, true
}

func (s *Store) storeLocked(e *Entry) {
	s.index.Add(e.Address, e, sizeOf(e))
}

func suffixFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "text/xml":
		return ".xml"
	case "text/html":
		return ".html"
	default:
		return ""
	}
}
