// Package blobstore implements the framework's cache: temporary blob
// collaborator: a scratch area, addressed by random uuid-based URIs,
// that request processing spills oversized or binary parsed fragments
// into instead of holding them in memory for the lifetime of a request.
//
// It is grounded on air's coffer.go, which keeps a memory budget over
// binary asset content using github.com/VictoriaMetrics/fastcache
// keyed by a sha256 checksum. blobstore reuses that in-memory cache
// for small blobs and falls back to a temp-file on disk once a blob
// crosses maxMemoryBytes, mirroring coffer's asset/content split
// between the cache and the filesystem.
package blobstore

import (
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a URI does not resolve to a blob, either
// because it was never created or has since been removed.
var ErrNotFound = errors.New("blobstore: not found")

// Blob describes a temporary binary value addressed by URI.
type Blob struct {
	URI         string
	ContentType string
}

// Store is a temporary blob collaborator. It is safe for concurrent
// use by multiple goroutines.
type Store struct {
	dir         string
	maxMemBytes int
	cache       *fastcache.Cache
	once        sync.Once
	mu          sync.RWMutex
	entries     map[string]*entry

	watchOnce sync.Once
	watcher   *fsnotify.Watcher
}

type entry struct {
	contentType string
	checksum    [sha256.Size]byte
	size        int64
	path        string // non-empty when spilled to disk
}

// New returns a Store that keeps up to maxMemoryBytes of blob content
// in memory, spilling anything larger to dir (created lazily, and
// used for os.CreateTemp with "blob-*" patterned names).
func New(dir string, maxMemoryBytes int) *Store {
	if maxMemoryBytes <= 0 {
		maxMemoryBytes = 32 * 1024 * 1024
	}

	return &Store{
		dir:         dir,
		maxMemBytes: maxMemoryBytes,
		entries:     make(map[string]*entry),
	}
}

func (s *Store) lazyCache() *fastcache.Cache {
	s.once.Do(func() {
		s.cache = fastcache.New(s.maxMemBytes)
	})

	return s.cache
}

// watchSpillDir starts a watch on s.dir, the same role coffer.go's
// fsnotify watcher plays over its asset root: something other than
// Store itself (an operator, a tmp-cleaner) removing a spilled blob's
// backing file is treated as an external invalidation rather than left
// to surface as a read error later.
func (s *Store) watchSpillDir() {
	s.watchOnce.Do(func() {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return
		}

		if err := w.Add(s.dir); err != nil {
			w.Close()
			return
		}

		s.watcher = w

		go s.watchLoop(w)
	})
}

func (s *Store) watchLoop(w *fsnotify.Watcher) {
	for event := range w.Events {
		if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
			continue
		}

		s.evictByPath(event.Name)
	}
}

func (s *Store) evictByPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for uri, e := range s.entries {
		if e.path == path {
			delete(s.entries, uri)
			return
		}
	}
}

// Close stops the spill-directory watcher, if one was started. It is
// safe to call even when no blob was ever spilled to disk.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}

	return s.watcher.Close()
}

// Create allocates a new, empty blob of the given content type and
// returns a Writer to fill it. The blob is addressable by the
// returned URI once the Writer is closed.
func (s *Store) Create(contentType string) (string, io.WriteCloser, error) {
	id := uuid.NewString()
	uri := "cache:" + id

	w := &blobWriter{store: s, uri: uri, contentType: contentType}

	return uri, w, nil
}

// Save is a convenience wrapper that drains r into a new blob and
// returns its URI.
func (s *Store) Save(r io.Reader, contentType string) (string, error) {
	uri, w, err := s.Create(contentType)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		s.Remove(uri)
		return "", err
	}

	if err := w.Close(); err != nil {
		s.Remove(uri)
		return "", err
	}

	return uri, nil
}

// Open returns a reader over the blob's content and its content type.
func (s *Store) Open(uri string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	e, ok := s.entries[uri]
	s.mu.RUnlock()

	if !ok {
		return nil, "", ErrNotFound
	}

	if e.path != "" {
		f, err := os.Open(e.path)
		if err != nil {
			return nil, "", err
		}

		return f, e.contentType, nil
	}

	b := s.lazyCache().GetBig(nil, e.checksum[:])
	if int64(len(b)) != e.size {
		return nil, "", ErrNotFound
	}

	return io.NopCloser(newByteReader(b)), e.contentType, nil
}

// Remove deletes a blob. It is not an error to remove an unknown URI.
func (s *Store) Remove(uri string) error {
	s.mu.Lock()
	e, ok := s.entries[uri]
	delete(s.entries, uri)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	if e.path != "" {
		return os.Remove(e.path)
	}

	s.lazyCache().Del(e.checksum[:])

	return nil
}

type blobWriter struct {
	store       *Store
	uri         string
	contentType string
	buf         []byte
	file        *os.File
	sum         error
}

func (w *blobWriter) Write(p []byte) (int, error) {
	if w.file != nil {
		return w.file.Write(p)
	}

	if len(w.buf)+len(p) > w.store.maxMemBytes {
		if err := w.spill(); err != nil {
			return 0, err
		}

		return w.file.Write(p)
	}

	w.buf = append(w.buf, p...)

	return len(p), nil
}

func (w *blobWriter) spill() error {
	if err := os.MkdirAll(w.store.dir, 0o700); err != nil {
		return err
	}

	w.store.watchSpillDir()

	f, err := os.CreateTemp(w.store.dir, "blob-*")
	if err != nil {
		return err
	}

	if len(w.buf) > 0 {
		if _, err := f.Write(w.buf); err != nil {
			f.Close()
			return err
		}
	}

	w.file = f
	w.buf = nil

	return nil
}

func (w *blobWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	if w.file != nil {
		size, err := w.file.Seek(0, io.SeekCurrent)
		if err != nil {
			w.file.Close()
			return err
		}

		if err := w.file.Close(); err != nil {
			return err
		}

		w.store.entries[w.uri] = &entry{
			contentType: w.contentType,
			path:        w.file.Name(),
			size:        size,
		}

		return nil
	}

	sum := sha256.Sum256(w.buf)
	w.store.lazyCache().SetBig(sum[:], w.buf)
	w.store.entries[w.uri] = &entry{
		contentType: w.contentType,
		checksum:    sum,
		size:        int64(len(w.buf)),
	}

	return nil
}

func newByteReader(b []byte) io.Reader {
	return &byteReader{b: b}
}

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}

	n := copy(p, r.b[r.off:])
	r.off += n

	return n, nil
}
