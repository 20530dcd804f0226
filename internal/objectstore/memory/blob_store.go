// Package memory stores objects in-memory for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
)

type object struct {
	data    []byte
	version int64
	opts    objectstore.PutOptions
}

// BlobStore is a versioned in-memory object store with compare-and-swap writes.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	seq     int64
}

var _ objectstore.ConditionalBackend = (*BlobStore)(nil)

// NewBlobStore creates an empty in-memory store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]object)}
}

// Get returns a copy of the stored bytes.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, objectstore.Attrs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, objectstore.Attrs{}, objectstore.ErrNotFound
	}
	return append([]byte(nil), obj.data...), attrsOf(obj), nil
}

// Put stores data unconditionally.
func (s *BlobStore) Put(
	_ context.Context,
	key string,
	data []byte,
	opts objectstore.PutOptions,
) (objectstore.Attrs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, data, opts), nil
}

// PutIfVersion stores data only if key is at version (0 = absent).
func (s *BlobStore) PutIfVersion(
	_ context.Context,
	key string,
	data []byte,
	opts objectstore.PutOptions,
	version int64,
) (objectstore.Attrs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.objects[key].version
	if current != version {
		return objectstore.Attrs{}, objectstore.ErrConflict
	}
	return s.putLocked(key, data, opts), nil
}

// Delete removes key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return objectstore.ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// List returns the keys under prefix, sorted.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Options returns the metadata stored with key, for assertions in tests.
func (s *BlobStore) Options(key string) (objectstore.PutOptions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.opts, ok
}

func (s *BlobStore) putLocked(key string, data []byte, opts objectstore.PutOptions) objectstore.Attrs {
	s.seq++
	obj := object{data: append([]byte(nil), data...), version: s.seq, opts: opts}
	s.objects[key] = obj
	return attrsOf(obj)
}

func attrsOf(obj object) objectstore.Attrs {
	return objectstore.Attrs{Version: obj.version, Size: int64(len(obj.data))}
}
