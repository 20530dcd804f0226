// Package objectstore adapts key-value blob backends (GCS, badger, the local
// filesystem, memory) to the JSON documents and gzip-compressed NDJSON shards
// the posting store is built from.
//
// Missing keys are a normal, empty result at the Adapter surface. Every other
// backend failure is reported as a *StorageError that matches
// ErrStorageUnavailable.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by backends when a key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrStorageUnavailable marks store misconfiguration and network/auth failures.
	ErrStorageUnavailable = errors.New("object store unavailable")
	// ErrConflict is returned when a conditional write loses to another writer.
	ErrConflict = errors.New("object version conflict")
)

// Attrs describes a stored object. Version is backend specific (GCS
// generation, badger commit timestamp, memory sequence); zero means absent.
type Attrs struct {
	Version int64
	Size    int64
}

// PutOptions carries optional object metadata.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// Backend is the minimal blob contract every store implements.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, Attrs, error)
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (Attrs, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ConditionalBackend can refuse a write when the stored version moved.
// A version of 0 means the key must not exist yet.
type ConditionalBackend interface {
	Backend
	PutIfVersion(ctx context.Context, key string, data []byte, opts PutOptions, version int64) (Attrs, error)
}

// StorageError wraps a backend failure with the operation and key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("object store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both ErrStorageUnavailable and the backend error.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}
