package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/metrics"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson+gzip"

	// StatsCacheControl is applied to derived statistics documents.
	StatsCacheControl = "public, max-age=300"
)

// Adapter is the Object Store Adapter used by every higher-level component.
// It keeps no state between calls besides the backend handle.
type Adapter struct {
	backend  Backend
	name     string
	logger   *zap.Logger
	lwwNotes sync.Once
}

// NewAdapter wraps backend. A nil backend yields an unavailable adapter whose
// calls fail fast with ErrStorageUnavailable.
func NewAdapter(name string, backend Backend, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{backend: backend, name: name, logger: logger}
}

// IsAvailable reports whether a backend is configured.
func (a *Adapter) IsAvailable() bool {
	return a != nil && a.backend != nil
}

// Name returns the backend label used in logs and metrics.
func (a *Adapter) Name() string {
	return a.name
}

// Conditional reports whether the backend supports compare-and-swap writes.
func (a *Adapter) Conditional() bool {
	if !a.IsAvailable() {
		return false
	}
	_, ok := a.backend.(ConditionalBackend)
	return ok
}

func (a *Adapter) unavailable(op, key string) error {
	return &StorageError{Op: op, Key: key, Err: errors.New("backend not configured")}
}

// GetRaw fetches key. found is false (with a nil error) when the key is absent.
func (a *Adapter) GetRaw(ctx context.Context, key string) (data []byte, attrs Attrs, found bool, err error) {
	if !a.IsAvailable() {
		return nil, Attrs{}, false, a.unavailable("get", key)
	}
	start := time.Now()
	data, attrs, err = a.backend.Get(ctx, key)
	metrics.ObserveStoreOp(a.name, "get", ignoreNotFound(err), time.Since(start))
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, Attrs{}, false, nil
	case err != nil:
		return nil, Attrs{}, false, &StorageError{Op: "get", Key: key, Err: err}
	}
	return data, attrs, true, nil
}

// PutRaw writes data to key unconditionally.
func (a *Adapter) PutRaw(ctx context.Context, key string, data []byte, opts PutOptions) (Attrs, error) {
	if !a.IsAvailable() {
		return Attrs{}, a.unavailable("put", key)
	}
	start := time.Now()
	attrs, err := a.backend.Put(ctx, key, data, opts)
	metrics.ObserveStoreOp(a.name, "put", err, time.Since(start))
	if err != nil {
		return Attrs{}, &StorageError{Op: "put", Key: key, Err: err}
	}
	metrics.ObserveBytesWritten(a.name, len(data))
	return attrs, nil
}

// PutRawIfVersion writes data only if key is still at version. Backends
// without conditional writes fall back to last-writer-wins.
func (a *Adapter) PutRawIfVersion(
	ctx context.Context,
	key string,
	data []byte,
	opts PutOptions,
	version int64,
) (Attrs, error) {
	if !a.IsAvailable() {
		return Attrs{}, a.unavailable("put", key)
	}
	cb, ok := a.backend.(ConditionalBackend)
	if !ok {
		a.lwwNotes.Do(func() {
			a.logger.Warn("backend has no conditional writes; shared documents are last-writer-wins",
				zap.String("backend", a.name))
		})
		return a.PutRaw(ctx, key, data, opts)
	}
	start := time.Now()
	attrs, err := cb.PutIfVersion(ctx, key, data, opts, version)
	metrics.ObserveStoreOp(a.name, "put_if_version", err, time.Since(start))
	switch {
	case errors.Is(err, ErrConflict):
		return Attrs{}, fmt.Errorf("put %s at version %d: %w", key, version, ErrConflict)
	case err != nil:
		return Attrs{}, &StorageError{Op: "put_if_version", Key: key, Err: err}
	}
	metrics.ObserveBytesWritten(a.name, len(data))
	return attrs, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if !a.IsAvailable() {
		return a.unavailable("delete", key)
	}
	start := time.Now()
	err := a.backend.Delete(ctx, key)
	metrics.ObserveStoreOp(a.name, "delete", ignoreNotFound(err), time.Since(start))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List returns every key under prefix in lexical order.
func (a *Adapter) List(ctx context.Context, prefix string) ([]string, error) {
	if !a.IsAvailable() {
		return nil, a.unavailable("list", prefix)
	}
	start := time.Now()
	keys, err := a.backend.List(ctx, prefix)
	metrics.ObserveStoreOp(a.name, "list", err, time.Since(start))
	if err != nil {
		return nil, &StorageError{Op: "list", Key: prefix, Err: err}
	}
	return keys, nil
}

// PutJSON marshals value and stores it under key.
func (a *Adapter) PutJSON(ctx context.Context, key string, value any, cacheControl string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = a.PutRaw(ctx, key, data, PutOptions{ContentType: contentTypeJSON, CacheControl: cacheControl})
	return err
}

// PutJSONIfVersion marshals value and stores it only if key is still at version.
// It returns the new version.
func (a *Adapter) PutJSONIfVersion(ctx context.Context, key string, value any, version int64) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", key, err)
	}
	attrs, err := a.PutRawIfVersion(ctx, key, data, PutOptions{ContentType: contentTypeJSON}, version)
	if err != nil {
		return 0, err
	}
	return attrs.Version, nil
}

// GetJSON loads key into a new T. It returns nil, nil when key is absent.
func GetJSON[T any](ctx context.Context, a *Adapter, key string) (*T, error) {
	value, _, err := GetJSONVersioned[T](ctx, a, key)
	return value, err
}

// GetJSONVersioned is GetJSON plus the stored version (0 when absent).
func GetJSONVersioned[T any](ctx context.Context, a *Adapter, key string) (*T, int64, error) {
	data, attrs, found, err := a.GetRaw(ctx, key)
	if err != nil || !found {
		return nil, 0, err
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return &value, attrs.Version, nil
}

// GetNDJSONGzipped loads a gzip NDJSON shard. A missing key yields an empty
// slice. Lines that fail to decode are skipped with a warning.
func GetNDJSONGzipped[T any](ctx context.Context, a *Adapter, key string) ([]T, error) {
	records, _, err := GetNDJSONGzippedVersioned[T](ctx, a, key)
	return records, err
}

// GetNDJSONGzippedVersioned is GetNDJSONGzipped plus the stored version
// (0 when absent), for a later PutNDJSONGzippedIfVersion.
func GetNDJSONGzippedVersioned[T any](ctx context.Context, a *Adapter, key string) ([]T, int64, error) {
	data, attrs, found, err := a.GetRaw(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return []T{}, 0, nil
	}
	records, err := decodeNDJSONGzip[T](data, func(line int, decodeErr error) {
		a.logger.Warn("skipping malformed shard line",
			zap.String("key", key), zap.Int("line", line), zap.Error(decodeErr))
	})
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return records, attrs.Version, nil
}

// PutNDJSONGzipped writes records as one gzip NDJSON blob and returns the
// number of compressed bytes written.
func PutNDJSONGzipped[T any](ctx context.Context, a *Adapter, key string, records []T) (int64, error) {
	data, err := encodeNDJSONGzip(records)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := a.PutRaw(ctx, key, data, PutOptions{ContentType: contentTypeNDJSON}); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// PutNDJSONGzippedIfVersion writes records only if key is still at version
// and returns the compressed size and the new version. A lost race yields
// ErrConflict and leaves the stored shard untouched.
func PutNDJSONGzippedIfVersion[T any](
	ctx context.Context,
	a *Adapter,
	key string,
	records []T,
	version int64,
) (size int64, newVersion int64, err error) {
	data, err := encodeNDJSONGzip(records)
	if err != nil {
		return 0, 0, fmt.Errorf("encode %s: %w", key, err)
	}
	attrs, err := a.PutRawIfVersion(ctx, key, data, PutOptions{ContentType: contentTypeNDJSON}, version)
	if err != nil {
		return 0, 0, err
	}
	return int64(len(data)), attrs.Version, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
