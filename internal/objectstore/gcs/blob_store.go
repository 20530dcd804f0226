// Package gcs provides an object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
)

// Config captures the parameters required to address a bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every key, letting several deployments share a bucket.
	Prefix string
}

// BlobStore reads and writes objects in a configured GCS bucket. Object
// generations serve as versions, so manifest updates can be conditional.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ objectstore.ConditionalBackend = (*BlobStore)(nil)

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Get downloads key.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, objectstore.Attrs, error) {
	reader, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, objectstore.Attrs{}, mapError(err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, objectstore.Attrs{}, fmt.Errorf("read object: %w", err)
	}
	return data, objectstore.Attrs{Version: reader.Attrs.Generation, Size: int64(len(data))}, nil
}

// Put uploads data unconditionally.
func (s *BlobStore) Put(
	ctx context.Context,
	key string,
	data []byte,
	opts objectstore.PutOptions,
) (objectstore.Attrs, error) {
	return s.write(ctx, s.object(key), data, opts)
}

// PutIfVersion uploads data only when the object's generation equals version.
// A version of 0 requires the object to be absent.
func (s *BlobStore) PutIfVersion(
	ctx context.Context,
	key string,
	data []byte,
	opts objectstore.PutOptions,
	version int64,
) (objectstore.Attrs, error) {
	cond := storage.Conditions{GenerationMatch: version}
	if version == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}
	return s.write(ctx, s.object(key).If(cond), data, opts)
}

// Delete removes key.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// List returns the keys under prefix with the configured bucket prefix removed.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.fullKey(prefix)})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		keys = append(keys, s.trimKey(attrs.Name))
	}
	return keys, nil
}

func (s *BlobStore) write(
	ctx context.Context,
	obj *storage.ObjectHandle,
	data []byte,
	opts objectstore.PutOptions,
) (objectstore.Attrs, error) {
	writer := obj.NewWriter(ctx)
	if opts.ContentType != "" {
		writer.ContentType = opts.ContentType
	}
	if opts.CacheControl != "" {
		writer.CacheControl = opts.CacheControl
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return objectstore.Attrs{}, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return objectstore.Attrs{}, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return objectstore.Attrs{}, mapError(err)
	}
	attrs := objectstore.Attrs{Size: int64(len(data))}
	if written := writer.Attrs(); written != nil {
		attrs.Version = written.Generation
	}
	return attrs, nil
}

func (s *BlobStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.fullKey(key))
}

func (s *BlobStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + strings.TrimPrefix(key, "/")
}

func (s *BlobStore) trimKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.prefix+"/")
}

func mapError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return objectstore.ErrNotFound
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return objectstore.ErrNotFound
		case http.StatusPreconditionFailed:
			return objectstore.ErrConflict
		}
	}
	return err
}
