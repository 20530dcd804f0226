// Package badger stores objects in an embedded badger database, for
// single-node deployments that want compare-and-swap without a cloud bucket.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
)

// Config selects where the database lives.
type Config struct {
	Dir string `mapstructure:"dir"`
	// InMemory keeps everything in RAM; Dir is ignored.
	InMemory bool `mapstructure:"in_memory"`
}

// BlobStore uses badger commit timestamps as object versions.
type BlobStore struct {
	db *badger.DB
}

var _ objectstore.ConditionalBackend = (*BlobStore)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*BlobStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Join(cfg.Dir, "badger"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BlobStore{db: db}, nil
}

// Close releases the database.
func (s *BlobStore) Close() error {
	return s.db.Close()
}

// Get reads key.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, objectstore.Attrs, error) {
	var (
		value []byte
		attrs objectstore.Attrs
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		attrs.Version = int64(item.Version())
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, objectstore.Attrs{}, objectstore.ErrNotFound
	}
	if err != nil {
		return nil, objectstore.Attrs{}, fmt.Errorf("get %s: %w", key, err)
	}
	attrs.Size = int64(len(value))
	return value, attrs, nil
}

// Put stores data unconditionally.
func (s *BlobStore) Put(
	ctx context.Context,
	key string,
	data []byte,
	_ objectstore.PutOptions,
) (objectstore.Attrs, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return objectstore.Attrs{}, fmt.Errorf("set %s: %w", key, err)
	}
	return s.stat(ctx, key)
}

// PutIfVersion stores data only when key is still at version (0 = absent).
func (s *BlobStore) PutIfVersion(
	ctx context.Context,
	key string,
	data []byte,
	_ objectstore.PutOptions,
	version int64,
) (objectstore.Attrs, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			current = int64(item.Version())
		}
		if current != version {
			return objectstore.ErrConflict
		}
		return txn.Set([]byte(key), data)
	})
	switch {
	case errors.Is(err, objectstore.ErrConflict), errors.Is(err, badger.ErrConflict):
		return objectstore.Attrs{}, objectstore.ErrConflict
	case err != nil:
		return objectstore.Attrs{}, fmt.Errorf("set %s: %w", key, err)
	}
	return s.stat(ctx, key)
}

// Delete removes key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return objectstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns every key under prefix in byte order.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *BlobStore) stat(ctx context.Context, key string) (objectstore.Attrs, error) {
	_, attrs, err := s.Get(ctx, key)
	if err != nil {
		return objectstore.Attrs{}, err
	}
	return attrs, nil
}
