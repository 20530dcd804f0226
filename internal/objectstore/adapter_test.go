package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore/local"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore/memory"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var errBoom = errors.New("network down")

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, objectstore.Attrs, error) {
	return nil, objectstore.Attrs{}, errBoom
}

func (failingBackend) Put(context.Context, string, []byte, objectstore.PutOptions) (objectstore.Attrs, error) {
	return objectstore.Attrs{}, errBoom
}

func (failingBackend) Delete(context.Context, string) error { return errBoom }

func (failingBackend) List(context.Context, string) ([]string, error) { return nil, errBoom }

func newAdapter(t *testing.T) (*objectstore.Adapter, *memory.BlobStore) {
	t.Helper()
	backend := memory.NewBlobStore()
	return objectstore.NewAdapter("memory", backend, zap.NewNop()), backend
}

func TestGetJSONMissingIsEmpty(t *testing.T) {
	adapter, _ := newAdapter(t)
	got, err := objectstore.GetJSON[doc](context.Background(), adapter, "jobs/manifest.json")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutGetJSON(t *testing.T) {
	adapter, backend := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.PutJSON(ctx, "stats/2024-03.json", doc{Name: "a", Count: 2}, objectstore.StatsCacheControl))
	got, err := objectstore.GetJSON[doc](ctx, adapter, "stats/2024-03.json")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc{Name: "a", Count: 2}, *got)

	opts, ok := backend.Options("stats/2024-03.json")
	require.True(t, ok)
	assert.Equal(t, "public, max-age=300", opts.CacheControl)
	assert.Equal(t, "application/json", opts.ContentType)
}

func TestGetJSONCorrupt(t *testing.T) {
	adapter, backend := newAdapter(t)
	ctx := context.Background()
	_, err := backend.Put(ctx, "bad.json", []byte("{not json"), objectstore.PutOptions{})
	require.NoError(t, err)

	_, err = objectstore.GetJSON[doc](ctx, adapter, "bad.json")
	require.Error(t, err)
	assert.NotErrorIs(t, err, objectstore.ErrStorageUnavailable)
}

func TestUnavailableAdapter(t *testing.T) {
	adapter := objectstore.NewAdapter("none", nil, nil)
	ctx := context.Background()
	assert.False(t, adapter.IsAvailable())

	_, err := objectstore.GetJSON[doc](ctx, adapter, "k")
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)
	assert.ErrorIs(t, adapter.PutJSON(ctx, "k", doc{}, ""), objectstore.ErrStorageUnavailable)
	_, err = adapter.List(ctx, "")
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)
}

func TestBackendFailuresAreStorageErrors(t *testing.T) {
	adapter := objectstore.NewAdapter("broken", failingBackend{}, zap.NewNop())
	ctx := context.Background()

	_, err := objectstore.GetNDJSONGzipped[doc](ctx, adapter, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)
	assert.ErrorIs(t, err, errBoom)

	var storageErr *objectstore.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "get", storageErr.Op)
	assert.Equal(t, "k", storageErr.Key)

	assert.ErrorIs(t, adapter.Delete(ctx, "k"), objectstore.ErrStorageUnavailable)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	adapter, _ := newAdapter(t)
	assert.NoError(t, adapter.Delete(context.Background(), "missing"))
}

func TestNDJSONRoundTrip(t *testing.T) {
	adapter, _ := newAdapter(t)
	ctx := context.Background()
	records := []doc{{Name: "<b>one</b>", Count: 1}, {Name: "two", Count: 2}}

	n, err := objectstore.PutNDJSONGzipped(ctx, adapter, "jobs/2024-03/2024-03-01.meta.ndjson.gz", records)
	require.NoError(t, err)
	assert.Positive(t, n)

	got, err := objectstore.GetNDJSONGzipped[doc](ctx, adapter, "jobs/2024-03/2024-03-01.meta.ndjson.gz")
	require.NoError(t, err)
	assert.Equal(t, records, got)

	missing, err := objectstore.GetNDJSONGzipped[doc](ctx, adapter, "jobs/2024-03/2024-03-02.meta.ndjson.gz")
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.NotNil(t, missing)
}

func TestNDJSONEncodingIsDeterministic(t *testing.T) {
	adapter, backend := newAdapter(t)
	ctx := context.Background()
	records := []doc{{Name: "a", Count: 1}, {Name: "b", Count: 2}}

	_, err := objectstore.PutNDJSONGzipped(ctx, adapter, "one", records)
	require.NoError(t, err)
	_, err = objectstore.PutNDJSONGzipped(ctx, adapter, "two", records)
	require.NoError(t, err)

	first, _, err := backend.Get(ctx, "one")
	require.NoError(t, err)
	second, _, err := backend.Get(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNDJSONSkipsCorruptLines(t *testing.T) {
	adapter, backend := newAdapter(t)
	ctx := context.Background()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("{\"name\":\"ok\",\"count\":1}\n{broken\n\n{\"name\":\"also\",\"count\":2}\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	_, err = backend.Put(ctx, "shard", buf.Bytes(), objectstore.PutOptions{})
	require.NoError(t, err)

	got, err := objectstore.GetNDJSONGzipped[doc](ctx, adapter, "shard")
	require.NoError(t, err)
	assert.Equal(t, []doc{{Name: "ok", Count: 1}, {Name: "also", Count: 2}}, got)
}

func TestPutJSONIfVersion(t *testing.T) {
	adapter, _ := newAdapter(t)
	ctx := context.Background()
	require.True(t, adapter.Conditional())

	v1, err := adapter.PutJSONIfVersion(ctx, "jobs/manifest.json", doc{Count: 1}, 0)
	require.NoError(t, err)

	_, err = adapter.PutJSONIfVersion(ctx, "jobs/manifest.json", doc{Count: 9}, 0)
	assert.ErrorIs(t, err, objectstore.ErrConflict)
	assert.NotErrorIs(t, err, objectstore.ErrStorageUnavailable)

	got, version, err := objectstore.GetJSONVersioned[doc](ctx, adapter, "jobs/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, v1, version)
	assert.Equal(t, 1, got.Count)
}

func TestPutJSONIfVersionFallsBackWithoutConditionalBackend(t *testing.T) {
	backend, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	adapter := objectstore.NewAdapter("local", backend, zap.NewNop())
	ctx := context.Background()
	assert.False(t, adapter.Conditional())

	_, err = adapter.PutJSONIfVersion(ctx, "m.json", doc{Count: 1}, 0)
	require.NoError(t, err)
	_, err = adapter.PutJSONIfVersion(ctx, "m.json", doc{Count: 2}, 0)
	require.NoError(t, err)

	got, err := objectstore.GetJSON[doc](ctx, adapter, "m.json")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
}

func TestNDJSONIfVersionRejectsStaleWriter(t *testing.T) {
	adapter, _ := newAdapter(t)
	ctx := context.Background()
	key := "jobs/2024-03/2024-03-05.desc.ndjson.gz"

	_, v0, err := objectstore.GetNDJSONGzippedVersioned[doc](ctx, adapter, key)
	require.NoError(t, err)
	assert.Zero(t, v0)

	_, v1, err := objectstore.PutNDJSONGzippedIfVersion(ctx, adapter, key, []doc{{Name: "first"}}, v0)
	require.NoError(t, err)
	assert.Positive(t, v1)

	_, _, err = objectstore.PutNDJSONGzippedIfVersion(ctx, adapter, key, []doc{{Name: "stale"}}, v0)
	require.ErrorIs(t, err, objectstore.ErrConflict)

	got, version, err := objectstore.GetNDJSONGzippedVersioned[doc](ctx, adapter, key)
	require.NoError(t, err)
	assert.Equal(t, v1, version)
	assert.Equal(t, []doc{{Name: "first"}}, got)
}
