package ingest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/classify/rules"
	"github.com/JakeFAU/realtime-job-postings/internal/clock/fake"
	"github.com/JakeFAU/realtime-job-postings/internal/dedup"
	"github.com/JakeFAU/realtime-job-postings/internal/feed"
	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
	"github.com/JakeFAU/realtime-job-postings/internal/lease"
	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
	"github.com/JakeFAU/realtime-job-postings/internal/notify"
	notifymemory "github.com/JakeFAU/realtime-job-postings/internal/notify/memory"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore/memory"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/shard"
	"github.com/JakeFAU/realtime-job-postings/internal/stats"
)

type recordedRuns struct {
	mu   sync.Mutex
	runs []ingest.Run
}

func (r *recordedRuns) RecordRun(_ context.Context, run ingest.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (lease.Lease, error) {
	return nil, lease.ErrHeld
}

type countingIDs struct{ n int }

func (c *countingIDs) NewID() (string, error) {
	c.n++
	return "run-" + strings.Repeat("x", c.n), nil
}

// flakyBackend fails unconditional writes once broken is set.
type flakyBackend struct {
	*memory.BlobStore
	broken bool
}

func (f *flakyBackend) Put(ctx context.Context, key string, data []byte, opts objectstore.PutOptions) (objectstore.Attrs, error) {
	if f.broken {
		return objectstore.Attrs{}, errors.New("503 backend unavailable")
	}
	return f.BlobStore.Put(ctx, key, data, opts)
}

type harness struct {
	store    *objectstore.Adapter
	clock    *fake.Clock
	runs     *recordedRuns
	notifier *notifymemory.Notifier
}

func newHarness(backend objectstore.Backend) *harness {
	return &harness{
		store:    objectstore.NewAdapter("memory", backend, zap.NewNop()),
		clock:    fake.New(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)),
		runs:     &recordedRuns{},
		notifier: notifymemory.New(),
	}
}

func (h *harness) pipeline(sources ...feed.Source) *ingest.Pipeline {
	return ingest.New(ingest.Deps{
		Store:      h.store,
		Sources:    sources,
		Classifier: rules.New(),
		Notifier:   h.notifier,
		Runs:       h.runs,
		IDs:        &countingIDs{},
		Clock:      h.clock,
	}, ingest.Config{}, zap.NewNop())
}

var twoPostings = feed.Static{Label: "test", Postings: []posting.RawPosting{
	{Title: "Backend Engineer", Link: "https://jobs.example.com/A", Description: "Go and Postgres"},
	{Title: "Senior Data Scientist", Link: "https://jobs.example.com/B", Description: "Python. $120,000 - $140,000 per year"},
}}

func TestRunSkipsIndexedURLs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(memory.NewBlobStore())
	seed := dedup.NewIndex(h.store, dedup.PostingIndexKey, h.clock, nil)
	require.NoError(t, seed.Load(ctx))
	seed.Add("https://jobs.example.com/a")
	require.NoError(t, seed.Save(ctx))

	p := h.pipeline(twoPostings)
	first, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Processed: 2, Inserted: 1, Duplicates: 1}, first)

	read, err := shard.New(h.store, nil).ReadDay(ctx, manifest.DayEntry{Date: "2024-03-05"})
	require.NoError(t, err)
	require.Len(t, read.Records, 1)
	assert.Equal(t, "https://jobs.example.com/B", read.Records[0].URL)
	assert.Equal(t, "senior", read.Records[0].Seniority)

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.CacheHits)

	s, err := stats.Load(ctx, h.store, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalJobs)
	assert.Equal(t, 1, s.SalaryStats.TotalWithSalary)
}

func TestExpiredCacheEntriesFallBackToIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(memory.NewBlobStore())
	p := h.pipeline(twoPostings)
	_, err := p.Run(ctx)
	require.NoError(t, err)

	h.clock.Advance(3 * 24 * time.Hour)
	again, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Evicted)
	assert.Zero(t, again.CacheHits)
	assert.Equal(t, 2, again.Duplicates)
	assert.Zero(t, again.Inserted)
}

func TestIngestCountsMalformedPostings(t *testing.T) {
	t.Parallel()

	h := newHarness(memory.NewBlobStore())
	res, err := h.pipeline().Ingest(context.Background(), []posting.RawPosting{
		{Title: "no link"},
		{Title: "Engineer", Link: "https://x/1"},
		{Title: "blank", Link: "   "},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, 1, res.Inserted)
}

func TestLeaseHeldAbortsBeforeAnyWork(t *testing.T) {
	t.Parallel()

	backend := memory.NewBlobStore()
	h := newHarness(backend)
	p := ingest.New(ingest.Deps{
		Store:      h.store,
		Sources:    []feed.Source{twoPostings},
		Classifier: rules.New(),
		Locker:     heldLocker{},
		Clock:      h.clock,
	}, ingest.Config{}, nil)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, lease.ErrHeld)
	keys, err := h.store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUnavailableStore(t *testing.T) {
	t.Parallel()

	h := newHarness(nil)
	_, err := h.pipeline(twoPostings).Run(context.Background())
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)
	_, err = h.pipeline().Rebuild(context.Background(), nil)
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)
}

func TestRunLedgerAndNotifications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &flakyBackend{BlobStore: memory.NewBlobStore()}
	h := newHarness(backend)
	p := h.pipeline(twoPostings)

	_, err := p.Run(ctx)
	require.NoError(t, err)

	backend.broken = true
	_, err = p.Ingest(ctx, []posting.RawPosting{{Title: "Engineer", Link: "https://x/new"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)

	require.Len(t, h.runs.runs, 2)
	ok, failed := h.runs.runs[0], h.runs.runs[1]
	assert.Equal(t, ingest.StatusSucceeded, ok.Status)
	assert.Equal(t, 2, ok.Result.Inserted)
	assert.NotEmpty(t, ok.ID)
	assert.Equal(t, ingest.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "503 backend unavailable")

	events := h.notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, notify.IngestCompleted, events[0].Kind)
	assert.Equal(t, 2, events[0].Counts["inserted"])
	assert.Equal(t, notify.IngestFailed, events[1].Kind)
}

func TestRebuildAndClearMonth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(memory.NewBlobStore())
	p := h.pipeline(twoPostings)
	_, err := p.Run(ctx)
	require.NoError(t, err)

	report, err := p.Rebuild(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Months, 1)
	assert.Equal(t, 2, report.Months[0].Records)
	assert.Equal(t, report.Months[0].StatsBefore, report.Months[0].StatsAfter)

	cleared, err := p.ClearMonth(ctx, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared.DeletedRecords)

	events := h.notifier.Events()
	require.Len(t, events, 3)
	assert.Equal(t, notify.RebuildCompleted, events[1].Kind)
	assert.Equal(t, notify.MonthCleared, events[2].Kind)
}

// reentrantBackend calls during on the first write it sees.
type reentrantBackend struct {
	*memory.BlobStore
	during func()
	fired  bool
}

func (b *reentrantBackend) PutIfVersion(
	ctx context.Context,
	key string,
	data []byte,
	opts objectstore.PutOptions,
	version int64,
) (objectstore.Attrs, error) {
	if !b.fired && b.during != nil {
		b.fired = true
		b.during()
	}
	return b.BlobStore.PutIfVersion(ctx, key, data, opts, version)
}

func TestDefaultLockerSerialisesInvocations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &reentrantBackend{BlobStore: memory.NewBlobStore()}
	h := newHarness(backend)
	p := h.pipeline()

	var overlapErr error
	backend.during = func() {
		_, overlapErr = p.Ingest(ctx, []posting.RawPosting{
			{Title: "Nurse", Link: "https://jobs.example.com/N", Description: "Night shifts"},
		})
	}
	res, err := p.Ingest(ctx, twoPostings.Postings)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	require.ErrorIs(t, overlapErr, lease.ErrHeld)

	again, err := p.Ingest(ctx, []posting.RawPosting{
		{Title: "Nurse", Link: "https://jobs.example.com/N", Description: "Night shifts"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Inserted)
}
