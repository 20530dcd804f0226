// Package statscache is the façade over the posting store: it loads the
// manifest, dedup index and current month's statistics, accepts new postings,
// and writes everything back in a fixed order.
package statscache

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/dedup"
	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/shard"
	"github.com/JakeFAU/realtime-job-postings/internal/stats"
)

// maxWriteAttempts bounds the re-read and merge rounds after lost races.
const maxWriteAttempts = 3

var (
	// ErrMonthNotFound is returned when an archive lookup names a month the
	// manifest does not know.
	ErrMonthNotFound = errors.New("month not found")
	// ErrInvalidMonth is returned for month keys that are not YYYY-MM.
	ErrInvalidMonth = errors.New("invalid month")
)

// AddResult reports the outcome of AddJob.
type AddResult struct {
	Inserted bool   `json:"inserted"`
	ID       string `json:"id"`
}

// SaveResult summarises what Save wrote.
type SaveResult struct {
	Days           int `json:"days"`
	RecordsWritten int `json:"recordsWritten"`
	Months         int `json:"months"`
}

// ArchivedMonth is a month's precomputed statistics plus its day index.
type ArchivedMonth struct {
	Month        string                   `json:"month"`
	TotalRecords int                      `json:"totalRecords"`
	Statistics   *stats.MonthlyStatistics `json:"statistics"`
	Days         []manifest.DayEntry      `json:"days"`
}

// MonthSummary is one row of an aggregated archive read.
type MonthSummary struct {
	Month        string        `json:"month"`
	TotalRecords int           `json:"totalRecords"`
	Summary      stats.Summary `json:"summary"`
}

// Aggregated is every month's statistics summed together.
type Aggregated struct {
	PerMonth     []MonthSummary           `json:"perMonth"`
	Merged       *stats.MonthlyStatistics `json:"mergedStatistics"`
	TotalRecords int                      `json:"totalRecords"`
}

// ClearMonthResult reports what ClearMonth removed.
type ClearMonthResult struct {
	Month          string `json:"month"`
	DeletedDays    int    `json:"deletedDays"`
	DeletedRecords int    `json:"deletedRecords"`
}

// Option customises a Cache.
type Option func(*Cache)

// WithCacheControl sets the Cache-Control header of statistics documents.
func WithCacheControl(v string) Option {
	return func(c *Cache) { c.cacheControl = v }
}

// Cache holds one invocation's view of the posting store. It is not safe for
// concurrent use; each invocation builds its own.
type Cache struct {
	store        *objectstore.Adapter
	manifests    *manifest.Manager
	shards       *shard.Store
	index        *dedup.Index
	clock        posting.Clock
	logger       *zap.Logger
	cacheControl string

	loaded  *manifest.Loaded
	months  map[string]*stats.MonthlyStatistics
	dirty   map[string]bool
	rebuild map[string]bool
	pending map[string][]posting.Record
}

// New creates a Cache over store.
func New(store *objectstore.Adapter, clock posting.Clock, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:        store,
		manifests:    manifest.NewManager(store, clock, logger),
		shards:       shard.New(store, logger),
		index:        dedup.NewIndex(store, dedup.PostingIndexKey, clock, logger),
		clock:        clock,
		logger:       logger.Named("statscache"),
		cacheControl: objectstore.StatsCacheControl,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.months = make(map[string]*stats.MonthlyStatistics)
	c.dirty = make(map[string]bool)
	c.rebuild = make(map[string]bool)
	c.pending = make(map[string][]posting.Record)
}

// Load reads the manifest (rolling it over to the current month), the dedup
// index and the current month's statistics. Unsaved additions are discarded.
func (c *Cache) Load(ctx context.Context) error {
	loaded, err := c.manifests.Load(ctx)
	if err != nil {
		return err
	}
	loaded.Manifest = manifest.Rollover(loaded.Manifest, c.clock.Now())
	if err := c.index.Load(ctx); err != nil {
		return err
	}
	c.reset()
	c.loaded = loaded
	if _, err := c.monthStats(ctx, loaded.Manifest.CurrentMonth, true); err != nil {
		return err
	}
	c.logger.Debug("posting store loaded",
		zap.String("current_month", loaded.Manifest.CurrentMonth),
		zap.Int("indexed_urls", c.index.Size()),
		zap.Int("total_records", loaded.Manifest.TotalRecordsAllTime))
	return nil
}

func (c *Cache) ensureLoaded(ctx context.Context) error {
	if c.loaded != nil {
		return nil
	}
	return c.Load(ctx)
}

// AddJob records rec unless its URL is already indexed. New records go into
// today's buffer and are folded into the month's statistics immediately.
func (c *Cache) AddJob(ctx context.Context, rec posting.Record) (AddResult, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return AddResult{}, err
	}
	key := posting.NormalizeURL(rec.URL)
	if key == "" {
		return AddResult{}, fmt.Errorf("posting %q has no url: %w", rec.ID, posting.ErrMalformedRecord)
	}
	if rec.ID == "" {
		rec.ID = posting.IDFromURL(rec.URL)
	}
	if c.index.Has(key) {
		return AddResult{Inserted: false, ID: rec.ID}, nil
	}

	now := c.clock.Now()
	day := manifest.DayKey(now)
	month := manifest.MonthOf(day)
	c.loaded.Manifest = manifest.Rollover(c.loaded.Manifest, now)

	s, err := c.monthStats(ctx, month, true)
	if err != nil {
		return AddResult{}, err
	}
	c.pending[day] = append(c.pending[day], rec)
	c.index.Add(key)
	stats.FoldIncremental(s, rec.Metadata)
	c.dirty[month] = true
	return AddResult{Inserted: true, ID: rec.ID}, nil
}

// Pending returns the number of buffered records not yet saved.
func (c *Cache) Pending() int {
	n := 0
	for _, recs := range c.pending {
		n += len(recs)
	}
	return n
}

// Save writes buffered days as merged shard pairs, then the manifest, then
// the dedup index, then every touched month's statistics.
//
// Shard and manifest writes are conditional on the versions read. When
// another writer got in first the day is re-read and merged again, the
// manifest is reloaded with this cache's days upserted, and the affected
// months' statistics are rebuilt from their shards instead of saved from
// the in-memory fold.
func (c *Cache) Save(ctx context.Context) (SaveResult, error) {
	var result SaveResult
	if c.loaded == nil {
		return result, nil
	}

	days := make([]string, 0, len(c.pending))
	for day := range c.pending {
		days = append(days, day)
	}
	sort.Strings(days)
	written := make([]manifest.DayEntry, 0, len(days))
	for _, day := range days {
		entry, added, err := c.writeDay(ctx, day)
		if err != nil {
			return result, err
		}
		c.loaded.Manifest.UpsertDay(entry)
		written = append(written, entry)
		result.Days++
		result.RecordsWritten += added
	}

	if err := c.saveManifest(ctx, written); err != nil {
		return result, err
	}
	if err := c.index.Save(ctx); err != nil {
		return result, err
	}

	months := make([]string, 0, len(c.dirty))
	for month := range c.dirty {
		months = append(months, month)
	}
	sort.Strings(months)
	for _, month := range months {
		s := c.months[month]
		if c.rebuild[month] || s == nil {
			rebuilt, err := c.rebuildMonth(ctx, month)
			if err != nil {
				return result, err
			}
			s = rebuilt
			c.months[month] = rebuilt
		}
		if err := stats.Save(ctx, c.store, s, c.cacheControl); err != nil {
			return result, err
		}
		result.Months++
	}

	c.pending = make(map[string][]posting.Record)
	c.dirty = make(map[string]bool)
	c.rebuild = make(map[string]bool)
	c.logger.Info("posting store saved",
		zap.Int("days", result.Days),
		zap.Int("records_written", result.RecordsWritten),
		zap.Int("months", result.Months))
	return result, nil
}

// writeDay merges day's buffer into its stored shards and writes them back
// conditionally, re-reading after each lost race.
func (c *Cache) writeDay(ctx context.Context, day string) (manifest.DayEntry, int, error) {
	month := manifest.MonthOf(day)
	incoming := c.pending[day]
	for attempt := 1; ; attempt++ {
		existing, err := c.shards.ReadDay(ctx, manifest.DayEntry{Date: day})
		if err != nil {
			return manifest.DayEntry{}, 0, err
		}
		merged := shard.Merge(existing.Records, incoming)
		added := len(merged) - len(existing.Records)
		if added != len(incoming) {
			c.logger.Warn("buffered postings already present in day shard; statistics will be rebuilt",
				zap.String("date", day), zap.Int("skipped", len(incoming)-added))
			c.rebuild[month] = true
		}
		entry, err := c.shards.WriteDayIfUnchanged(ctx, day, merged, existing)
		if err == nil {
			return entry, added, nil
		}
		if !errors.Is(err, objectstore.ErrConflict) || attempt == maxWriteAttempts {
			return manifest.DayEntry{}, 0, err
		}
		c.logger.Info("day shard changed underneath us, merging again",
			zap.String("date", day), zap.Int("attempt", attempt))
		c.rebuild[month] = true
		c.dirty[month] = true
	}
}

// saveManifest writes the loaded manifest. On a version conflict it reloads
// the stored manifest and upserts written on top of it. A stored day entry
// with more records than ours is newer, since day shards only grow by merge.
func (c *Cache) saveManifest(ctx context.Context, written []manifest.DayEntry) error {
	for attempt := 1; ; attempt++ {
		err := c.manifests.Save(ctx, c.loaded)
		if err == nil {
			return nil
		}
		if !errors.Is(err, objectstore.ErrConflict) || attempt == maxWriteAttempts {
			return err
		}
		c.logger.Info("manifest changed underneath us, merging again", zap.Int("attempt", attempt))
		fresh, err := c.manifests.Load(ctx)
		if err != nil {
			return err
		}
		fresh.Manifest = manifest.Rollover(fresh.Manifest, c.clock.Now())
		for _, entry := range written {
			if cur, ok := fresh.Manifest.Day(entry.Date); !ok || cur.RecordCount <= entry.RecordCount {
				fresh.Manifest.UpsertDay(entry)
			}
			month := manifest.MonthOf(entry.Date)
			c.rebuild[month] = true
			c.dirty[month] = true
		}
		c.loaded = fresh
	}
}

// Manifest returns a copy of the loaded manifest, or nil before Load.
func (c *Cache) Manifest() *manifest.Manifest {
	if c.loaded == nil {
		return nil
	}
	return c.loaded.Manifest.Clone()
}

// Current returns a finalized copy of the current month's live statistics.
func (c *Cache) Current(ctx context.Context) (*stats.MonthlyStatistics, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s, err := c.monthStats(ctx, c.loaded.Manifest.CurrentMonth, true)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// GetArchivedMonth returns month's stored statistics and day index without
// reading description shards.
func (c *Cache) GetArchivedMonth(ctx context.Context, month string) (*ArchivedMonth, error) {
	if _, err := manifest.ParseMonth(month); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	entry, ok := c.loaded.Manifest.Months[month]
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", month, ErrMonthNotFound)
	}
	s, err := c.monthStats(ctx, month, false)
	if err != nil {
		return nil, err
	}
	return &ArchivedMonth{
		Month:        month,
		TotalRecords: entry.TotalRecords,
		Statistics:   s.Clone(),
		Days:         append([]manifest.DayEntry{}, entry.Days...),
	}, nil
}

// GetAllArchivesAggregated sums every available month's statistics. The
// current month contributes its live aggregate, others their stored files.
func (c *Cache) GetAllArchivesAggregated(ctx context.Context) (*Aggregated, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	m := c.loaded.Manifest
	out := &Aggregated{
		PerMonth:     make([]MonthSummary, 0, len(m.AvailableMonths)),
		Merged:       stats.New("all"),
		TotalRecords: m.TotalRecordsAllTime,
	}
	for _, month := range m.AvailableMonths {
		s, err := c.monthStats(ctx, month, false)
		if err != nil {
			return nil, err
		}
		stats.Merge(out.Merged, s)
		out.PerMonth = append(out.PerMonth, MonthSummary{
			Month:        month,
			TotalRecords: m.Months[month].TotalRecords,
			Summary:      s.Summarize(),
		})
	}
	return out, nil
}

// ClearMonth deletes month's shards and statistics, empties its manifest
// entry and forgets its URLs so they can be ingested again.
func (c *Cache) ClearMonth(ctx context.Context, month string) (ClearMonthResult, error) {
	if _, err := manifest.ParseMonth(month); err != nil {
		return ClearMonthResult{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	if err := c.ensureLoaded(ctx); err != nil {
		return ClearMonthResult{}, err
	}
	entry, ok := c.loaded.Manifest.Months[month]
	if !ok {
		return ClearMonthResult{}, fmt.Errorf("clear %s: %w", month, ErrMonthNotFound)
	}

	result := ClearMonthResult{Month: month}
	for _, day := range entry.Days {
		metas, err := c.shards.ReadDayMetadata(ctx, day)
		if err != nil {
			return result, err
		}
		for _, meta := range metas {
			c.index.Remove(meta.URL)
		}
		for _, key := range []string{day.MetadataKey, day.DescriptionsKey} {
			if err := c.store.Delete(ctx, key); err != nil {
				return result, err
			}
		}
		result.DeletedDays++
	}
	for day := range c.pending {
		if manifest.MonthOf(day) == month {
			delete(c.pending, day)
		}
	}
	result.DeletedRecords = c.loaded.Manifest.ClearMonth(month)

	if err := c.manifests.Save(ctx, c.loaded); err != nil {
		return result, err
	}
	if err := c.index.Save(ctx); err != nil {
		return result, err
	}
	c.months[month] = stats.New(month)
	delete(c.dirty, month)
	if err := stats.Save(ctx, c.store, c.months[month], c.cacheControl); err != nil {
		return result, err
	}
	c.logger.Info("month cleared",
		zap.String("month", month),
		zap.Int("days", result.DeletedDays),
		zap.Int("records", result.DeletedRecords))
	return result, nil
}

// monthStats returns month's statistics from memory, the stored document, or
// a rebuild from metadata shards, in that order. When cache is true the
// result is kept for later mutation and a rebuilt document is marked dirty.
func (c *Cache) monthStats(ctx context.Context, month string, cache bool) (*stats.MonthlyStatistics, error) {
	if s, ok := c.months[month]; ok {
		return s, nil
	}
	s, err := stats.Load(ctx, c.store, month)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s, err = c.rebuildMonth(ctx, month)
		if err != nil {
			return nil, err
		}
		if cache && s.TotalJobs > 0 {
			c.dirty[month] = true
		}
	}
	if cache {
		c.months[month] = s
	}
	return s, nil
}

// rebuildMonth folds every metadata shard the manifest lists for month.
func (c *Cache) rebuildMonth(ctx context.Context, month string) (*stats.MonthlyStatistics, error) {
	var metas []posting.Metadata
	if entry, ok := c.loaded.Manifest.Months[month]; ok {
		for _, day := range entry.Days {
			dayMetas, err := c.shards.ReadDayMetadata(ctx, day)
			if err != nil {
				return nil, err
			}
			metas = append(metas, dayMetas...)
		}
	}
	if len(metas) > 0 {
		c.logger.Info("rebuilt month statistics from shards",
			zap.String("month", month), zap.Int("records", len(metas)))
	}
	return stats.RebuildFromScratch(month, metas), nil
}
