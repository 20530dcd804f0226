// Package shard reads and writes one day of postings as a pair of gzip NDJSON
// blobs: metadata records and description records, joined by id.
package shard

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// MetadataKey is the object key of date's metadata shard.
func MetadataKey(date string) string {
	return fmt.Sprintf("jobs/%s/%s.meta.ndjson.gz", manifest.MonthOf(date), date)
}

// DescriptionsKey is the object key of date's description shard.
func DescriptionsKey(date string) string {
	return fmt.Sprintf("jobs/%s/%s.desc.ndjson.gz", manifest.MonthOf(date), date)
}

// ReadResult is a joined day plus any id-set divergence found while joining.
// The versions are the shards' store versions at read time (0 when absent).
type ReadResult struct {
	Records             []posting.Record
	MissingDescriptions int
	OrphanDescriptions  int

	MetadataVersion     int64
	DescriptionsVersion int64
	// orphans are descriptions with no metadata line. A writer that has
	// put its description shard but not yet its metadata shard leaves
	// these behind, so conditional rewrites carry them forward.
	orphans []posting.Description
}

// Consistent reports whether both shards held the same id set.
func (r ReadResult) Consistent() bool {
	return r.MissingDescriptions == 0 && r.OrphanDescriptions == 0
}

// Store reads and writes day shards.
type Store struct {
	store  *objectstore.Adapter
	logger *zap.Logger
}

// New creates a shard store.
func New(store *objectstore.Adapter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, logger: logger.Named("shard")}
}

// ReadDay loads both shards of day and joins them by id. Metadata without a
// description gets empty text; descriptions without metadata are dropped.
// Both cases are counted and logged but never fail the read.
//
// The description shard is read first. Writers put it first too, so a
// metadata line seen here always has its description unless the pair was
// damaged.
func (s *Store) ReadDay(ctx context.Context, day manifest.DayEntry) (ReadResult, error) {
	descKey := day.DescriptionsKey
	if descKey == "" {
		descKey = DescriptionsKey(day.Date)
	}
	descs, descVersion, err := objectstore.GetNDJSONGzippedVersioned[posting.Description](ctx, s.store, descKey)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read descriptions %s: %w", day.Date, err)
	}
	metaKey := day.MetadataKey
	if metaKey == "" {
		metaKey = MetadataKey(day.Date)
	}
	metas, metaVersion, err := objectstore.GetNDJSONGzippedVersioned[posting.Metadata](ctx, s.store, metaKey)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read metadata %s: %w", day.Date, err)
	}

	byID := make(map[string]posting.Description, len(descs))
	for _, d := range descs {
		byID[d.ID] = d
	}
	result := ReadResult{
		Records:             make([]posting.Record, 0, len(metas)),
		MetadataVersion:     metaVersion,
		DescriptionsVersion: descVersion,
	}
	used := make(map[string]struct{}, len(metas))
	for _, meta := range metas {
		desc, ok := byID[meta.ID]
		if !ok {
			result.MissingDescriptions++
			desc = posting.Description{ID: meta.ID}
		}
		used[meta.ID] = struct{}{}
		result.Records = append(result.Records, posting.Join(meta, desc))
	}
	for _, d := range descs {
		if _, ok := used[d.ID]; !ok {
			result.OrphanDescriptions++
			result.orphans = append(result.orphans, d)
		}
	}
	if !result.Consistent() {
		s.logger.Warn("shard pair id sets diverge",
			zap.String("date", day.Date),
			zap.Int("missing_descriptions", result.MissingDescriptions),
			zap.Int("orphan_descriptions", result.OrphanDescriptions))
	}
	return result, nil
}

// ReadDayMetadata loads only the metadata shard of day.
func (s *Store) ReadDayMetadata(ctx context.Context, day manifest.DayEntry) ([]posting.Metadata, error) {
	key := day.MetadataKey
	if key == "" {
		key = MetadataKey(day.Date)
	}
	metas, err := objectstore.GetNDJSONGzipped[posting.Metadata](ctx, s.store, key)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", day.Date, err)
	}
	return metas, nil
}

// WriteDay splits records and rewrites both shards of date unconditionally.
// The description shard is written first, so a present metadata shard
// implies its pair.
func (s *Store) WriteDay(ctx context.Context, date string, records []posting.Record) (manifest.DayEntry, error) {
	return s.write(ctx, date, records, nil)
}

// WriteDayIfUnchanged rewrites date's shards only if neither moved since
// prev was read. A lost race yields objectstore.ErrConflict; the caller
// re-reads and merges again. Orphan descriptions in prev are kept so a
// concurrent writer's half-written pair stays whole.
func (s *Store) WriteDayIfUnchanged(
	ctx context.Context,
	date string,
	records []posting.Record,
	prev ReadResult,
) (manifest.DayEntry, error) {
	return s.write(ctx, date, records, &prev)
}

func (s *Store) write(ctx context.Context, date string, records []posting.Record, prev *ReadResult) (manifest.DayEntry, error) {
	if _, err := manifest.ParseDay(date); err != nil {
		return manifest.DayEntry{}, err
	}
	metas := make([]posting.Metadata, 0, len(records))
	descs := make([]posting.Description, 0, len(records))
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		meta, desc := r.Split()
		metas = append(metas, meta)
		descs = append(descs, desc)
		ids[r.ID] = struct{}{}
	}

	entry := manifest.DayEntry{
		Date:            date,
		MetadataKey:     MetadataKey(date),
		DescriptionsKey: DescriptionsKey(date),
		RecordCount:     len(records),
	}
	var err error
	if prev == nil {
		if entry.DescriptionsBytes, err = objectstore.PutNDJSONGzipped(ctx, s.store, entry.DescriptionsKey, descs); err != nil {
			return manifest.DayEntry{}, fmt.Errorf("write descriptions %s: %w", date, err)
		}
		if entry.MetadataBytes, err = objectstore.PutNDJSONGzipped(ctx, s.store, entry.MetadataKey, metas); err != nil {
			return manifest.DayEntry{}, fmt.Errorf("write metadata %s: %w", date, err)
		}
	} else {
		for _, d := range prev.orphans {
			if _, ok := ids[d.ID]; !ok {
				descs = append(descs, d)
			}
		}
		if entry.DescriptionsBytes, _, err = objectstore.PutNDJSONGzippedIfVersion(
			ctx, s.store, entry.DescriptionsKey, descs, prev.DescriptionsVersion); err != nil {
			return manifest.DayEntry{}, fmt.Errorf("write descriptions %s: %w", date, err)
		}
		if entry.MetadataBytes, _, err = objectstore.PutNDJSONGzippedIfVersion(
			ctx, s.store, entry.MetadataKey, metas, prev.MetadataVersion); err != nil {
			return manifest.DayEntry{}, fmt.Errorf("write metadata %s: %w", date, err)
		}
	}
	s.logger.Debug("day shards written",
		zap.String("date", date),
		zap.Int("records", entry.RecordCount),
		zap.Int64("metadata_bytes", entry.MetadataBytes),
		zap.Int64("descriptions_bytes", entry.DescriptionsBytes))
	return entry, nil
}

// Merge appends the records of incoming whose ids are not already in
// existing, preserving order.
func Merge(existing, incoming []posting.Record) []posting.Record {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]posting.Record, 0, len(existing)+len(incoming))
	for _, batch := range [][]posting.Record{existing, incoming} {
		for _, r := range batch {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
