// Package dedup persists sets of normalised identifiers (posting URLs, job
// ids) so repeated feed pulls and clicks are recognised across invocations.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Well-known index keys.
const (
	PostingIndexKey = "jobs/url-index.json"
	AppliedIndexKey = "applied/job-index.json"
	ScrapeCacheKey  = "cache/scrape-index.json"
)

const maxSaveAttempts = 3

// ClearResult reports how many identifiers a ClearAll removed.
type ClearResult struct {
	DeletedCount int `json:"deletedCount"`
}

// document is the stored form of an Index.
type document struct {
	URLs      []string   `json:"urls"`
	Count     int        `json:"count"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClearedAt *time.Time `json:"clearedAt,omitempty"`
}

// Index is a persisted set of identifiers. Identifiers are trimmed and
// lower-cased on every lookup and insert.
//
// Save is a read-modify-write of a single shared document. When the backend
// supports conditional writes and another writer got there first, the remote
// set is reloaded and this invocation's additions are re-applied on top.
type Index struct {
	store  *objectstore.Adapter
	key    string
	clock  posting.Clock
	logger *zap.Logger

	ids       map[string]struct{}
	added     map[string]struct{}
	removed   map[string]struct{}
	clearedAt *time.Time
	version   int64
	loaded    bool
}

// NewIndex creates an index persisted at key.
func NewIndex(store *objectstore.Adapter, key string, clock posting.Clock, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		store:   store,
		key:     key,
		clock:   clock,
		logger:  logger.Named("dedup").With(zap.String("key", key)),
		ids:     make(map[string]struct{}),
		added:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the stored one, or an empty set.
func (x *Index) Load(ctx context.Context) error {
	doc, version, err := objectstore.GetJSONVersioned[document](ctx, x.store, x.key)
	if err != nil {
		return fmt.Errorf("load index %s: %w", x.key, err)
	}
	x.ids = make(map[string]struct{})
	x.added = make(map[string]struct{})
	x.removed = make(map[string]struct{})
	x.clearedAt = nil
	x.version = version
	x.loaded = true
	if doc == nil {
		return nil
	}
	for _, id := range doc.URLs {
		if n := posting.NormalizeURL(id); n != "" {
			x.ids[n] = struct{}{}
		}
	}
	x.clearedAt = doc.ClearedAt
	if doc.Count != len(x.ids) {
		x.logger.Warn("index count disagrees with contents", zap.Int("stored", doc.Count), zap.Int("actual", len(x.ids)))
	}
	return nil
}

// Loaded reports whether Load has run.
func (x *Index) Loaded() bool {
	return x.loaded
}

// Has reports whether id is present.
func (x *Index) Has(id string) bool {
	_, ok := x.ids[posting.NormalizeURL(id)]
	return ok
}

// Add inserts id and reports whether it was new. Blank ids are ignored.
func (x *Index) Add(id string) bool {
	n := posting.NormalizeURL(id)
	if n == "" {
		return false
	}
	if _, ok := x.ids[n]; ok {
		return false
	}
	x.ids[n] = struct{}{}
	x.added[n] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (x *Index) Remove(id string) bool {
	n := posting.NormalizeURL(id)
	if _, ok := x.ids[n]; !ok {
		return false
	}
	delete(x.ids, n)
	delete(x.added, n)
	x.removed[n] = struct{}{}
	return true
}

// Size returns the number of identifiers.
func (x *Index) Size() int {
	return len(x.ids)
}

// Save persists the set.
func (x *Index) Save(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		version, err := x.store.PutJSONIfVersion(ctx, x.key, x.document(), x.version)
		if err == nil {
			x.version = version
			x.added = make(map[string]struct{})
			x.removed = make(map[string]struct{})
			return nil
		}
		if !errors.Is(err, objectstore.ErrConflict) || attempt == maxSaveAttempts {
			return fmt.Errorf("save index %s: %w", x.key, err)
		}
		x.logger.Info("index changed underneath us, merging", zap.Int("attempt", attempt))
		if err := x.mergeRemote(ctx); err != nil {
			return err
		}
	}
}

// ClearAll empties the index and persists the empty set with a clearedAt mark.
func (x *Index) ClearAll(ctx context.Context) (ClearResult, error) {
	deleted := len(x.ids)
	now := x.clock.Now().UTC()
	x.ids = make(map[string]struct{})
	x.added = make(map[string]struct{})
	x.removed = make(map[string]struct{})
	x.clearedAt = &now
	if err := x.store.PutJSON(ctx, x.key, x.document(), ""); err != nil {
		return ClearResult{}, fmt.Errorf("clear index %s: %w", x.key, err)
	}
	x.version = 0
	if _, version, err := objectstore.GetJSONVersioned[document](ctx, x.store, x.key); err == nil {
		x.version = version
	}
	return ClearResult{DeletedCount: deleted}, nil
}

func (x *Index) mergeRemote(ctx context.Context) error {
	added, removed := x.added, x.removed
	if err := x.Load(ctx); err != nil {
		return err
	}
	for id := range added {
		x.Add(id)
	}
	for id := range removed {
		x.Remove(id)
	}
	return nil
}

func (x *Index) document() document {
	urls := make([]string, 0, len(x.ids))
	for id := range x.ids {
		urls = append(urls, id)
	}
	sort.Strings(urls)
	return document{
		URLs:      urls,
		Count:     len(urls),
		UpdatedAt: x.clock.Now().UTC(),
		ClearedAt: x.clearedAt,
	}
}
