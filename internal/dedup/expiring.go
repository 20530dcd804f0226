package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// DefaultHorizon is how long scrape-cache entries live.
const DefaultHorizon = 48 * time.Hour

// Entry records when an identifier was cached and, when known, when the
// content it names was posted.
type Entry struct {
	AddedAt  time.Time  `json:"addedAt"`
	PostedAt *time.Time `json:"postedAt,omitempty"`
}

// reference is the instant expiry is measured from: content age when known,
// cache age otherwise.
func (e Entry) reference() time.Time {
	if e.PostedAt != nil && !e.PostedAt.IsZero() {
		return *e.PostedAt
	}
	return e.AddedAt
}

type expiringDocument struct {
	Entries   map[string]Entry `json:"entries"`
	Count     int              `json:"count"`
	UpdatedAt time.Time        `json:"updatedAt"`
	ClearedAt *time.Time       `json:"clearedAt,omitempty"`
}

// ExpiringIndex is the scrape-time cache: an Index whose entries are evicted
// once their reference time is older than the horizon. Eviction is lazy and
// runs on Load and Save.
type ExpiringIndex struct {
	store   *objectstore.Adapter
	key     string
	horizon time.Duration
	clock   posting.Clock
	logger  *zap.Logger

	entries   map[string]Entry
	added     map[string]Entry
	clearedAt *time.Time
	version   int64
	// evicted holds every id dropped so far. A conflict retry reloads the
	// stored document and evicts the same ids again; the set keeps them
	// from being counted twice.
	evicted map[string]struct{}
}

// NewExpiringIndex creates an expiring index at key. A non-positive horizon
// selects DefaultHorizon.
func NewExpiringIndex(
	store *objectstore.Adapter,
	key string,
	horizon time.Duration,
	clock posting.Clock,
	logger *zap.Logger,
) *ExpiringIndex {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiringIndex{
		store:   store,
		key:     key,
		horizon: horizon,
		clock:   clock,
		logger:  logger.Named("scrape_cache").With(zap.String("key", key)),
		entries: make(map[string]Entry),
		added:   make(map[string]Entry),
		evicted: make(map[string]struct{}),
	}
}

// Load fetches the stored entries and evicts the expired ones.
func (x *ExpiringIndex) Load(ctx context.Context) error {
	doc, version, err := objectstore.GetJSONVersioned[expiringDocument](ctx, x.store, x.key)
	if err != nil {
		return fmt.Errorf("load cache %s: %w", x.key, err)
	}
	x.entries = make(map[string]Entry)
	x.added = make(map[string]Entry)
	x.clearedAt = nil
	x.version = version
	if doc != nil {
		for id, e := range doc.Entries {
			if n := posting.NormalizeURL(id); n != "" {
				x.entries[n] = e
			}
		}
		x.clearedAt = doc.ClearedAt
	}
	if n := x.evict(); n > 0 {
		x.logger.Debug("evicted expired entries on load", zap.Int("evicted", n))
	}
	return nil
}

// Has reports whether id is cached and not expired as of load.
func (x *ExpiringIndex) Has(id string) bool {
	_, ok := x.entries[posting.NormalizeURL(id)]
	return ok
}

// Add caches id. postedAt may be zero when the content time is unknown.
func (x *ExpiringIndex) Add(id string, postedAt time.Time) bool {
	n := posting.NormalizeURL(id)
	if n == "" {
		return false
	}
	if _, ok := x.entries[n]; ok {
		return false
	}
	e := Entry{AddedAt: x.clock.Now().UTC()}
	if !postedAt.IsZero() {
		p := postedAt.UTC()
		e.PostedAt = &p
	}
	x.entries[n] = e
	x.added[n] = e
	return true
}

// Size returns the number of live entries.
func (x *ExpiringIndex) Size() int {
	return len(x.entries)
}

// Evicted returns how many distinct entries have been evicted since
// construction.
func (x *ExpiringIndex) Evicted() int {
	return len(x.evicted)
}

// Save evicts expired entries and persists the rest.
func (x *ExpiringIndex) Save(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		x.evict()
		version, err := x.store.PutJSONIfVersion(ctx, x.key, x.document(), x.version)
		if err == nil {
			x.version = version
			x.added = make(map[string]Entry)
			return nil
		}
		if !errors.Is(err, objectstore.ErrConflict) || attempt == maxSaveAttempts {
			return fmt.Errorf("save cache %s: %w", x.key, err)
		}
		added := x.added
		if err := x.Load(ctx); err != nil {
			return err
		}
		for id, e := range added {
			if _, ok := x.entries[id]; !ok {
				x.entries[id] = e
				x.added[id] = e
			}
		}
	}
}

// ClearAll empties the cache.
func (x *ExpiringIndex) ClearAll(ctx context.Context) (ClearResult, error) {
	deleted := len(x.entries)
	now := x.clock.Now().UTC()
	x.entries = make(map[string]Entry)
	x.added = make(map[string]Entry)
	x.clearedAt = &now
	if err := x.store.PutJSON(ctx, x.key, x.document(), ""); err != nil {
		return ClearResult{}, fmt.Errorf("clear cache %s: %w", x.key, err)
	}
	x.version = 0
	if _, version, err := objectstore.GetJSONVersioned[expiringDocument](ctx, x.store, x.key); err == nil {
		x.version = version
	}
	return ClearResult{DeletedCount: deleted}, nil
}

func (x *ExpiringIndex) evict() int {
	cutoff := x.clock.Now().UTC().Add(-x.horizon)
	n := 0
	for id, e := range x.entries {
		if e.reference().Before(cutoff) {
			delete(x.entries, id)
			delete(x.added, id)
			x.evicted[id] = struct{}{}
			n++
		}
	}
	return n
}

func (x *ExpiringIndex) document() expiringDocument {
	entries := make(map[string]Entry, len(x.entries))
	for id, e := range x.entries {
		entries[id] = e
	}
	return expiringDocument{
		Entries:   entries,
		Count:     len(entries),
		UpdatedAt: x.clock.Now().UTC(),
		ClearedAt: x.clearedAt,
	}
}
