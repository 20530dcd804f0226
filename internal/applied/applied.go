// Package applied records job-application click events, one event per
// posting, in monthly gzip NDJSON shards.
package applied

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/dedup"
	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
	"github.com/JakeFAU/realtime-job-postings/internal/metrics"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// ManifestKey is the location of the applied-jobs manifest.
const ManifestKey = "applied/manifest.json"

const maxAddAttempts = 3

// ErrInvalidMonth is returned for month filters that are not YYYY-MM.
var ErrInvalidMonth = errors.New("invalid month")

// ShardKey returns the shard holding month's applications.
func ShardKey(month string) string {
	return "applied/" + month + ".ndjson.gz"
}

// Event is an incoming application click.
type Event struct {
	ID        string    `json:"id,omitempty"`
	JobID     string    `json:"jobId,omitempty"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Company   string    `json:"company,omitempty"`
	Source    string    `json:"source,omitempty"`
	AppliedAt time.Time `json:"appliedAt,omitempty"`
}

// AppliedJob is a stored application.
type AppliedJob struct {
	ID         string    `json:"id"`
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Company    string    `json:"company,omitempty"`
	Source     string    `json:"source,omitempty"`
	AppliedAt  time.Time `json:"appliedAt"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Manifest counts applications per month.
type Manifest struct {
	Version           int            `json:"version"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	Months            map[string]int `json:"months"`
	TotalApplications int            `json:"totalApplications"`
}

// Stats is the summary returned by GetStats.
type Stats struct {
	TotalApplications int            `json:"totalApplications"`
	ByMonth           map[string]int `json:"byMonth"`
}

// ClearResult reports what ClearAll removed.
type ClearResult struct {
	DeletedMonths int `json:"deletedMonths"`
	TotalDeleted  int `json:"totalDeleted"`
}

// IDGenerator issues event ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Store is the applied-jobs store. Writes through one Store are serialised;
// writers in other processes are detected by conditional shard and
// manifest writes and retried.
type Store struct {
	mu     sync.Mutex
	store  *objectstore.Adapter
	ids    IDGenerator
	clock  posting.Clock
	logger *zap.Logger
}

// New creates a Store.
func New(store *objectstore.Adapter, ids IDGenerator, clock posting.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{store: store, ids: ids, clock: clock, logger: logger.Named("applied")}
}

// AddApplication stores ev unless its job was already recorded, in which
// case it returns nil. When the event carries a URL the job id is always
// the URL's hash, so a click sent with a URL and one sent with only that
// hash count as the same job.
func (s *Store) AddApplication(ctx context.Context, ev Event) (*AppliedJob, error) {
	if !s.store.IsAvailable() {
		return nil, fmt.Errorf("add application: %w", objectstore.ErrStorageUnavailable)
	}
	jobID := strings.TrimSpace(ev.JobID)
	if posting.NormalizeURL(ev.URL) != "" {
		derived := posting.IDFromURL(ev.URL)
		if jobID != "" && jobID != derived {
			s.logger.Debug("jobId does not match url, using url hash",
				zap.String("job_id", jobID), zap.String("derived", derived))
		}
		jobID = derived
	}
	if jobID == "" {
		metrics.ObserveApplication("malformed")
		return nil, fmt.Errorf("application has neither jobId nor url: %w", posting.ErrMalformedRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 1; ; attempt++ {
		job, err := s.add(ctx, ev, jobID)
		if err == nil || !errors.Is(err, objectstore.ErrConflict) || attempt == maxAddAttempts {
			return job, err
		}
		s.logger.Info("applied store changed underneath us, retrying",
			zap.String("job_id", jobID), zap.Int("attempt", attempt))
	}
}

func (s *Store) add(ctx context.Context, ev Event, jobID string) (*AppliedJob, error) {
	index := dedup.NewIndex(s.store, dedup.AppliedIndexKey, s.clock, s.logger)
	if err := index.Load(ctx); err != nil {
		return nil, err
	}
	if index.Has(jobID) {
		metrics.ObserveApplication("duplicate")
		s.logger.Debug("application already recorded", zap.String("job_id", jobID))
		return nil, nil
	}
	m, version, err := s.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	job := AppliedJob{
		ID:         ev.ID,
		JobID:      jobID,
		URL:        strings.TrimSpace(ev.URL),
		Title:      ev.Title,
		Company:    ev.Company,
		Source:     ev.Source,
		AppliedAt:  ev.AppliedAt.UTC(),
		RecordedAt: now,
	}
	if job.ID == "" {
		if job.ID, err = s.ids.NewID(); err != nil {
			return nil, err
		}
	}
	if job.AppliedAt.IsZero() {
		job.AppliedAt = now
	}
	month := manifest.MonthKey(job.AppliedAt)

	jobs, shardVersion, err := objectstore.GetNDJSONGzippedVersioned[AppliedJob](ctx, s.store, ShardKey(month))
	if err != nil {
		return nil, fmt.Errorf("read applications %s: %w", month, err)
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if j.JobID != jobID {
			kept = append(kept, j)
		}
	}
	kept = append(kept, job)
	if _, _, err := objectstore.PutNDJSONGzippedIfVersion(ctx, s.store, ShardKey(month), kept, shardVersion); err != nil {
		return nil, fmt.Errorf("write applications %s: %w", month, err)
	}

	m.Months[month] = len(kept)
	if err := s.saveManifest(ctx, m, version); err != nil {
		return nil, err
	}
	index.Add(jobID)
	if err := index.Save(ctx); err != nil {
		return nil, err
	}
	metrics.ObserveApplication("recorded")
	s.logger.Info("application recorded",
		zap.String("id", job.ID), zap.String("job_id", jobID), zap.String("month", month))
	return &job, nil
}

// GetApplications returns month's applications, or every month's when month
// is empty, oldest month first.
func (s *Store) GetApplications(ctx context.Context, month string) ([]AppliedJob, error) {
	if !s.store.IsAvailable() {
		return nil, fmt.Errorf("get applications: %w", objectstore.ErrStorageUnavailable)
	}
	var months []string
	if month != "" {
		if _, err := manifest.ParseMonth(month); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
		}
		months = []string{month}
	} else {
		m, _, err := s.loadManifest(ctx)
		if err != nil {
			return nil, err
		}
		months = sortedMonths(m.Months)
	}
	out := []AppliedJob{}
	for _, mo := range months {
		jobs, err := objectstore.GetNDJSONGzipped[AppliedJob](ctx, s.store, ShardKey(mo))
		if err != nil {
			return nil, fmt.Errorf("read applications %s: %w", mo, err)
		}
		out = append(out, jobs...)
	}
	return out, nil
}

// GetStats summarises the manifest.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	if !s.store.IsAvailable() {
		return Stats{}, fmt.Errorf("applied stats: %w", objectstore.ErrStorageUnavailable)
	}
	m, _, err := s.loadManifest(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalApplications: m.TotalApplications, ByMonth: m.Months}, nil
}

// ClearAll deletes every month shard, resets the manifest and empties the
// job index.
func (s *Store) ClearAll(ctx context.Context) (ClearResult, error) {
	var result ClearResult
	if !s.store.IsAvailable() {
		return result, fmt.Errorf("clear applications: %w", objectstore.ErrStorageUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, _, err := s.loadManifest(ctx)
	if err != nil {
		return result, err
	}
	for _, month := range sortedMonths(m.Months) {
		if err := s.store.Delete(ctx, ShardKey(month)); err != nil {
			return result, fmt.Errorf("delete applications %s: %w", month, err)
		}
		result.DeletedMonths++
		result.TotalDeleted += m.Months[month]
	}
	empty := &Manifest{Months: map[string]int{}}
	if err := s.saveManifest(ctx, empty, -1); err != nil {
		return result, err
	}
	index := dedup.NewIndex(s.store, dedup.AppliedIndexKey, s.clock, s.logger)
	if err := index.Load(ctx); err != nil {
		return result, err
	}
	if _, err := index.ClearAll(ctx); err != nil {
		return result, err
	}
	s.logger.Info("applications cleared",
		zap.Int("months", result.DeletedMonths), zap.Int("total", result.TotalDeleted))
	return result, nil
}

func (s *Store) loadManifest(ctx context.Context) (*Manifest, int64, error) {
	m, version, err := objectstore.GetJSONVersioned[Manifest](ctx, s.store, ManifestKey)
	if err != nil {
		return nil, 0, fmt.Errorf("load applied manifest: %w", err)
	}
	if m == nil {
		m = &Manifest{}
	}
	if m.Months == nil {
		m.Months = make(map[string]int)
	}
	return m, version, nil
}

// saveManifest writes m conditionally on version; a negative version writes
// unconditionally.
func (s *Store) saveManifest(ctx context.Context, m *Manifest, version int64) error {
	m.Version = 1
	m.UpdatedAt = s.clock.Now().UTC()
	m.TotalApplications = 0
	for _, n := range m.Months {
		m.TotalApplications += n
	}
	var err error
	if version < 0 {
		err = s.store.PutJSON(ctx, ManifestKey, m, "")
	} else {
		_, err = s.store.PutJSONIfVersion(ctx, ManifestKey, m, version)
	}
	if err != nil {
		return fmt.Errorf("save applied manifest: %w", err)
	}
	return nil
}

func sortedMonths(months map[string]int) []string {
	out := make([]string, 0, len(months))
	for m := range months {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
