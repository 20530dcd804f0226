// Package rebuild re-derives extracted fields from stored shards and
// recomputes month statistics and manifest totals from scratch. It is a pure
// function of shard contents, so running it repairs statistics drift left by
// an interrupted invocation and running it twice changes nothing.
package rebuild

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
	"github.com/JakeFAU/realtime-job-postings/internal/metrics"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/shard"
	"github.com/JakeFAU/realtime-job-postings/internal/stats"
)

// MonthReport counts what the rebuild changed in one month.
type MonthReport struct {
	Month                string        `json:"month"`
	Days                 int           `json:"days"`
	Records              int           `json:"records"`
	SalaryFound          int           `json:"salaryFound"`
	SalaryCorrected      int           `json:"salaryCorrected"`
	RoleTypesAssigned    int           `json:"roleTypesAssigned"`
	RoleTypesChanged     int           `json:"roleTypesChanged"`
	HourBucketsGenerated int           `json:"hourBucketsGenerated"`
	StatsBefore          stats.Summary `json:"statsBefore"`
	StatsAfter           stats.Summary `json:"statsAfter"`
}

// Report is the outcome of one Run.
type Report struct {
	Months              []MonthReport `json:"months"`
	Skipped             []string      `json:"skipped,omitempty"`
	TotalRecordsAllTime int           `json:"totalRecordsAllTime"`
	Duration            time.Duration `json:"-"`
}

// Rebuilder rewrites shards and statistics for a set of months.
type Rebuilder struct {
	store        *objectstore.Adapter
	manifests    *manifest.Manager
	shards       *shard.Store
	classifier   posting.Classifier
	clock        posting.Clock
	logger       *zap.Logger
	cacheControl string
}

// New creates a Rebuilder. cacheControl applies to rewritten statistics
// documents; empty means objectstore.StatsCacheControl.
func New(
	store *objectstore.Adapter,
	classifier posting.Classifier,
	clock posting.Clock,
	logger *zap.Logger,
	cacheControl string,
) *Rebuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rebuilder{
		store:        store,
		manifests:    manifest.NewManager(store, clock, logger),
		shards:       shard.New(store, logger),
		classifier:   classifier,
		clock:        clock,
		logger:       logger.Named("rebuild"),
		cacheControl: cacheControl,
	}
}

// Run rebuilds months, or every available month when months is empty.
// Months the manifest does not know are reported as skipped.
func (r *Rebuilder) Run(ctx context.Context, months []string) (Report, error) {
	start := r.clock.Now()
	var report Report
	if !r.store.IsAvailable() {
		return report, fmt.Errorf("rebuild: %w", objectstore.ErrStorageUnavailable)
	}
	loaded, err := r.manifests.Load(ctx)
	if err != nil {
		return report, err
	}
	m := loaded.Manifest

	targets := months
	if len(targets) == 0 {
		targets = append([]string(nil), m.AvailableMonths...)
	}
	targets = uniqueSorted(targets)

	for _, month := range targets {
		if _, ok := m.Months[month]; !ok {
			r.logger.Warn("month not in manifest, skipping", zap.String("month", month))
			report.Skipped = append(report.Skipped, month)
			continue
		}
		mr, err := r.month(ctx, m, month)
		if err != nil {
			return report, fmt.Errorf("rebuild %s: %w", month, err)
		}
		report.Months = append(report.Months, mr)
	}

	m.RecomputeTotals()
	if err := r.manifests.Save(ctx, loaded); err != nil {
		return report, err
	}
	report.TotalRecordsAllTime = m.TotalRecordsAllTime
	report.Duration = r.clock.Now().Sub(start)
	r.logger.Info("rebuild complete",
		zap.Int("months", len(report.Months)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("total_records", report.TotalRecordsAllTime))
	return report, nil
}

func (r *Rebuilder) month(ctx context.Context, m *manifest.Manifest, month string) (MonthReport, error) {
	logger := r.logger.With(zap.String("month", month))
	mr := MonthReport{Month: month}

	before, err := stats.Load(ctx, r.store, month)
	if err != nil {
		return mr, err
	}
	mr.StatsBefore = before.Summarize()

	var metas []posting.Metadata
	days := append([]manifest.DayEntry(nil), m.Months[month].Days...)
	for _, day := range days {
		read, err := r.shards.ReadDay(ctx, day)
		if err != nil {
			return mr, err
		}
		if !read.Consistent() {
			logger.Warn("repairing shard pair",
				zap.String("date", day.Date),
				zap.Int("missing_descriptions", read.MissingDescriptions),
				zap.Int("orphan_descriptions", read.OrphanDescriptions))
		}
		for i := range read.Records {
			r.rederive(&read.Records[i], &mr)
			metas = append(metas, read.Records[i].Metadata)
		}
		entry, err := r.shards.WriteDay(ctx, day.Date, read.Records)
		if err != nil {
			return mr, err
		}
		m.UpsertDay(entry)
		mr.Days++
		mr.Records += len(read.Records)
	}

	after := stats.RebuildFromScratch(month, metas)
	if err := stats.Save(ctx, r.store, after, r.cacheControl); err != nil {
		return mr, err
	}
	mr.StatsAfter = after.Summarize()
	metrics.ObserveRebuild(month, mr.Records)
	logger.Info("month rebuilt",
		zap.Int("days", mr.Days),
		zap.Int("records", mr.Records),
		zap.Int("salary_found", mr.SalaryFound),
		zap.Int("salary_corrected", mr.SalaryCorrected),
		zap.Int("role_types_assigned", mr.RoleTypesAssigned),
		zap.Int("role_types_changed", mr.RoleTypesChanged),
		zap.Int("hour_buckets_generated", mr.HourBucketsGenerated))
	return mr, nil
}

// rederive refreshes the fields whose extraction can change between
// releases: salary, role type and category, and the time buckets.
func (r *Rebuilder) rederive(rec *posting.Record, mr *MonthReport) {
	c := r.classifier.Classify(posting.Input{
		Title:       rec.Title,
		Description: rec.Description,
		URL:         rec.URL,
		Location:    rec.Location,
	})

	switch {
	case rec.Salary == nil && c.Salary != nil:
		mr.SalaryFound++
	case rec.Salary != nil && !rec.Salary.Equal(c.Salary):
		mr.SalaryCorrected++
	}
	rec.Salary = c.Salary

	switch {
	case rec.RoleType == "" && c.Role.Type != "":
		mr.RoleTypesAssigned++
	case rec.RoleType != "" && (rec.RoleType != c.Role.Type || rec.RoleCategory != c.Role.Category):
		mr.RoleTypesChanged++
	}
	rec.RoleType = c.Role.Type
	rec.RoleCategory = c.Role.Category

	if rec.SetTimeBuckets() {
		mr.HourBucketsGenerated++
	}
	rec.SchemaVersion = posting.SchemaVersion
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
