package rebuild_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/clock/fake"
	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore/memory"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/rebuild"
	"github.com/JakeFAU/realtime-job-postings/internal/shard"
	"github.com/JakeFAU/realtime-job-postings/internal/stats"
)

// payClassifier finds a salary only in descriptions mentioning "$100k" and
// labels everything a full-time engineering role.
type payClassifier struct{}

func (payClassifier) Classify(in posting.Input) posting.Classification {
	c := posting.Classification{Role: posting.Role{Type: "Full-time", Category: "Engineering"}}
	if strings.Contains(in.Description, "$100k") {
		v := 100000.0
		c.Salary = &posting.Salary{Min: &v, Max: &v, Currency: "USD", Period: posting.PeriodYear, Raw: "$100k"}
	}
	return c
}

type fixture struct {
	backend *memory.BlobStore
	store   *objectstore.Adapter
	clock   *fake.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := memory.NewBlobStore()
	return &fixture{
		backend: backend,
		store:   objectstore.NewAdapter("memory", backend, zap.NewNop()),
		clock:   fake.New(time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)),
	}
}

func legacyRecord(url, desc string, posted time.Time) posting.Record {
	return posting.Record{
		Metadata: posting.Metadata{
			SchemaVersion: 1,
			ID:            posting.IDFromURL(url),
			Title:         "Engineer",
			URL:           url,
			PostedDate:    posted,
			ExtractedDate: posted,
			Industry:      "Technology",
		},
		Description: desc,
	}
}

// seed writes legacy day shards and a manifest pointing at them.
func (f *fixture) seed(t *testing.T, days map[string][]posting.Record) {
	t.Helper()
	ctx := context.Background()
	shards := shard.New(f.store, zap.NewNop())
	mgr := manifest.NewManager(f.store, f.clock, zap.NewNop())
	loaded, err := mgr.Load(ctx)
	require.NoError(t, err)
	for date, recs := range days {
		entry, err := shards.WriteDay(ctx, date, recs)
		require.NoError(t, err)
		loaded.Manifest.UpsertDay(entry)
	}
	require.NoError(t, mgr.Save(ctx, loaded))
}

func (f *fixture) raw(t *testing.T, key string) []byte {
	t.Helper()
	data, _, err := f.backend.Get(context.Background(), key)
	require.NoError(t, err)
	return data
}

func TestRunRederivesLegacyRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	posted := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	f.seed(t, map[string][]posting.Record{
		"2024-03-04": {
			legacyRecord("https://x/1", "pays $100k", posted),
			legacyRecord("https://x/2", "no pay listed", posted),
		},
		"2024-03-05": {
			legacyRecord("https://x/3", "also $100k", posted.Add(24*time.Hour)),
		},
	})

	r := rebuild.New(f.store, payClassifier{}, f.clock, zap.NewNop(), "")
	report, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Months, 1)

	mr := report.Months[0]
	assert.Equal(t, "2024-03", mr.Month)
	assert.Equal(t, 2, mr.Days)
	assert.Equal(t, 3, mr.Records)
	assert.Equal(t, 2, mr.SalaryFound)
	assert.Zero(t, mr.SalaryCorrected)
	assert.Equal(t, 3, mr.RoleTypesAssigned)
	assert.Equal(t, 3, mr.HourBucketsGenerated)
	assert.Zero(t, mr.StatsBefore.TotalJobs)
	assert.Equal(t, stats.Summary{TotalJobs: 3, TotalWithSalary: 2, WithRoleType: 3, HourBuckets: 3}, mr.StatsAfter)
	assert.Equal(t, 3, report.TotalRecordsAllTime)

	read, err := shard.New(f.store, zap.NewNop()).ReadDay(context.Background(), manifest.DayEntry{Date: "2024-03-04"})
	require.NoError(t, err)
	require.Len(t, read.Records, 2)
	first := read.Records[0]
	assert.Equal(t, posting.SchemaVersion, first.SchemaVersion)
	require.NotNil(t, first.PostedHour)
	assert.Equal(t, 9, *first.PostedHour)
	assert.Equal(t, "Monday", first.PostedWeekday)
	require.NotNil(t, first.Salary)
	assert.Equal(t, "pays $100k", first.Description)

	s, err := stats.Load(context.Background(), f.store, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 2, s.SalaryStats.Ranges["100-150k"])
	assert.Equal(t, 3, s.ByRoleType["Full-time"])
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	posted := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	f.seed(t, map[string][]posting.Record{
		"2024-03-04": {
			legacyRecord("https://x/1", "pays $100k", posted),
			legacyRecord("https://x/2", "none", posted.Add(time.Hour)),
		},
	})
	keys := []string{
		shard.MetadataKey("2024-03-04"),
		shard.DescriptionsKey("2024-03-04"),
		stats.Key("2024-03"),
	}

	r := rebuild.New(f.store, payClassifier{}, f.clock, zap.NewNop(), "")
	_, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	first := make(map[string][]byte, len(keys))
	for _, k := range keys {
		first[k] = f.raw(t, k)
	}

	f.clock.Advance(time.Hour)
	second, err := r.Run(context.Background(), []string{"2024-03"})
	require.NoError(t, err)
	for _, k := range keys {
		assert.Equal(t, first[k], f.raw(t, k), k)
	}

	mr := second.Months[0]
	assert.Zero(t, mr.SalaryFound)
	assert.Zero(t, mr.SalaryCorrected)
	assert.Zero(t, mr.RoleTypesAssigned)
	assert.Zero(t, mr.RoleTypesChanged)
	assert.Zero(t, mr.HourBucketsGenerated)
	assert.Equal(t, mr.StatsBefore, mr.StatsAfter)
}

func TestRunCorrectsChangedExtraction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	posted := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	old := 5.0
	rec := legacyRecord("https://x/1", "pays $100k", posted)
	rec.Salary = &posting.Salary{Min: &old, Currency: "USD", Period: posting.PeriodHour}
	rec.RoleType = "Contract"
	rec.RoleCategory = "Engineering"
	f.seed(t, map[string][]posting.Record{"2024-03-04": {rec}})

	report, err := rebuild.New(f.store, payClassifier{}, f.clock, zap.NewNop(), "").Run(context.Background(), nil)
	require.NoError(t, err)
	mr := report.Months[0]
	assert.Equal(t, 1, mr.SalaryCorrected)
	assert.Equal(t, 1, mr.RoleTypesChanged)
	assert.Zero(t, mr.SalaryFound)
	assert.Zero(t, mr.RoleTypesAssigned)
}

func TestRunRepairsDriftedStatistics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	posted := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	f.seed(t, map[string][]posting.Record{
		"2024-03-04": {legacyRecord("https://x/1", "none", posted)},
	})
	drifted := stats.New("2024-03")
	drifted.TotalJobs = 40
	drifted.ByIndustry["Technology"] = 40
	require.NoError(t, stats.Save(context.Background(), f.store, drifted, ""))

	report, err := rebuild.New(f.store, payClassifier{}, f.clock, zap.NewNop(), "").Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 40, report.Months[0].StatsBefore.TotalJobs)
	assert.Equal(t, 1, report.Months[0].StatsAfter.TotalJobs)

	s, err := stats.Load(context.Background(), f.store, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 1, s.ByIndustry["Technology"])
}

func TestRunRepairsMissingDescriptionShard(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	posted := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	f.seed(t, map[string][]posting.Record{
		"2024-03-04": {legacyRecord("https://x/1", "lost text", posted)},
	})
	require.NoError(t, f.store.Delete(context.Background(), shard.DescriptionsKey("2024-03-04")))

	_, err := rebuild.New(f.store, payClassifier{}, f.clock, zap.NewNop(), "").Run(context.Background(), nil)
	require.NoError(t, err)

	read, err := shard.New(f.store, zap.NewNop()).ReadDay(context.Background(), manifest.DayEntry{Date: "2024-03-04"})
	require.NoError(t, err)
	assert.True(t, read.Consistent())
	require.Len(t, read.Records, 1)
	assert.Empty(t, read.Records[0].Description)
}

func TestRunSkipsUnknownMonths(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, map[string][]posting.Record{
		"2024-03-04": {legacyRecord("https://x/1", "none", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))},
	})

	report, err := rebuild.New(f.store, payClassifier{}, f.clock, zap.NewNop(), "").
		Run(context.Background(), []string{"2023-01", "2024-03", "2023-01"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-01"}, report.Skipped)
	require.Len(t, report.Months, 1)
	assert.Equal(t, 1, report.TotalRecordsAllTime)
}

func TestRunWithoutStore(t *testing.T) {
	t.Parallel()

	r := rebuild.New(objectstore.NewAdapter("none", nil, nil), payClassifier{}, fake.New(time.Now()), nil, "")
	_, err := r.Run(context.Background(), nil)
	assert.ErrorIs(t, err, objectstore.ErrStorageUnavailable)
}
