package stats_test

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/stats"
)

func ptr[T any](v T) *T { return &v }

func meta(id string, mutate func(*posting.Metadata)) posting.Metadata {
	m := posting.Metadata{
		ID:            id,
		URL:           "https://jobs/" + id,
		PostedDate:    time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC),
		ExtractedDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	m.SetTimeBuckets()
	if mutate != nil {
		mutate(&m)
	}
	return m
}

func sample() []posting.Metadata {
	return []posting.Metadata{
		meta("a", func(m *posting.Metadata) {
			m.Industry, m.Seniority, m.RoleType, m.Company = "Technology", "senior", "Full-time", "Acme"
			m.City, m.Country, m.Region = "Greater London Area", "United Kingdom", "England"
			m.Keywords = []string{"remote", "remote", "equity"}
			m.ProgrammingSkills = []string{"Go"}
			m.YearsExperience = ptr(5)
			m.Salary = &posting.Salary{Min: ptr(60000.0), Max: ptr(80000.0), Currency: "gbp"}
		}),
		meta("b", func(m *posting.Metadata) {
			m.Industry, m.Seniority, m.RoleType = "Technology", "junior", "Contract"
			m.City, m.Country = "United States", "United States"
			m.Salary = &posting.Salary{Max: ptr(30.0), Period: "hour", Currency: "USD"}
		}),
		meta("c", func(m *posting.Metadata) {
			m.Industry = "Finance"
			m.City = "City of Austin"
			m.Salary = &posting.Salary{Min: ptr(0.0)}
			m.PostedDate = time.Date(2024, 3, 6, 23, 0, 0, 0, time.UTC)
			m.SetTimeBuckets()
		}),
		meta("d", func(m *posting.Metadata) {
			m.PostedHour, m.PostedWeekday = nil, ""
			m.Salary = &posting.Salary{Min: ptr(150000.0), Max: ptr(150000.0)}
		}),
	}
}

func TestRebuildFromScratchCounts(t *testing.T) {
	t.Parallel()

	s := stats.RebuildFromScratch("2024-03", sample())
	assert.Equal(t, 4, s.TotalJobs)
	assert.Equal(t, stats.Counts{"2024-03-04": 3, "2024-03-06": 1}, s.ByDate)
	assert.Equal(t, stats.Counts{"Technology": 2, "Finance": 1}, s.ByIndustry)
	assert.Equal(t, stats.Counts{"remote": 1, "equity": 1}, s.ByKeyword)
	assert.Equal(t, stats.Counts{"London": 1, "Austin": 1}, s.ByCity)
	assert.Equal(t, stats.Counts{"United Kingdom": 1, "United States": 1}, s.ByCountry)
	assert.Equal(t, stats.Counts{"London, England, United Kingdom": 1, "United States": 1, "Austin": 1}, s.ByLocation)
	assert.Equal(t, stats.Counts{"3-5": 1}, s.ByYearsExperience)
	assert.Equal(t, stats.Counts{"09": 2, "23": 1}, s.ByHour)
	assert.Equal(t, stats.Counts{"09": 2}, s.ByDayHour["Monday"])
	assert.Equal(t, stats.Counts{"23": 1}, s.ByDayHour["Wednesday"])

	sal := s.SalaryStats
	assert.Equal(t, 3, sal.TotalWithSalary, "zero midpoint excluded")
	assert.Equal(t, []float64{62400, 70000, 150000}, sal.Values)
	assert.InDelta(t, 94133.33, sal.Mean, 0.001)
	assert.InDelta(t, 70000, sal.Median, 0.001)
	assert.Equal(t, 2, sal.Ranges[stats.Range50to75k])
	assert.Equal(t, 1, sal.Ranges[stats.Range150kPlus])
	assert.Zero(t, sal.Ranges[stats.Range0to30k])
	assert.Equal(t, stats.Counts{"GBP": 1, "USD": 1, "UNKNOWN": 1}, sal.ByCurrency)
	require.Contains(t, sal.ByIndustry, "Technology")
	assert.Equal(t, 2, sal.ByIndustry["Technology"].Count)
	assert.InDelta(t, 66200, sal.ByIndustry["Technology"].Mean, 0.001)
}

func TestSalaryBucketBoundaries(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		1:         stats.Range0to30k,
		29999.99:  stats.Range0to30k,
		30000:     stats.Range30to50k,
		49999:     stats.Range30to50k,
		50000:     stats.Range50to75k,
		75000:     stats.Range75to100k,
		100000:    stats.Range100to150k,
		150000:    stats.Range150kPlus,
		1_000_000: stats.Range150kPlus,
	}
	for v, want := range cases {
		assert.Equal(t, want, stats.SalaryBucket(v), "%v", v)
	}

	s := stats.RebuildFromScratch("2024-03", []posting.Metadata{
		meta("x", func(m *posting.Metadata) { m.Salary = &posting.Salary{Min: ptr(20000.0), Max: ptr(40000.0)} }),
		meta("y", func(m *posting.Metadata) { m.Salary = &posting.Salary{Min: ptr(-5.0)} }),
	})
	assert.Equal(t, 1, s.SalaryStats.Ranges[stats.Range30to50k])
	assert.Zero(t, s.SalaryStats.Ranges[stats.Range0to30k])
	assert.Equal(t, 1, s.SalaryStats.TotalWithSalary)
}

func TestFoldOrderInvariance(t *testing.T) {
	t.Parallel()

	records := sample()
	for i := 0; i < 20; i++ {
		records = append(records, meta(string(rune('e'+i)), func(m *posting.Metadata) {
			m.Industry = []string{"Technology", "Retail", "Finance"}[i%3]
			m.Salary = &posting.Salary{Min: ptr(float64(20000 + i*7919))}
			m.Keywords = []string{"k" + string(rune('a'+i%4))}
		}))
	}
	want, err := json.Marshal(stats.RebuildFromScratch("2024-03", records))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]posting.Metadata(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := json.Marshal(stats.RebuildFromScratch("2024-03", shuffled))
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got))
		assert.Equal(t, want, got, "byte-identical output")
	}
}

func TestIncrementalMatchesRebuild(t *testing.T) {
	t.Parallel()

	records := sample()
	incremental := stats.New("2024-03")
	for i := len(records) - 1; i >= 0; i-- {
		stats.FoldIncremental(incremental, records[i])
	}
	incremental.Finalize()

	assert.Equal(t, stats.RebuildFromScratch("2024-03", records), incremental)
}

func TestMergeIsAdditive(t *testing.T) {
	t.Parallel()

	records := sample()
	march := stats.RebuildFromScratch("2024-03", records[:2])
	april := stats.RebuildFromScratch("2024-04", records[2:])

	merged := stats.New("all")
	stats.Merge(merged, march)
	stats.Merge(merged, april)

	whole := stats.RebuildFromScratch("all", records)
	assert.Equal(t, whole, merged)
	assert.Equal(t, march.ByIndustry["Technology"]+april.ByIndustry["Technology"], merged.ByIndustry["Technology"])
	assert.Equal(t, 2, march.TotalJobs, "sources are not modified")
}

func TestDocumentRoundTripKeepsDeterminism(t *testing.T) {
	t.Parallel()

	s := stats.RebuildFromScratch("2024-03", sample())
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded stats.MonthlyStatistics
	require.NoError(t, json.Unmarshal(raw, &decoded))
	decoded.Finalize()
	again, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestOlderDocumentsGainMissingMaps(t *testing.T) {
	t.Parallel()

	var s stats.MonthlyStatistics
	require.NoError(t, json.Unmarshal([]byte(`{"month":"2023-01","totalJobs":2,"byIndustry":{"Retail":2}}`), &s))
	stats.FoldIncremental(&s, meta("z", func(m *posting.Metadata) { m.RoleType = "Full-time" }))
	assert.Equal(t, 3, s.TotalJobs)
	assert.Equal(t, 1, s.ByRoleType["Full-time"])
	assert.NotNil(t, s.ByDayHour)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s := stats.RebuildFromScratch("2024-03", sample())
	assert.Equal(t, stats.Summary{TotalJobs: 4, TotalWithSalary: 3, WithRoleType: 2, HourBuckets: 3}, s.Summarize())
	var none *stats.MonthlyStatistics
	assert.Equal(t, stats.Summary{}, none.Summarize())
}

func TestNormalizeCity(t *testing.T) {
	t.Parallel()

	cases := []struct{ city, country, want string }{
		{"Greater London Area", "United Kingdom", "London"},
		{"City of Austin", "", "Austin"},
		{"San Francisco Bay Area", "", "San Francisco Bay"},
		{"Boston Metropolitan Area", "", "Boston"},
		{"United States", "", ""},
		{"Germany", "Germany", ""},
		{"Remote", "", ""},
		{"Singapore", "Singapore", "Singapore"},
		{"  New   York ", "", "New York"},
		{"", "", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stats.NormalizeCity(tc.city, tc.country), tc.city)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stats/2024-03.json", stats.Key("2024-03"))
}
