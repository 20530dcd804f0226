package manifest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-postings/internal/manifest"
)

func day(date string, n int) manifest.DayEntry {
	return manifest.DayEntry{
		Date:            date,
		MetadataKey:     "jobs/" + date[:7] + "/" + date + ".meta.ndjson.gz",
		DescriptionsKey: "jobs/" + date[:7] + "/" + date + ".desc.ndjson.gz",
		RecordCount:     n,
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	m := manifest.New(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-03", m.CurrentMonth)
	assert.Equal(t, []string{"2024-03"}, m.AvailableMonths)
	assert.Zero(t, m.TotalRecordsAllTime)
	assert.Empty(t, m.Months["2024-03"].Days)
	assert.NoError(t, m.Validate())
}

func TestRollover(t *testing.T) {
	t.Parallel()

	m := manifest.New(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	m.UpsertDay(day("2024-03-05", 4))
	m.UpsertDay(day("2024-03-07", 2))

	same := manifest.Rollover(m, time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC))
	assert.Same(t, m, same, "no rollover within the month")

	next := manifest.Rollover(m, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, next.Validate())
	assert.Equal(t, "2024-04", next.CurrentMonth)
	assert.Equal(t, []string{"2024-03", "2024-04"}, next.AvailableMonths)
	assert.Equal(t, m.Months["2024-03"], next.Months["2024-03"])
	assert.Equal(t, 6, next.TotalRecordsAllTime)

	assert.Equal(t, "2024-03", m.CurrentMonth, "input must not be mutated")
	assert.Len(t, m.AvailableMonths, 1)

	again := manifest.Rollover(next, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	assert.Same(t, next, again)

	stale := manifest.Rollover(next, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.Same(t, next, stale, "clock skew never moves the current month backwards")
}

func TestRolloverSkipsGapMonths(t *testing.T) {
	t.Parallel()

	m := manifest.New(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	next := manifest.Rollover(m, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"2024-01", "2024-04"}, next.AvailableMonths)
	assert.NoError(t, next.Validate())
}

func TestUpsertDay(t *testing.T) {
	t.Parallel()

	m := manifest.New(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	m.UpsertDay(day("2024-03-09", 3))
	m.UpsertDay(day("2024-03-02", 1))
	m.UpsertDay(day("2024-03-05", 2))
	m.UpsertDay(day("2024-03-05", 7))

	days := m.Months["2024-03"].Days
	require.Len(t, days, 3)
	assert.Equal(t, []string{"2024-03-02", "2024-03-05", "2024-03-09"},
		[]string{days[0].Date, days[1].Date, days[2].Date})
	assert.Equal(t, 11, m.Months["2024-03"].TotalRecords)
	assert.Equal(t, 11, m.TotalRecordsAllTime)

	got, ok := m.Day("2024-03-05")
	require.True(t, ok)
	assert.Equal(t, 7, got.RecordCount)
	_, ok = m.Day("2024-03-06")
	assert.False(t, ok)

	m.UpsertDay(day("2024-02-28", 5))
	assert.Equal(t, []string{"2024-02", "2024-03"}, m.AvailableMonths)
	assert.Equal(t, 16, m.TotalRecordsAllTime)
	assert.NoError(t, m.Validate())
}

func TestClearMonth(t *testing.T) {
	t.Parallel()

	m := manifest.New(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	m.UpsertDay(day("2024-03-01", 4))
	assert.Equal(t, 4, m.ClearMonth("2024-03"))
	assert.Zero(t, m.TotalRecordsAllTime)
	assert.Contains(t, m.AvailableMonths, "2024-03")
	assert.Zero(t, m.ClearMonth("1999-01"))
	assert.NoError(t, m.Validate())
}

func TestValidateReportsViolations(t *testing.T) {
	t.Parallel()

	m := &manifest.Manifest{
		CurrentMonth:    "2024-05",
		AvailableMonths: []string{"2024-03", "2024-02", "2024-03"},
		Months: map[string]manifest.MonthEntry{
			"2024-02": {TotalRecords: 9, Days: []manifest.DayEntry{day("2024-02-02", 1), day("2024-02-01", 1)}},
			"2024-03": {TotalRecords: 1, Days: []manifest.DayEntry{day("2024-04-01", 1)}},
		},
		TotalRecordsAllTime: 3,
	}
	err := m.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"duplicate 2024-03",
		"not sorted",
		"currentMonth 2024-05",
		"not strictly ascending",
		"filed under month 2024-03",
		"month 2024-02 totalRecords 9",
		"totalRecordsAllTime 3",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 12, 31, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, "2025-01", manifest.MonthKey(ts))
	assert.Equal(t, "2025-01-01", manifest.DayKey(ts))
	assert.Equal(t, "2025-01", manifest.MonthOf("2025-01-01"))

	_, err := manifest.ParseMonth("2024-13")
	assert.Error(t, err)
	_, err = manifest.ParseDay("2024-02-30")
	assert.Error(t, err)
}
