package posting_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

func ptr[T any](v T) *T { return &v }

func TestNormalizeURLAndID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://jobs.example.com/a", posting.NormalizeURL("  HTTPS://Jobs.Example.com/A \n"))
	id := posting.IDFromURL("https://jobs.example.com/a")
	assert.Len(t, id, 16)
	assert.Equal(t, id, posting.IDFromURL(" https://JOBS.example.com/a"))
	assert.NotEqual(t, id, posting.IDFromURL("https://jobs.example.com/b"))
}

func TestSalaryMidpointAndAnnual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		salary *posting.Salary
		mid    float64
		annual float64
		ok     bool
	}{
		{name: "nil", salary: nil},
		{name: "no bounds", salary: &posting.Salary{Currency: "USD"}},
		{name: "range", salary: &posting.Salary{Min: ptr(40000.0), Max: ptr(60000.0)}, mid: 50000, annual: 50000, ok: true},
		{name: "min only", salary: &posting.Salary{Min: ptr(30000.0)}, mid: 30000, annual: 30000, ok: true},
		{name: "max only hourly", salary: &posting.Salary{Max: ptr(25.0), Period: "hour"}, mid: 25, annual: 52000, ok: true},
		{name: "monthly", salary: &posting.Salary{Min: ptr(4000.0), Max: ptr(6000.0), Period: "month"}, mid: 5000, annual: 60000, ok: true},
		{name: "zero excluded", salary: &posting.Salary{Min: ptr(0.0), Max: ptr(0.0)}, mid: 0, ok: false},
		{name: "negative excluded", salary: &posting.Salary{Min: ptr(-10.0)}, mid: -10, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if mid, ok := tc.salary.Midpoint(); ok {
				assert.InDelta(t, tc.mid, mid, 0.001)
			}
			annual, ok := tc.salary.Annual()
			assert.Equal(t, tc.ok, ok)
			assert.InDelta(t, tc.annual, annual, 0.001)
		})
	}
}

func TestSalaryEqual(t *testing.T) {
	t.Parallel()

	a := &posting.Salary{Min: ptr(1.0), Max: ptr(2.0), Currency: "USD", Period: "year", Raw: "x"}
	b := &posting.Salary{Min: ptr(1.0), Max: ptr(2.0), Currency: "USD", Period: "year", Raw: "y"}
	assert.True(t, a.Equal(b))
	b.Max = nil
	assert.False(t, a.Equal(b))
	var none *posting.Salary
	assert.True(t, none.Equal(nil))
	assert.False(t, none.Equal(a))
}

func TestBuild(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	raw := posting.RawPosting{
		Title:       " Senior Go Engineer ",
		Link:        "https://jobs.example.com/1",
		PubDate:     "Mon, 04 Mar 2024 09:30:00 +0000",
		Description: "Build things.",
		Company:     "Acme",
		Location:    "Austin, TX, USA",
	}
	c := posting.Classification{
		Industry:  "Technology",
		Seniority: "senior",
		Location:  posting.Location{City: "Austin", Region: "TX", Country: "United States"},
		Role:      posting.Role{Type: "Full-time", Category: "Engineering"},
	}

	rec, err := posting.Build(raw, c, now)
	require.NoError(t, err)
	assert.Equal(t, posting.IDFromURL(raw.Link), rec.ID)
	assert.Equal(t, "Senior Go Engineer", rec.Title)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC), rec.PostedDate)
	assert.Equal(t, now, rec.ExtractedDate)
	assert.Equal(t, "Austin", rec.City)
	assert.Equal(t, "Full-time", rec.RoleType)
	require.NotNil(t, rec.PostedHour)
	assert.Equal(t, 9, *rec.PostedHour)
	assert.Equal(t, "Monday", rec.PostedWeekday)
	assert.Equal(t, posting.SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "Build things.", rec.Description)
}

func TestBuildFallsBackToNowForBadDates(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)
	rec, err := posting.Build(posting.RawPosting{Link: "https://x", PubDate: "yesterday-ish"}, posting.Classification{}, now)
	require.NoError(t, err)
	assert.Equal(t, now, rec.PostedDate)
	assert.Equal(t, 23, *rec.PostedHour)
}

func TestBuildRejectsMissingLink(t *testing.T) {
	t.Parallel()

	_, err := posting.Build(posting.RawPosting{Title: "no link", Link: "   "}, posting.Classification{}, time.Now())
	assert.True(t, errors.Is(err, posting.ErrMalformedRecord))
}

func TestSplitJoin(t *testing.T) {
	t.Parallel()

	rec := posting.Record{Metadata: posting.Metadata{ID: "abc", Title: "t"}, Description: "body"}
	meta, desc := rec.Split()
	assert.Equal(t, "abc", desc.ID)
	assert.Equal(t, "body", desc.Text)
	assert.Equal(t, rec, posting.Join(meta, desc))
}

func TestOldRecordsReadWithoutNewFields(t *testing.T) {
	t.Parallel()

	old := `{"id":"abc","title":"t","url":"https://x","postedDate":"2024-01-02T03:04:05Z","extractedDate":"2024-01-02T03:04:05Z","salary":{"min":50000}}`
	var meta posting.Metadata
	require.NoError(t, json.Unmarshal([]byte(old), &meta))
	assert.Nil(t, meta.PostedHour)
	assert.Empty(t, meta.RoleType)
	assert.Zero(t, meta.SchemaVersion)

	assert.True(t, meta.SetTimeBuckets())
	assert.Equal(t, 3, *meta.PostedHour)
	assert.Equal(t, "Tuesday", meta.PostedWeekday)
	assert.False(t, meta.SetTimeBuckets())
}

func TestParsePubDate(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"Tue, 05 Mar 2024 10:00:00 +0000",
		"Tue, 05 Mar 2024 10:00:00 GMT",
		"2024-03-05T10:00:00Z",
		"2024-03-05T10:00:00",
	} {
		got, err := posting.ParsePubDate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), got, raw)
	}
	_, err := posting.ParsePubDate("")
	assert.Error(t, err)
}
