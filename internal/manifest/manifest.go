// Package manifest models the root index of the posting store: which months
// and days have shards, their sizes and record counts, and the all-time total.
//
// Month rollover is a pure function of (Manifest, now). The Manager only
// moves documents in and out of the object store.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Key is the object key of the posting store manifest.
const Key = "jobs/manifest.json"

// CurrentVersion is the manifest document version written by this build.
const CurrentVersion = 1

const (
	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
)

// DayEntry locates one day's shard pair.
type DayEntry struct {
	Date              string `json:"date"`
	MetadataKey       string `json:"metadataKey"`
	DescriptionsKey   string `json:"descriptionsKey"`
	RecordCount       int    `json:"recordCount"`
	MetadataBytes     int64  `json:"metadataBytes"`
	DescriptionsBytes int64  `json:"descriptionsBytes"`
}

// MonthEntry aggregates the days of one month.
type MonthEntry struct {
	TotalRecords int        `json:"totalRecords"`
	Days         []DayEntry `json:"days"`
}

// Manifest is the posting store's root document.
type Manifest struct {
	Version             int                   `json:"version"`
	UpdatedAt           time.Time             `json:"updatedAt"`
	CurrentMonth        string                `json:"currentMonth"`
	AvailableMonths     []string              `json:"availableMonths"`
	Months              map[string]MonthEntry `json:"months"`
	TotalRecordsAllTime int                   `json:"totalRecordsAllTime"`
}

// MonthKey formats t as YYYY-MM in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format(monthLayout)
}

// DayKey formats t as YYYY-MM-DD in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// ParseMonth validates a YYYY-MM key.
func ParseMonth(month string) (time.Time, error) {
	t, err := time.Parse(monthLayout, month)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	return t, nil
}

// ParseDay validates a YYYY-MM-DD key.
func ParseDay(date string) (time.Time, error) {
	t, err := time.Parse(dayLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// MonthOf returns the YYYY-MM prefix of a YYYY-MM-DD key.
func MonthOf(date string) string {
	if len(date) < len(monthLayout) {
		return date
	}
	return date[:len(monthLayout)]
}

// New returns an empty manifest whose current month is now's month.
func New(now time.Time) *Manifest {
	month := MonthKey(now)
	return &Manifest{
		Version:         CurrentVersion,
		UpdatedAt:       now.UTC(),
		CurrentMonth:    month,
		AvailableMonths: []string{month},
		Months:          map[string]MonthEntry{month: {Days: []DayEntry{}}},
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.AvailableMonths = append([]string(nil), m.AvailableMonths...)
	c.Months = make(map[string]MonthEntry, len(m.Months))
	for k, v := range m.Months {
		v.Days = append([]DayEntry{}, v.Days...)
		c.Months[k] = v
	}
	return &c
}

// Rollover returns m advanced to now's month. When now is still in (or
// before) the current month, m is returned unchanged. The previous month's
// entry is carried over exactly as stored.
func Rollover(m *Manifest, now time.Time) *Manifest {
	month := MonthKey(now)
	if month <= m.CurrentMonth {
		return m
	}
	next := m.Clone()
	next.ensureMonth(month)
	next.CurrentMonth = month
	return next
}

// ensureMonth registers month in AvailableMonths and Months.
func (m *Manifest) ensureMonth(month string) {
	if m.Months == nil {
		m.Months = make(map[string]MonthEntry)
	}
	if _, ok := m.Months[month]; !ok {
		m.Months[month] = MonthEntry{Days: []DayEntry{}}
	}
	i := sort.SearchStrings(m.AvailableMonths, month)
	if i < len(m.AvailableMonths) && m.AvailableMonths[i] == month {
		return
	}
	m.AvailableMonths = append(m.AvailableMonths, "")
	copy(m.AvailableMonths[i+1:], m.AvailableMonths[i:])
	m.AvailableMonths[i] = month
}

// Day looks up the entry for date.
func (m *Manifest) Day(date string) (DayEntry, bool) {
	entry, ok := m.Months[MonthOf(date)]
	if !ok {
		return DayEntry{}, false
	}
	for _, d := range entry.Days {
		if d.Date == date {
			return d, true
		}
	}
	return DayEntry{}, false
}

// UpsertDay inserts or replaces the entry for day.Date, keeping days sorted,
// and refreshes the month and all-time totals.
func (m *Manifest) UpsertDay(day DayEntry) {
	month := MonthOf(day.Date)
	m.ensureMonth(month)
	entry := m.Months[month]
	i := sort.Search(len(entry.Days), func(i int) bool { return entry.Days[i].Date >= day.Date })
	if i < len(entry.Days) && entry.Days[i].Date == day.Date {
		entry.Days[i] = day
	} else {
		entry.Days = append(entry.Days, DayEntry{})
		copy(entry.Days[i+1:], entry.Days[i:])
		entry.Days[i] = day
	}
	m.Months[month] = entry
	m.RecomputeTotals()
}

// ClearMonth logically empties a month; its key stays available.
func (m *Manifest) ClearMonth(month string) (removed int) {
	entry, ok := m.Months[month]
	if !ok {
		return 0
	}
	removed = entry.TotalRecords
	m.Months[month] = MonthEntry{Days: []DayEntry{}}
	m.RecomputeTotals()
	return removed
}

// RecomputeTotals rederives every month total from its days and the
// all-time total from the months.
func (m *Manifest) RecomputeTotals() {
	total := 0
	for month, entry := range m.Months {
		sum := 0
		for _, d := range entry.Days {
			sum += d.RecordCount
		}
		entry.TotalRecords = sum
		m.Months[month] = entry
		total += sum
	}
	m.TotalRecordsAllTime = total
}

// Validate checks every structural invariant and reports all violations.
func (m *Manifest) Validate() error {
	var errs []error
	if _, err := ParseMonth(m.CurrentMonth); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(m.AvailableMonths))
	for i, month := range m.AvailableMonths {
		if seen[month] {
			errs = append(errs, fmt.Errorf("availableMonths has duplicate %s", month))
		}
		seen[month] = true
		if i > 0 && m.AvailableMonths[i-1] > month {
			errs = append(errs, fmt.Errorf("availableMonths is not sorted at %s", month))
		}
		if _, ok := m.Months[month]; !ok {
			errs = append(errs, fmt.Errorf("month %s is available but has no entry", month))
		}
	}
	if !seen[m.CurrentMonth] {
		errs = append(errs, fmt.Errorf("currentMonth %s is not in availableMonths", m.CurrentMonth))
	}

	total := 0
	months := make([]string, 0, len(m.Months))
	for month := range m.Months {
		months = append(months, month)
	}
	sort.Strings(months)
	for _, month := range months {
		entry := m.Months[month]
		if !seen[month] {
			errs = append(errs, fmt.Errorf("month %s has an entry but is not available", month))
		}
		sum := 0
		for i, d := range entry.Days {
			sum += d.RecordCount
			if MonthOf(d.Date) != month {
				errs = append(errs, fmt.Errorf("day %s filed under month %s", d.Date, month))
			}
			if i > 0 && entry.Days[i-1].Date >= d.Date {
				errs = append(errs, fmt.Errorf("days of %s not strictly ascending at %s", month, d.Date))
			}
		}
		if sum != entry.TotalRecords {
			errs = append(errs, fmt.Errorf("month %s totalRecords %d != sum of days %d", month, entry.TotalRecords, sum))
		}
		total += entry.TotalRecords
	}
	if total != m.TotalRecordsAllTime {
		errs = append(errs, fmt.Errorf("totalRecordsAllTime %d != sum of months %d", m.TotalRecordsAllTime, total))
	}
	return errors.Join(errs...)
}
