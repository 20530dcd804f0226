// Package stats folds posting metadata into per-month aggregate counters.
//
// Every counter is a commutative increment and salary figures are kept as
// sorted value lists, so folding the same records in any order yields the
// same document byte for byte once Finalize has run.
package stats

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Counts maps a dimension value to the number of postings carrying it.
type Counts map[string]int

// MonthlyStatistics is the aggregate document stored at Key(month).
type MonthlyStatistics struct {
	Month              string            `json:"month"`
	TotalJobs          int               `json:"totalJobs"`
	ByIndustry         Counts            `json:"byIndustry"`
	ByCertificate      Counts            `json:"byCertificate"`
	ByKeyword          Counts            `json:"byKeyword"`
	BySeniority        Counts            `json:"bySeniority"`
	ByLocation         Counts            `json:"byLocation"`
	ByCountry          Counts            `json:"byCountry"`
	ByCity             Counts            `json:"byCity"`
	ByRegion           Counts            `json:"byRegion"`
	ByCompany          Counts            `json:"byCompany"`
	BySoftware         Counts            `json:"bySoftware"`
	ByProgrammingSkill Counts            `json:"byProgrammingSkill"`
	ByYearsExperience  Counts            `json:"byYearsExperience"`
	ByAcademicDegree   Counts            `json:"byAcademicDegree"`
	ByRoleType         Counts            `json:"byRoleType"`
	ByRoleCategory     Counts            `json:"byRoleCategory"`
	ByHour             Counts            `json:"byHour"`
	ByDayHour          map[string]Counts `json:"byDayHour"`
	ByDate             Counts            `json:"byDate"`
	SalaryStats        SalaryStats       `json:"salaryStats"`
}

// Key is the object key of month's statistics document.
func Key(month string) string {
	return fmt.Sprintf("stats/%s.json", month)
}

// New returns zeroed statistics for month.
func New(month string) *MonthlyStatistics {
	s := &MonthlyStatistics{Month: month}
	s.EnsureMaps()
	return s
}

// EnsureMaps allocates any nil map, e.g. after decoding an older document.
func (s *MonthlyStatistics) EnsureMaps() {
	for _, m := range s.counters() {
		if *m == nil {
			*m = Counts{}
		}
	}
	if s.ByDayHour == nil {
		s.ByDayHour = map[string]Counts{}
	}
	s.SalaryStats.ensureMaps()
}

func (s *MonthlyStatistics) counters() []*Counts {
	return []*Counts{
		&s.ByIndustry, &s.ByCertificate, &s.ByKeyword, &s.BySeniority,
		&s.ByLocation, &s.ByCountry, &s.ByCity, &s.ByRegion, &s.ByCompany,
		&s.BySoftware, &s.ByProgrammingSkill, &s.ByYearsExperience,
		&s.ByAcademicDegree, &s.ByRoleType, &s.ByRoleCategory, &s.ByHour, &s.ByDate,
	}
}

// FoldIncremental adds one record to s and returns s. Means and medians are
// stale until Finalize runs.
func FoldIncremental(s *MonthlyStatistics, meta posting.Metadata) *MonthlyStatistics {
	s.EnsureMaps()
	s.TotalJobs++

	ref := meta.ReferenceTime()
	s.ByDate.inc(ref.Format("2006-01-02"))

	s.ByIndustry.inc(meta.Industry)
	s.BySeniority.inc(meta.Seniority)
	s.ByRoleType.inc(meta.RoleType)
	s.ByRoleCategory.inc(meta.RoleCategory)
	s.ByCompany.inc(meta.Company)
	s.ByKeyword.incEach(meta.Keywords)
	s.ByCertificate.incEach(meta.Certificates)
	s.BySoftware.incEach(meta.Software)
	s.ByProgrammingSkill.incEach(meta.ProgrammingSkills)
	s.ByAcademicDegree.incEach(meta.AcademicDegrees)
	if meta.YearsExperience != nil {
		s.ByYearsExperience.inc(ExperienceBucket(*meta.YearsExperience))
	}

	city := NormalizeCity(meta.City, meta.Country)
	s.ByCity.inc(city)
	s.ByCountry.inc(strings.TrimSpace(meta.Country))
	s.ByRegion.inc(strings.TrimSpace(meta.Region))
	s.ByLocation.inc(LocationLabel(city, meta.Region, meta.Country))

	if meta.PostedHour != nil {
		hour := fmt.Sprintf("%02d", *meta.PostedHour)
		s.ByHour.inc(hour)
		day := meta.PostedWeekday
		if day == "" {
			day = ref.Weekday().String()
		}
		if s.ByDayHour[day] == nil {
			s.ByDayHour[day] = Counts{}
		}
		s.ByDayHour[day].inc(hour)
	}

	s.SalaryStats.fold(meta)
	return s
}

// RebuildFromScratch folds every record into fresh statistics for month and
// finalizes them.
func RebuildFromScratch(month string, metas []posting.Metadata) *MonthlyStatistics {
	s := New(month)
	for _, meta := range metas {
		FoldIncremental(s, meta)
	}
	s.Finalize()
	return s
}

// Merge adds src into dst dimension by dimension and finalizes dst.
func Merge(dst, src *MonthlyStatistics) *MonthlyStatistics {
	dst.EnsureMaps()
	src.EnsureMaps()
	dst.TotalJobs += src.TotalJobs
	d, s := dst.counters(), src.counters()
	for i := range d {
		(*d[i]).add(*s[i])
	}
	for day, hours := range src.ByDayHour {
		if dst.ByDayHour[day] == nil {
			dst.ByDayHour[day] = Counts{}
		}
		dst.ByDayHour[day].add(hours)
	}
	dst.SalaryStats.merge(&src.SalaryStats)
	dst.Finalize()
	return dst
}

// Finalize recomputes means and medians from the stored salary values.
func (s *MonthlyStatistics) Finalize() {
	s.EnsureMaps()
	s.SalaryStats.finalize()
}

// Clone returns a deep copy.
func (s *MonthlyStatistics) Clone() *MonthlyStatistics {
	c := New(s.Month)
	Merge(c, s)
	return c
}

// Summary is the short form used in reports.
type Summary struct {
	TotalJobs       int `json:"totalJobs"`
	TotalWithSalary int `json:"totalWithSalary"`
	WithRoleType    int `json:"withRoleType"`
	HourBuckets     int `json:"hourBuckets"`
}

// Summarize returns the headline counters of s.
func (s *MonthlyStatistics) Summarize() Summary {
	if s == nil {
		return Summary{}
	}
	return Summary{
		TotalJobs:       s.TotalJobs,
		TotalWithSalary: s.SalaryStats.TotalWithSalary,
		WithRoleType:    s.ByRoleType.total(),
		HourBuckets:     s.ByHour.total(),
	}
}

// ExperienceBucket groups years of experience.
func ExperienceBucket(years int) string {
	switch {
	case years <= 2:
		return "0-2"
	case years <= 5:
		return "3-5"
	case years <= 9:
		return "6-9"
	default:
		return "10+"
	}
}

// LocationLabel joins the non-empty parts of a location hierarchy.
func LocationLabel(city, region, country string) string {
	var parts []string
	for _, p := range []string{city, region, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func (c Counts) inc(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	c[key]++
}

// incEach counts each distinct value once per record.
func (c Counts) incEach(values []string) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		c.inc(v)
	}
}

func (c Counts) add(o Counts) {
	for k, v := range o {
		c[k] += v
	}
}

func (c Counts) total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
