package stats

import (
	"math"
	"sort"
	"strings"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Salary range bucket labels, lower bound inclusive.
const (
	Range0to30k    = "0-30k"
	Range30to50k   = "30-50k"
	Range50to75k   = "50-75k"
	Range75to100k  = "75-100k"
	Range100to150k = "100-150k"
	Range150kPlus  = "150k+"
)

const unknownCurrency = "UNKNOWN"

// RangeLabels lists the salary buckets in ascending order.
var RangeLabels = []string{Range0to30k, Range30to50k, Range50to75k, Range75to100k, Range100to150k, Range150kPlus}

var rangeBounds = []float64{30000, 50000, 75000, 100000, 150000}

// SalaryBucket returns the bucket an annual figure falls into.
func SalaryBucket(annual float64) string {
	i := sort.Search(len(rangeBounds), func(i int) bool { return annual < rangeBounds[i] })
	return RangeLabels[i]
}

// SalaryGroup summarises the salaries of one dimension value.
type SalaryGroup struct {
	Count  int       `json:"count"`
	Mean   float64   `json:"mean"`
	Median float64   `json:"median"`
	Values []float64 `json:"values"`
}

// SalaryStats is the salary sub-document of MonthlyStatistics. Values are
// annualised midpoints kept in ascending order.
type SalaryStats struct {
	TotalWithSalary int                     `json:"totalWithSalary"`
	Mean            float64                 `json:"mean"`
	Median          float64                 `json:"median"`
	ByIndustry      map[string]*SalaryGroup `json:"byIndustry"`
	BySeniority     map[string]*SalaryGroup `json:"bySeniority"`
	ByRoleType      map[string]*SalaryGroup `json:"byRoleType"`
	ByCountry       map[string]*SalaryGroup `json:"byCountry"`
	ByCurrency      Counts                  `json:"byCurrency"`
	Ranges          Counts                  `json:"ranges"`
	Values          []float64               `json:"values"`
}

func (s *SalaryStats) ensureMaps() {
	for _, m := range s.groups() {
		if *m == nil {
			*m = map[string]*SalaryGroup{}
		}
	}
	if s.ByCurrency == nil {
		s.ByCurrency = Counts{}
	}
	if s.Ranges == nil {
		s.Ranges = Counts{}
		for _, label := range RangeLabels {
			s.Ranges[label] = 0
		}
	}
	if s.Values == nil {
		s.Values = []float64{}
	}
}

func (s *SalaryStats) groups() []*map[string]*SalaryGroup {
	return []*map[string]*SalaryGroup{&s.ByIndustry, &s.BySeniority, &s.ByRoleType, &s.ByCountry}
}

// fold adds meta's salary when it has a positive annualised midpoint.
func (s *SalaryStats) fold(meta posting.Metadata) {
	annual, ok := meta.Salary.Annual()
	if !ok {
		return
	}
	s.TotalWithSalary++
	s.Values = insertSorted(s.Values, annual)
	currency := strings.ToUpper(strings.TrimSpace(meta.Salary.Currency))
	if currency == "" {
		currency = unknownCurrency
	}
	s.ByCurrency[currency]++
	s.Ranges[SalaryBucket(annual)]++

	keys := []string{meta.Industry, meta.Seniority, meta.RoleType, meta.Country}
	for i, m := range s.groups() {
		key := strings.TrimSpace(keys[i])
		if key == "" {
			continue
		}
		g := (*m)[key]
		if g == nil {
			g = &SalaryGroup{Values: []float64{}}
			(*m)[key] = g
		}
		g.Count++
		g.Values = insertSorted(g.Values, annual)
	}
}

func (s *SalaryStats) merge(o *SalaryStats) {
	s.ensureMaps()
	s.TotalWithSalary += o.TotalWithSalary
	s.Values = mergeSorted(s.Values, o.Values)
	s.ByCurrency.add(o.ByCurrency)
	s.Ranges.add(o.Ranges)
	dst, src := s.groups(), o.groups()
	for i := range dst {
		for key, g := range *src[i] {
			if g == nil {
				continue
			}
			d := (*dst[i])[key]
			if d == nil {
				d = &SalaryGroup{Values: []float64{}}
				(*dst[i])[key] = d
			}
			d.Count += g.Count
			d.Values = mergeSorted(d.Values, g.Values)
		}
	}
}

func (s *SalaryStats) finalize() {
	s.Mean, s.Median = meanMedian(s.Values)
	for _, m := range s.groups() {
		for _, g := range *m {
			g.Mean, g.Median = meanMedian(g.Values)
		}
	}
}

// meanMedian sums in ascending order so the result does not depend on the
// order values were folded in. Results are rounded to cents.
func meanMedian(sorted []float64) (float64, float64) {
	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return round2(sum / float64(n)), round2(median)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func insertSorted(values []float64, v float64) []float64 {
	i := sort.SearchFloat64s(values, v)
	values = append(values, 0)
	copy(values[i+1:], values[i:])
	values[i] = v
	return values
}

func mergeSorted(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
