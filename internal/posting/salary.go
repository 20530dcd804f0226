package posting

import "strings"

// Salary periods understood by Annual.
const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

var annualFactor = map[string]float64{
	PeriodHour:  2080,
	PeriodDay:   260,
	PeriodWeek:  52,
	PeriodMonth: 12,
	PeriodYear:  1,
}

// Salary is an extracted pay range. Either bound may be missing.
type Salary struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	Period     string   `json:"period,omitempty"`
	Raw        string   `json:"raw,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Midpoint returns the mean of both bounds, or the single bound present.
func (s *Salary) Midpoint() (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch {
	case s.Min != nil && s.Max != nil:
		return (*s.Min + *s.Max) / 2, true
	case s.Min != nil:
		return *s.Min, true
	case s.Max != nil:
		return *s.Max, true
	}
	return 0, false
}

// Annual returns the midpoint scaled to a yearly figure. Non-positive
// midpoints report false.
func (s *Salary) Annual() (float64, bool) {
	mid, ok := s.Midpoint()
	if !ok || mid <= 0 {
		return 0, false
	}
	factor, known := annualFactor[strings.ToLower(s.Period)]
	if !known {
		factor = 1
	}
	return mid * factor, true
}

// Equal reports whether two salaries carry the same range and units.
func (s *Salary) Equal(o *Salary) bool {
	if s == nil || o == nil {
		return s == o
	}
	return floatPtrEqual(s.Min, o.Min) &&
		floatPtrEqual(s.Max, o.Max) &&
		s.Currency == o.Currency &&
		s.Period == o.Period
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
