package rules

import (
	"strings"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

var countryAliases = map[string]string{
	"us":                       "United States",
	"usa":                      "United States",
	"u.s.":                     "United States",
	"u.s.a.":                   "United States",
	"united states":            "United States",
	"united states of america": "United States",
	"uk":                       "United Kingdom",
	"u.k.":                     "United Kingdom",
	"united kingdom":           "United Kingdom",
	"great britain":            "United Kingdom",
	"england":                  "United Kingdom",
	"canada":                   "Canada",
	"australia":                "Australia",
	"germany":                  "Germany",
	"france":                   "France",
	"ireland":                  "Ireland",
	"india":                    "India",
	"netherlands":              "Netherlands",
	"spain":                    "Spain",
	"new zealand":              "New Zealand",
	"singapore":                "Singapore",
}

// CanonicalCountry maps a country name or alias to its canonical name.
func CanonicalCountry(name string) (string, bool) {
	c, ok := countryAliases[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// ParseLocation splits "City, Region, Country" style strings. A lone
// component is a country when it names one, otherwise a city.
func ParseLocation(raw string) posting.Location {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	var loc posting.Location
	switch len(parts) {
	case 0:
		return loc
	case 1:
		if c, ok := CanonicalCountry(parts[0]); ok {
			loc.Country = c
		} else {
			loc.City = parts[0]
		}
	case 2:
		loc.City = parts[0]
		if c, ok := CanonicalCountry(parts[1]); ok {
			loc.Country = c
		} else {
			loc.Region = parts[1]
		}
	default:
		loc.City = parts[0]
		loc.Region = parts[1]
		last := parts[len(parts)-1]
		if c, ok := CanonicalCountry(last); ok {
			loc.Country = c
		} else {
			loc.Country = last
		}
	}
	return loc
}
