package stats

import "strings"

var cityPrefixes = []string{"city of ", "greater "}

var cityOnlyCountries = map[string]bool{
	"singapore":    true,
	"luxembourg":   true,
	"monaco":       true,
	"hong kong":    true,
	"vatican city": true,
}

var notCities = map[string]bool{
	"united states": true, "united states of america": true, "usa": true, "us": true,
	"united kingdom": true, "uk": true, "great britain": true, "england": true,
	"scotland": true, "wales": true, "ireland": true, "canada": true,
	"australia": true, "new zealand": true, "germany": true, "france": true,
	"spain": true, "italy": true, "netherlands": true, "india": true,
	"mexico": true, "brazil": true, "japan": true, "china": true,
	"remote": true, "worldwide": true, "anywhere": true,
}

// NormalizeCity cleans a city name for counting: a trailing "Area" and a
// leading "City of" or "Greater" are removed, and values that are really a
// country (or the record's own country) are dropped. City-states keep their
// name.
func NormalizeCity(city, country string) string {
	c := strings.Join(strings.Fields(city), " ")
	if c == "" {
		return ""
	}
	lower := strings.ToLower(c)
	for _, p := range cityPrefixes {
		if strings.HasPrefix(lower, p) {
			c = strings.TrimSpace(c[len(p):])
			lower = strings.ToLower(c)
		}
	}
	if strings.HasSuffix(lower, " area") {
		c = strings.TrimSpace(c[:len(c)-len(" area")])
		lower = strings.ToLower(c)
		if strings.HasSuffix(lower, " metropolitan") {
			c = strings.TrimSpace(c[:len(c)-len(" metropolitan")])
			lower = strings.ToLower(c)
		}
	}
	if cityOnlyCountries[lower] {
		return c
	}
	if notCities[lower] || strings.EqualFold(c, strings.TrimSpace(country)) {
		return ""
	}
	return c
}
