package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

const amount = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

var (
	rangeRe  = regexp.MustCompile(`(?i)(\$|£|€|usd|gbp|eur|cad|aud)?\s?` + amount + `\s?(k\b)?\s*(?:-|–|to)\s*(\$|£|€|usd|gbp|eur|cad|aud)?\s?` + amount + `\s?(k\b)?`)
	singleRe = regexp.MustCompile(`(?i)(\$|£|€)\s?` + amount + `\s?(k\b)?`)

	periods = []struct {
		period string
		re     *regexp.Regexp
	}{
		{posting.PeriodHour, regexp.MustCompile(`(?i)^\s*(?:per hour|/\s?h(?:ou)?r|an hour|hourly|p/h|ph\b)`)},
		{posting.PeriodDay, regexp.MustCompile(`(?i)^\s*(?:per day|/\s?day|a day|daily)`)},
		{posting.PeriodWeek, regexp.MustCompile(`(?i)^\s*(?:per week|/\s?w(?:ee)?k|a week|weekly)`)},
		{posting.PeriodMonth, regexp.MustCompile(`(?i)^\s*(?:per month|/\s?mo(?:nth)?|a month|monthly|pcm)`)},
		{posting.PeriodYear, regexp.MustCompile(`(?i)^\s*(?:per (?:year|annum)|/\s?y(?:ea)?r|a year|annually|annual|p\.?a\.?)`)},
	}

	currencies = map[string]string{
		"$": "USD", "usd": "USD",
		"£": "GBP", "gbp": "GBP",
		"€": "EUR", "eur": "EUR",
		"cad": "CAD", "aud": "AUD",
	}
)

// ExtractSalary finds the first salary range (or single figure) carrying a
// currency marker or a "k" suffix. It returns nil when none is present.
func ExtractSalary(text string) *posting.Salary {
	for _, m := range rangeRe.FindAllStringSubmatchIndex(text, -1) {
		cur1, lo, k1 := group(text, m, 1), group(text, m, 2), group(text, m, 3)
		cur2, hi, k2 := group(text, m, 4), group(text, m, 5), group(text, m, 6)
		if cur1 != "" || cur2 != "" || k1 != "" || k2 != "" {
			minV := parseAmount(lo, k1 != "" || k2 != "")
			maxV := parseAmount(hi, k2 != "")
			if minV > maxV {
				minV, maxV = maxV, minV
			}
			currency := currencyOf(cur1, cur2)
			period, explicit := periodAfter(text[m[1]:], maxV)
			return &posting.Salary{
				Min:        &minV,
				Max:        &maxV,
				Currency:   currency,
				Period:     period,
				Raw:        strings.TrimSpace(text[m[0]:m[1]]),
				Confidence: confidence(currency != "", explicit, true),
			}
		}
	}
	if m := singleRe.FindStringSubmatchIndex(text); m != nil {
		value := parseAmount(group(text, m, 2), group(text, m, 3) != "")
		currency := currencyOf(group(text, m, 1), "")
		period, explicit := periodAfter(text[m[1]:], value)
		return &posting.Salary{
			Min:        &value,
			Currency:   currency,
			Period:     period,
			Raw:        strings.TrimSpace(text[m[0]:m[1]]),
			Confidence: confidence(currency != "", explicit, false),
		}
	}
	return nil
}

func group(text string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return text[m[2*i]:m[2*i+1]]
}

func parseAmount(raw string, thousands bool) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0
	}
	if thousands {
		v *= 1000
	}
	return v
}

func currencyOf(a, b string) string {
	for _, c := range []string{a, b} {
		if code, ok := currencies[strings.ToLower(c)]; ok {
			return code
		}
	}
	return ""
}

// periodAfter reads an explicit period right after the figure, or guesses
// one from magnitude.
func periodAfter(rest string, value float64) (string, bool) {
	if len(rest) > 24 {
		rest = rest[:24]
	}
	for _, p := range periods {
		if p.re.MatchString(rest) {
			return p.period, true
		}
	}
	switch {
	case value < 200:
		return posting.PeriodHour, false
	case value < 1500:
		return posting.PeriodDay, false
	case value < 20000:
		return posting.PeriodMonth, false
	default:
		return posting.PeriodYear, false
	}
}

func confidence(hasCurrency, explicitPeriod, isRange bool) float64 {
	c := 0.4
	if hasCurrency {
		c += 0.2
	}
	if explicitPeriod {
		c += 0.2
	}
	if isRange {
		c += 0.1
	}
	return c
}
