package posting

import (
	"fmt"
	"strings"
	"time"
)

// Input is what classifiers see of a posting.
type Input struct {
	Title       string
	Description string
	URL         string
	Location    string
}

// Location is a parsed place.
type Location struct {
	Country string
	City    string
	Region  string
}

// Role is the employment type and job function.
type Role struct {
	Type     string
	Category string
}

// Classification holds every derived field.
type Classification struct {
	Salary            *Salary
	Location          Location
	Industry          string
	Seniority         string
	Keywords          []string
	Certificates      []string
	Role              Role
	Software          []string
	ProgrammingSkills []string
	YearsExperience   *int
	AcademicDegrees   []string
}

// Classifier derives fields from a posting's text. Implementations must be
// pure: the same input always yields the same classification.
type Classifier interface {
	Classify(in Input) Classification
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParsePubDate parses the date formats seen in RSS and Atom feeds.
func ParsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

// InputOf returns the classifier input for a raw posting.
func InputOf(raw RawPosting) Input {
	return Input{Title: raw.Title, Description: raw.Description, URL: raw.Link, Location: raw.Location}
}

// Build assembles a record from a raw posting and its classification.
// A posting without a link is rejected with ErrMalformedRecord.
func Build(raw RawPosting, c Classification, now time.Time) (Record, error) {
	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return Record{}, fmt.Errorf("posting %q has no link: %w", raw.Title, ErrMalformedRecord)
	}
	now = now.UTC()
	posted, err := ParsePubDate(raw.PubDate)
	if err != nil {
		posted = now
	}

	meta := Metadata{
		SchemaVersion: SchemaVersion,
		ID:            IDFromURL(link),
		Title:         strings.TrimSpace(raw.Title),
		Company:       strings.TrimSpace(raw.Company),
		Location:      strings.TrimSpace(raw.Location),
		URL:           link,
		PostedDate:    posted,
		ExtractedDate: now,
	}
	Apply(&meta, c)
	meta.SetTimeBuckets()
	return Record{Metadata: meta, Description: raw.Description}, nil
}

// Apply copies every classified field onto meta.
func Apply(meta *Metadata, c Classification) {
	meta.Country = c.Location.Country
	meta.City = c.Location.City
	meta.Region = c.Location.Region
	meta.Industry = c.Industry
	meta.Seniority = c.Seniority
	meta.Keywords = c.Keywords
	meta.Certificates = c.Certificates
	meta.Salary = c.Salary
	meta.Software = c.Software
	meta.ProgrammingSkills = c.ProgrammingSkills
	meta.YearsExperience = c.YearsExperience
	meta.AcademicDegrees = c.AcademicDegrees
	meta.RoleType = c.Role.Type
	meta.RoleCategory = c.Role.Category
}
