// Package posting defines the job-posting record as it is stored in shards,
// and the contracts of the collaborators that produce and classify postings.
package posting

import (
	"errors"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-job-postings/internal/hash/sha256"
)

// SchemaVersion is stamped on every metadata record written by this build.
// Version 2 added the postedHour and postedWeekday time buckets.
const SchemaVersion = 2

const idLength = 16

// ErrMalformedRecord marks a posting that lacks its dedup key.
var ErrMalformedRecord = errors.New("malformed posting record")

// RawPosting is one item produced by a feed pull.
type RawPosting struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate,omitempty"`
	Description string `json:"description,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Metadata is everything about a posting except its free text. Optional
// fields are omitted when empty so records written before a field existed
// read back with it absent.
type Metadata struct {
	SchemaVersion     int       `json:"schemaVersion,omitempty"`
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Company           string    `json:"company,omitempty"`
	Location          string    `json:"location,omitempty"`
	Country           string    `json:"country,omitempty"`
	City              string    `json:"city,omitempty"`
	Region            string    `json:"region,omitempty"`
	URL               string    `json:"url"`
	PostedDate        time.Time `json:"postedDate"`
	ExtractedDate     time.Time `json:"extractedDate"`
	Keywords          []string  `json:"keywords,omitempty"`
	Certificates      []string  `json:"certificates,omitempty"`
	Industry          string    `json:"industry,omitempty"`
	Seniority         string    `json:"seniority,omitempty"`
	Salary            *Salary   `json:"salary,omitempty"`
	Software          []string  `json:"software,omitempty"`
	ProgrammingSkills []string  `json:"programmingSkills,omitempty"`
	YearsExperience   *int      `json:"yearsExperience,omitempty"`
	AcademicDegrees   []string  `json:"academicDegrees,omitempty"`
	RoleType          string    `json:"roleType,omitempty"`
	RoleCategory      string    `json:"roleCategory,omitempty"`
	PostedHour        *int      `json:"postedHour,omitempty"`
	PostedWeekday     string    `json:"postedWeekday,omitempty"`
}

// Description is the free-text half of a posting, keyed by id.
type Description struct {
	ID   string `json:"id"`
	Text string `json:"description"`
}

// Record is a complete posting.
type Record struct {
	Metadata
	Description string `json:"description"`
}

// Split separates a record into its metadata and description halves.
func (r Record) Split() (Metadata, Description) {
	return r.Metadata, Description{ID: r.ID, Text: r.Description}
}

// Join reassembles a record from its halves.
func Join(meta Metadata, desc Description) Record {
	return Record{Metadata: meta, Description: desc.Text}
}

// ReferenceTime is the instant used for date and hour buckets: the posted
// time when known, otherwise the extraction time.
func (m *Metadata) ReferenceTime() time.Time {
	if !m.PostedDate.IsZero() {
		return m.PostedDate.UTC()
	}
	return m.ExtractedDate.UTC()
}

// SetTimeBuckets derives postedHour and postedWeekday. It reports whether
// the buckets were absent before the call.
func (m *Metadata) SetTimeBuckets() bool {
	ref := m.ReferenceTime()
	if ref.IsZero() {
		return false
	}
	generated := m.PostedHour == nil
	hour := ref.Hour()
	m.PostedHour = &hour
	m.PostedWeekday = ref.Weekday().String()
	return generated
}

// NormalizeURL is the dedup key normalisation: trimmed and lower-cased.
func NormalizeURL(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IDFromURL derives the stable posting id from a URL.
func IDFromURL(raw string) string {
	return sha256.Short(NormalizeURL(raw), idLength)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
