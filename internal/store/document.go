// Package store owns the persisted document: every user, profile, and
// listing lives in one JSON file that only ever transitions between valid
// states. All other packages receive values and hand back updated values;
// mutation happens here, under one mutex, committed by atomic rename.
package store

import (
	"time"

	"github.com/hazyhaar/fundawatch/internal/funda"
	"github.com/hazyhaar/fundawatch/internal/listing"
	"github.com/hazyhaar/fundawatch/internal/timefmt"
)

// Document is the top-level persisted shape.
type Document struct {
	Users    map[string]*User          `json:"users"`
	Profiles map[string]*SearchProfile `json:"profiles"`
}

// NewDocument returns an empty document with initialised maps.
func NewDocument() *Document {
	return &Document{
		Users:    make(map[string]*User),
		Profiles: make(map[string]*SearchProfile),
	}
}

// User is an account as the control plane created it. The credential hash
// is opaque here; this process never verifies or issues credentials.
type User struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"password_hash,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    *timefmt.Stamp `json:"created_at,omitempty"`
	LastLogin    *timefmt.Stamp `json:"last_login,omitempty"`
	ProfileIDs   []string       `json:"profile_ids"`
}

// SearchProfile bundles a filter set, recipients, cadence, telemetry, and
// the accumulated listing history for one search.
type SearchProfile struct {
	ID     string          `json:"id"`
	UserID string          `json:"user_id"`
	Name   string          `json:"name"`

	Filters funda.FilterSet `json:"filters"`
	Emails  []string        `json:"emails"`

	ScrapeIntervalHours   int `json:"scrape_interval_hours"`
	ScrapeIntervalMinutes int `json:"scrape_interval_minutes"`

	LastScraped          *timefmt.Stamp `json:"last_scraped,omitempty"`
	LastNewListingsCount int            `json:"last_new_listings_count"`
	LastError            string         `json:"last_error,omitempty"`

	Listings []listing.Listing `json:"listings"`
}

// Interval is the profile's scrape cadence as a duration.
func (p *SearchProfile) Interval() time.Duration {
	return time.Duration(p.ScrapeIntervalHours)*time.Hour +
		time.Duration(p.ScrapeIntervalMinutes)*time.Minute
}

// SetInterval rewrites the stored (hours, minutes) pair from a duration.
func (p *SearchProfile) SetInterval(d time.Duration) {
	total := int(d.Minutes())
	p.ScrapeIntervalHours = total / 60
	p.ScrapeIntervalMinutes = total % 60
}

// MaxInterval caps the cadence at one week.
const MaxInterval = 7 * 24 * time.Hour
