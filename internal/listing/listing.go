// Package listing holds the canonical listing record, the raw→canonical
// mapper, and the dedup/recency engine that decides which fetched listings
// are new for a profile.
package listing

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"

	"github.com/hazyhaar/fundawatch/internal/timefmt"
)

// Raw is a listing as the parser extracted it from HTML: detail URL plus
// whatever fields the card happened to expose. Numeric fields are already
// parsed; zero means "not found on the card".
type Raw struct {
	DetailURL   string
	Street      string
	PostalCode  string
	City        string
	Price       int
	FloorArea   int
	Bedrooms    int
	EnergyLabel string
	ListedSince string
	DaysListed  int
	ImageURL    string
}

// Listing is the stored record. Identity is URL: the canonicalised
// absolute detail-page URL, which doubles as the dedup key.
type Listing struct {
	URL            string         `json:"url"`
	Street         string         `json:"street,omitempty"`
	PostalCode     string         `json:"postal_code,omitempty"`
	City           string         `json:"city,omitempty"`
	Price          int            `json:"price"`
	FloorArea      int            `json:"floor_area"`
	Bedrooms       int            `json:"bedrooms"`
	EnergyLabel    string         `json:"energy_label,omitempty"`
	ListedSince    string         `json:"listed_since,omitempty"`
	DaysListed     int            `json:"days_since_listed"`
	ImageURL       string         `json:"image_url,omitempty"`
	ListedSinceRaw string         `json:"listed_since_raw,omitempty"`
	IsNew          bool           `json:"is_new"`
	FirstSeenAt    *timefmt.Stamp `json:"first_seen_at,omitempty"`
	ScrapedAt      *timefmt.Stamp `json:"scraped_at,omitempty"`
}

// Key returns the dedup key for a listing: its canonical URL.
func (l Listing) Key() string {
	return l.URL
}

// CanonicalURL resolves raw against base and normalises it into the
// dedup-key form: absolute, https where given, lowercase host, no
// fragment, no trailing slash ambiguity.
func CanonicalURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if base != "" && !strings.Contains(raw, "://") {
		bu, err := url.Parse(base)
		if err == nil {
			ru, err := url.Parse(raw)
			if err == nil {
				raw = bu.ResolveReference(ru).String()
			}
		}
	}
	norm, err := purell.NormalizeURLString(raw,
		purell.FlagsSafe|purell.FlagRemoveFragment|purell.FlagRemoveDuplicateSlashes|purell.FlagRemoveTrailingSlash)
	if err != nil {
		return raw
	}
	return norm
}

// MapRaw converts a parser record into the canonical stored shape. Pure
// and total: bad URLs degrade to the raw string, unknown fields stay at
// their zero value.
func MapRaw(raw Raw, base string) Listing {
	return Listing{
		URL:            CanonicalURL(raw.DetailURL, base),
		Street:         strings.TrimSpace(raw.Street),
		PostalCode:     strings.TrimSpace(raw.PostalCode),
		City:           strings.TrimSpace(raw.City),
		Price:          raw.Price,
		FloorArea:      raw.FloorArea,
		Bedrooms:       raw.Bedrooms,
		EnergyLabel:    raw.EnergyLabel,
		ListedSince:    strings.TrimSpace(raw.ListedSince),
		DaysListed:     raw.DaysListed,
		ImageURL:       CanonicalURL(raw.ImageURL, base),
		ListedSinceRaw: raw.ListedSince,
	}
}
