package listing

import (
	"time"

	"github.com/hazyhaar/fundawatch/internal/timefmt"
)

// NewWindow is how long a listing keeps its is_new flag after first
// observation.
const NewWindow = 24 * time.Hour

// DefaultMaxRetained caps a profile's listing history.
const DefaultMaxRetained = 1000

// Reconcile merges a freshly fetched batch into a profile's current
// listings. It returns the listings that were not previously known and
// the full updated list.
//
// Semantics:
//   - a fetched record is new iff its key is absent from current;
//   - new records get first_seen_at = scraped_at = now and is_new = true;
//   - every record in the result has is_new recomputed against the single
//     now reading, so one cycle observes one consistent clock;
//   - records missing first_seen_at (written by older versions) adopt
//     their stored scraped_at, else now;
//   - new records are prepended; the relative order of existing records
//     is preserved; on key collision the existing record wins;
//   - the tail beyond maxRetained is truncated (0 means DefaultMaxRetained).
func Reconcile(current, fetched []Listing, now time.Time, maxRetained int) (newListings, updated []Listing) {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}

	known := make(map[string]bool, len(current))
	for _, l := range current {
		known[l.Key()] = true
	}

	stamp := timefmt.New(now)
	seenInBatch := make(map[string]bool, len(fetched))
	for _, f := range fetched {
		key := f.Key()
		if key == "" || known[key] || seenInBatch[key] {
			continue
		}
		seenInBatch[key] = true
		f.FirstSeenAt = &stamp
		f.ScrapedAt = &stamp
		f.IsNew = true
		newListings = append(newListings, f)
	}

	// Refresh existing records: scraped_at for re-observed listings,
	// first_seen_at backfill for legacy records.
	refetched := make(map[string]bool, len(fetched))
	for _, f := range fetched {
		refetched[f.Key()] = true
	}

	updated = make([]Listing, 0, len(newListings)+len(current))
	updated = append(updated, newListings...)
	for _, l := range current {
		if l.FirstSeenAt == nil {
			if l.ScrapedAt != nil {
				first := *l.ScrapedAt
				l.FirstSeenAt = &first
			} else {
				first := stamp
				l.FirstSeenAt = &first
			}
		}
		if refetched[l.Key()] {
			sc := stamp
			l.ScrapedAt = &sc
		}
		updated = append(updated, l)
	}

	for i := range updated {
		updated[i].IsNew = now.Sub(updated[i].FirstSeenAt.Time) < NewWindow
	}

	if len(updated) > maxRetained {
		updated = updated[:maxRetained]
	}
	return newListings, updated
}
