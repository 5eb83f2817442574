// Package cycle runs one end-to-end scrape for a profile: build the query
// URL, fetch, parse, map, reconcile against history, persist, notify. Every
// recoverable failure lands in the profile's last_error; the cycle itself
// never returns an error to the scheduler.
package cycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/fundawatch/internal/funda"
	"github.com/hazyhaar/fundawatch/internal/listing"
	"github.com/hazyhaar/fundawatch/internal/metrics"
	"github.com/hazyhaar/fundawatch/internal/parse"
	"github.com/hazyhaar/fundawatch/internal/store"
	"github.com/hazyhaar/fundawatch/internal/timefmt"
)

// Fetcher retrieves one rendered page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Notifier delivers the new-listing digest.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, profileName string, newListings []listing.Listing) error
}

// Config configures the Orchestrator.
type Config struct {
	Store    *store.Store
	Fetcher  Fetcher
	Notifier Notifier

	// BaseURL anchors relative detail links. Default: the production
	// site.
	BaseURL string

	// URLMode selects the modern or legacy query form.
	URLMode funda.Mode

	// MaxRetained bounds a profile's listing history. Default: 1000.
	MaxRetained int

	Logger *slog.Logger

	// now is swappable for tests; one reading per cycle.
	now func() time.Time
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.funda.nl"
	}
	if c.MaxRetained <= 0 {
		c.MaxRetained = listing.DefaultMaxRetained
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Orchestrator executes scrape cycles.
type Orchestrator struct {
	cfg Config
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{cfg: cfg}
}

// Run performs one cycle for profileID. A deleted profile returns quietly;
// everything else is recorded on the profile and persisted.
func (o *Orchestrator) Run(ctx context.Context, profileID string) {
	log := o.cfg.Logger.With("profile", profileID)
	started := o.cfg.now()

	// Read-only load first; the mutex is held only for the final
	// load-and-store pair.
	doc, err := o.cfg.Store.Load()
	if err != nil {
		log.Error("cycle: load failed", "error", err)
		metrics.ObserveCycle("store_error", o.cfg.now().Sub(started), 0)
		return
	}
	profile, ok := doc.Profiles[profileID]
	if !ok {
		log.Info("cycle: profile deleted, skipping")
		return
	}

	queryURL, err := funda.Build(profile.Filters, funda.Rent, o.cfg.URLMode)
	if err != nil {
		log.Warn("cycle: invalid filters", "error", err)
		o.recordFailure(profileID, started, err)
		metrics.ObserveCycle("filter_error", o.cfg.now().Sub(started), 0)
		return
	}

	htmlSrc, err := o.cfg.Fetcher.Fetch(ctx, queryURL)
	if err != nil {
		log.Warn("cycle: fetch failed", "url", queryURL, "error", err)
		o.recordFailure(profileID, started, err)
		metrics.ObserveCycle("fetch_error", o.cfg.now().Sub(started), 0)
		return
	}

	// Parsing never fails; an unrecognised page is zero listings.
	raws := parse.Parse(htmlSrc, started)
	fetched := make([]listing.Listing, 0, len(raws))
	for _, raw := range raws {
		fetched = append(fetched, listing.MapRaw(raw, o.cfg.BaseURL))
	}

	// Reconcile and persist under the store mutex. The profile may have
	// been edited since the read above, so dedup runs against the fresh
	// copy inside Mutate.
	var newListings []listing.Listing
	var recipients []string
	var profileName string
	err = o.cfg.Store.Mutate(func(d *store.Document) error {
		p, ok := d.Profiles[profileID]
		if !ok {
			return store.ErrProfileNotFound
		}
		var updated []listing.Listing
		newListings, updated = listing.Reconcile(p.Listings, fetched, started, o.cfg.MaxRetained)
		p.Listings = updated

		stamp := timefmt.New(started)
		p.LastScraped = &stamp
		p.LastNewListingsCount = len(newListings)
		p.LastError = ""

		recipients = p.Emails
		profileName = p.Name
		return nil
	})
	if errors.Is(err, store.ErrProfileNotFound) {
		log.Info("cycle: profile deleted mid-cycle, skipping")
		return
	}
	if err != nil {
		log.Error("cycle: persist failed", "error", err)
		metrics.ObserveCycle("store_error", o.cfg.now().Sub(started), 0)
		return
	}

	log.Info("cycle: completed",
		"fetched", len(fetched), "new", len(newListings),
		"duration", o.cfg.now().Sub(started))

	// Notification comes after persistence and never rolls it back.
	if len(newListings) > 0 && len(recipients) > 0 {
		if err := o.cfg.Notifier.Notify(ctx, recipients, profileName, newListings); err != nil {
			log.Warn("cycle: notify failed", "error", err)
			o.recordFailure(profileID, started, err)
			metrics.ObserveCycle("mail_error", o.cfg.now().Sub(started), len(newListings))
			return
		}
		metrics.DigestsSentTotal.Inc()
	}

	metrics.ObserveCycle("ok", o.cfg.now().Sub(started), len(newListings))
}

// recordFailure persists the error message and the attempt timestamp on
// the profile. Listings are untouched.
func (o *Orchestrator) recordFailure(profileID string, at time.Time, cause error) {
	err := o.cfg.Store.Mutate(func(d *store.Document) error {
		p, ok := d.Profiles[profileID]
		if !ok {
			return store.ErrProfileNotFound
		}
		stamp := timefmt.New(at)
		p.LastScraped = &stamp
		p.LastError = cause.Error()
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrProfileNotFound) {
		o.cfg.Logger.Error("cycle: record failure", "profile", profileID, "error", err)
	}
}
