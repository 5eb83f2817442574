package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/fundawatch/internal/funda"
	"github.com/hazyhaar/fundawatch/internal/listing"
	"github.com/hazyhaar/fundawatch/internal/timefmt"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "database.json"), nil)
}

func sampleProfile(id string) *SearchProfile {
	now := timefmt.Now()
	return &SearchProfile{
		ID:     id,
		UserID: "u1",
		Name:   "Leiden rentals",
		Filters: funda.FilterSet{
			"city":      "leiden",
			"min_price": 1000,
			"max_price": 2000,
		},
		Emails:              []string{"a@example.com"},
		ScrapeIntervalHours: 2,
		Listings: []listing.Listing{
			{URL: "https://www.funda.nl/huur/leiden/appartement-1-a", Price: 1500,
				FirstSeenAt: &now, ScrapedAt: &now},
		},
	}
}

func TestLoad_MissingFileYieldsEmptyDocument(t *testing.T) {
	// WHAT: Loading before anything was stored gives an empty document, not
	// an error.
	// WHY: First run starts from nothing; the file appears on first store.
	s := testStore(t)
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Users) != 0 || len(doc.Profiles) != 0 {
		t.Errorf("expected empty document, got %d users / %d profiles",
			len(doc.Users), len(doc.Profiles))
	}
}

func TestStoreLoad_RoundTrip(t *testing.T) {
	// WHAT: A stored document loads back with profiles, filters, listings,
	// and timestamps intact.
	// WHY: The file is the only durable state the process has.
	s := testStore(t)
	doc := NewDocument()
	doc.Profiles["p1"] = sampleProfile("p1")
	doc.Users["u1"] = &User{ID: "u1", Name: "Ana", Email: "a@example.com",
		IsActive: true, ProfileIDs: []string{"p1"}}

	if err := s.Store(doc); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := got.Profiles["p1"]
	if p == nil {
		t.Fatal("profile p1 missing after round trip")
	}
	if city, _ := p.Filters.Str("city"); city != "leiden" {
		t.Errorf("filters lost city: %v", p.Filters)
	}
	if maxPrice, _ := p.Filters.Int("max_price"); maxPrice != 2000 {
		t.Errorf("filters lost max_price: %v", p.Filters)
	}
	if len(p.Listings) != 1 || p.Listings[0].Price != 1500 {
		t.Errorf("listings lost: %+v", p.Listings)
	}
	if p.Listings[0].FirstSeenAt == nil {
		t.Error("first_seen_at dropped")
	}
	if p.Interval() != 2*time.Hour {
		t.Errorf("interval = %v, want 2h", p.Interval())
	}
}

func TestStore_AtomicReplace(t *testing.T) {
	// WHAT: Storing over an existing file leaves no temp droppings and the
	// file always parses.
	// WHY: The temp-write-sync-rename discipline is the crash guarantee.
	s := testStore(t)
	for i := 0; i < 3; i++ {
		doc := NewDocument()
		doc.Profiles["p1"] = sampleProfile("p1")
		if err := s.Store(doc); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(data) {
		t.Error("stored file is not valid JSON")
	}
}

func TestMutate_ErrorLeavesFileUntouched(t *testing.T) {
	// WHAT: When the mutation callback errors, the prior document stays on
	// disk unchanged.
	// WHY: Mutate must be all-or-nothing.
	s := testStore(t)
	doc := NewDocument()
	doc.Profiles["p1"] = sampleProfile("p1")
	if err := s.Store(doc); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.Mutate(func(d *Document) error {
		delete(d.Profiles, "p1")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Mutate error = %v, want boom", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Profiles["p1"] == nil {
		t.Error("failed mutation was persisted")
	}
}

func TestMutate_ConcurrentWritersDoNotClobber(t *testing.T) {
	// WHAT: Parallel Mutate calls each land; no update is lost.
	// WHY: Several scrape cycles finish around the same time and each
	// rewrites its own profile through the shared mutex.
	s := testStore(t)
	base := NewDocument()
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		base.Profiles[id] = sampleProfile(id)
	}
	if err := s.Store(base); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := s.Mutate(func(d *Document) error {
				d.Profiles[id].LastNewListingsCount = 7
				return nil
			})
			if err != nil {
				t.Errorf("Mutate %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		if got.Profiles[id].LastNewListingsCount != 7 {
			t.Errorf("profile %s update lost", id)
		}
	}
}

func TestSanitizeIntervals(t *testing.T) {
	// WHAT: Sub-floor intervals are raised to the floor and over-max
	// intervals capped at one week; compliant ones are untouched.
	// WHY: Constrained deployments enforce a minimum cadence at startup.
	s := testStore(t)
	doc := NewDocument()
	short := sampleProfile("short")
	short.ScrapeIntervalHours = 0
	short.ScrapeIntervalMinutes = 5
	long := sampleProfile("long")
	long.ScrapeIntervalHours = 24 * 30
	long.ScrapeIntervalMinutes = 0
	ok := sampleProfile("ok")
	ok.ScrapeIntervalHours = 1
	ok.ScrapeIntervalMinutes = 0
	doc.Profiles["short"], doc.Profiles["long"], doc.Profiles["ok"] = short, long, ok
	if err := s.Store(doc); err != nil {
		t.Fatal(err)
	}

	n, err := s.SanitizeIntervals(30 * time.Minute)
	if err != nil {
		t.Fatalf("SanitizeIntervals: %v", err)
	}
	if n != 2 {
		t.Errorf("rewritten = %d, want 2", n)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if iv := got.Profiles["short"].Interval(); iv != 30*time.Minute {
		t.Errorf("short interval = %v, want 30m", iv)
	}
	if iv := got.Profiles["long"].Interval(); iv != MaxInterval {
		t.Errorf("long interval = %v, want %v", iv, MaxInterval)
	}
	if iv := got.Profiles["ok"].Interval(); iv != time.Hour {
		t.Errorf("ok interval = %v, want 1h", iv)
	}

	// Second pass finds nothing to do and writes nothing.
	n, err = s.SanitizeIntervals(30 * time.Minute)
	if err != nil || n != 0 {
		t.Errorf("second pass = (%d, %v), want (0, nil)", n, err)
	}
}

func TestListProfiles(t *testing.T) {
	// WHAT: ListProfiles returns id, name, and cadence for every profile.
	// WHY: The scheduler syncs its job registry from this view.
	s := testStore(t)
	doc := NewDocument()
	doc.Profiles["p1"] = sampleProfile("p1")
	if err := s.Store(doc); err != nil {
		t.Fatal(err)
	}
	specs, err := s.ListProfiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].ID != "p1" || specs[0].Interval != 2*time.Hour {
		t.Errorf("specs = %+v", specs)
	}
}
