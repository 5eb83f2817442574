package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrProfileNotFound is returned when a profile ID does not resolve.
var ErrProfileNotFound = errors.New("store: profile not found")

// Store reads and writes the document file. A single mutex serialises all
// access inside the process; the atomic rename discipline protects against
// crashes mid-write.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Store for the document at path.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document from disk. A missing file yields an empty
// document; any other failure is an error.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Store serialises the document and commits it atomically.
func (s *Store) Store(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(doc)
}

// Mutate runs fn on the current document under the store mutex and
// commits the result. When fn returns an error nothing is written and the
// error propagates. This is the load-and-store pair the scrape cycle uses
// so concurrent cycles for different profiles never clobber each other.
func (s *Store) Mutate(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.storeLocked(doc)
}

func (s *Store) loadLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", s.path, err)
	}
	if doc.Users == nil {
		doc.Users = make(map[string]*User)
	}
	if doc.Profiles == nil {
		doc.Profiles = make(map[string]*SearchProfile)
	}
	return doc, nil
}

// storeLocked writes to a sibling temp file, syncs it, and renames it over
// the destination. The document on disk is therefore always either the
// previous state or the new state.
func (s *Store) storeLocked(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// ProfileSpec is the slice of a profile the scheduler needs.
type ProfileSpec struct {
	ID       string
	Name     string
	Interval time.Duration
}

// ListProfiles returns the scheduling view of every profile.
func (s *Store) ListProfiles() ([]ProfileSpec, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	specs := make([]ProfileSpec, 0, len(doc.Profiles))
	for _, p := range doc.Profiles {
		specs = append(specs, ProfileSpec{ID: p.ID, Name: p.Name, Interval: p.Interval()})
	}
	return specs, nil
}

// SanitizeIntervals rewrites every stored interval below floor up to
// floor, and caps intervals above the one-week maximum. It returns the
// number of profiles rewritten. Invoked once at startup before jobs are
// scheduled.
func (s *Store) SanitizeIntervals(floor time.Duration) (int, error) {
	rewritten := 0
	err := s.Mutate(func(doc *Document) error {
		for _, p := range doc.Profiles {
			iv := p.Interval()
			switch {
			case iv < floor:
				p.SetInterval(floor)
				rewritten++
			case iv > MaxInterval:
				p.SetInterval(MaxInterval)
				rewritten++
			}
		}
		if rewritten == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if rewritten > 0 {
		s.logger.Info("store: sanitized scrape intervals", "rewritten", rewritten, "floor", floor)
	}
	return rewritten, nil
}

// errNoChange aborts a Mutate without writing.
var errNoChange = errors.New("store: no change")
