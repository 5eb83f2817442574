// Package fetch retrieves search-result pages through a headless browser
// with retry, pacing, and bot-wall detection. The Agent interface isolates
// the Chrome dependency; everything above it is plain retry logic.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// ErrNetwork marks a fetch that exhausted its retries. The cycle records
// it in the profile's last_error and moves on.
var ErrNetwork = errors.New("fetch: network failure")

// minHTMLBytes is the smallest document accepted as a real result page.
// Bot walls and error interstitials come in well under this.
const minHTMLBytes = 1024

// Agent retrieves one rendered page. The production implementation is
// BrowserAgent; tests substitute a stub.
type Agent interface {
	FetchHTML(ctx context.Context, url string) (string, error)
	Close() error
}

// Config configures the Fetcher.
type Config struct {
	// MaxRetries is the number of attempts per URL. Default: 3.
	MaxRetries int

	// BaseDelay is the upper bound of the random pre-attempt pause.
	// Default: 3s.
	BaseDelay time.Duration

	// Jitter enables the 2-5s post-fetch pause that spaces successive
	// page loads apart. Disabled in tests.
	Jitter bool

	Logger *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

func (c *Config) defaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
}

// Stats counts fetch outcomes since process start.
type Stats struct {
	Attempts  int64
	Successes int64
	Failures  int64
	Retries   int64
}

// Fetcher wraps an Agent with retries, pacing, and result validation.
type Fetcher struct {
	cfg   Config
	agent Agent

	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	retries   atomic.Int64
}

// New creates a Fetcher around agent.
func New(agent Agent, cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{cfg: cfg, agent: agent}
}

// Fetch retrieves url, retrying on errors and on suspiciously small
// documents. Backoff between attempts is attempt×10s plus a random slice
// of BaseDelay. Returns ErrNetwork-wrapped errors once retries run out.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			f.retries.Add(1)
			backoff := time.Duration(attempt)*10*time.Second +
				time.Duration(rand.Int63n(int64(f.cfg.BaseDelay)+1))
			f.cfg.Logger.Info("fetch: retrying",
				"url", url, "attempt", attempt, "backoff", backoff)
			f.cfg.sleep(ctx, backoff)
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("fetch: %s: %w", url, err)
		}

		f.attempts.Add(1)
		htmlSrc, err := f.agent.FetchHTML(ctx, url)
		if err != nil {
			lastErr = err
			f.cfg.Logger.Warn("fetch: attempt failed",
				"url", url, "attempt", attempt, "error", err)
			continue
		}
		if len(htmlSrc) < minHTMLBytes {
			lastErr = fmt.Errorf("document too small (%d bytes), likely blocked", len(htmlSrc))
			f.cfg.Logger.Warn("fetch: undersized document",
				"url", url, "attempt", attempt, "bytes", len(htmlSrc))
			continue
		}

		f.successes.Add(1)
		if f.cfg.Jitter {
			// Space page loads 2-5s apart so cadence stays human-ish.
			f.cfg.sleep(ctx, 2*time.Second+time.Duration(rand.Int63n(int64(3*time.Second))))
		}
		return htmlSrc, nil
	}

	f.failures.Add(1)
	return "", fmt.Errorf("%w: %s after %d attempts: %v",
		ErrNetwork, url, f.cfg.MaxRetries, lastErr)
}

// Stats returns the cumulative fetch counters.
func (f *Fetcher) Stats() Stats {
	return Stats{
		Attempts:  f.attempts.Load(),
		Successes: f.successes.Load(),
		Failures:  f.failures.Load(),
		Retries:   f.retries.Load(),
	}
}

// Close releases the underlying agent.
func (f *Fetcher) Close() error {
	return f.agent.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
