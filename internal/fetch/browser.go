package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// desktopUserAgents is the rotation pool. All entries are current desktop
// browsers; the pick is random per page.
var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
}

// maskInitScript runs before any page script and hides the obvious
// automation tells that stealth alone does not cover.
const maskInitScript = `(() => {
	Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
	Object.defineProperty(navigator, 'languages', {get: () => ['nl-NL', 'nl', 'en']});
	Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3]});
	window.chrome = window.chrome || {runtime: {}};
})();`

// BrowserConfig configures the rod agent.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty =
	// launch a local one via launcher.
	RemoteURL string

	// PageTimeout bounds one navigate-and-read. Default: 60s.
	PageTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.PageTimeout <= 0 {
		c.PageTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// BrowserAgent fetches pages through headless Chrome with stealth pages.
// The browser launches lazily on first fetch and is reused until Close.
type BrowserAgent struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowserAgent creates an agent. Chrome is not launched until the
// first FetchHTML call.
func NewBrowserAgent(cfg BrowserConfig) *BrowserAgent {
	cfg.defaults()
	return &BrowserAgent{cfg: cfg}
}

// FetchHTML navigates a fresh stealth tab to url and returns the rendered
// document HTML. The tab always closes before return.
func (a *BrowserAgent) FetchHTML(ctx context.Context, url string) (string, error) {
	b, err := a.ensureBrowser()
	if err != nil {
		return "", err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("fetch: stealth page: %w", err)
	}
	defer page.Close()

	pageCtx, cancel := context.WithTimeout(ctx, a.cfg.PageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	ua := desktopUserAgents[rand.Intn(len(desktopUserAgents))]
	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: "nl-NL,nl;q=0.9,en;q=0.6",
		Platform:       "Win32",
	})
	if err != nil {
		return "", fmt.Errorf("fetch: set user agent: %w", err)
	}
	if _, err := page.EvalOnNewDocument(maskInitScript); err != nil {
		a.cfg.Logger.Warn("fetch: webdriver mask failed", "error", err)
	}
	blockImages(page)

	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("fetch: navigate %s: %w", url, err)
	}
	// Eager load: DOM ready is enough, the result cards render server-side.
	if err := page.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		a.cfg.Logger.Debug("fetch: dom stability wait ended", "url", url, "error", err)
	}

	res, err := page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("fetch: read document: %w", err)
	}
	return res.Value.Str(), nil
}

// Close shuts Chrome down. The agent cannot be reused afterwards.
func (a *BrowserAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	if a.lnch != nil {
		a.lnch.Cleanup()
		a.lnch = nil
	}
	return nil
}

func (a *BrowserAgent) ensureBrowser() (*rod.Browser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("fetch: agent is closed")
	}
	if a.browser != nil {
		return a.browser, nil
	}

	var wsURL string
	if a.cfg.RemoteURL != "" {
		wsURL = a.cfg.RemoteURL
		a.cfg.Logger.Info("fetch: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("lang", "nl-NL").
			Set("disable-gpu").
			Set("no-first-run")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch chrome: %w", err)
		}
		wsURL = u
		a.lnch = l
		a.cfg.Logger.Info("fetch: launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: connect chrome: %w", err)
	}
	a.browser = b
	return b, nil
}

// blockImages intercepts requests and drops image and media loads. The
// listing thumbnails are referenced by URL only, never downloaded.
func blockImages(page *rod.Page) {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		switch h.Request.Type() {
		case proto.NetworkResourceTypeImage, proto.NetworkResourceTypeMedia, proto.NetworkResourceTypeFont:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	go router.Run()
}
