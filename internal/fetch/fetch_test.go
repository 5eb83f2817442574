package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubAgent scripts a sequence of responses.
type stubAgent struct {
	responses []stubResponse
	calls     int
	closed    bool
}

type stubResponse struct {
	html string
	err  error
}

func (s *stubAgent) FetchHTML(ctx context.Context, url string) (string, error) {
	if s.calls >= len(s.responses) {
		return "", errors.New("stub exhausted")
	}
	r := s.responses[s.calls]
	s.calls++
	return r.html, r.err
}

func (s *stubAgent) Close() error {
	s.closed = true
	return nil
}

func bigPage() string {
	return "<html><body>" + strings.Repeat("<div>listing</div>", 100) + "</body></html>"
}

func noSleep(ctx context.Context, d time.Duration) {}

func newTestFetcher(agent Agent) *Fetcher {
	return New(agent, Config{MaxRetries: 3, BaseDelay: time.Millisecond, sleep: noSleep})
}

func TestFetch_FirstAttemptSucceeds(t *testing.T) {
	// WHAT: A large enough document on the first attempt returns as-is.
	// WHY: The happy path must not retry or inflate counters.
	agent := &stubAgent{responses: []stubResponse{{html: bigPage()}}}
	f := newTestFetcher(agent)

	got, err := f.Fetch(context.Background(), "https://example.test/zoeken")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != bigPage() {
		t.Error("returned HTML differs from agent output")
	}
	st := f.Stats()
	if st.Attempts != 1 || st.Successes != 1 || st.Retries != 0 || st.Failures != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFetch_RetriesOnErrorThenSucceeds(t *testing.T) {
	// WHAT: Agent errors trigger retries until an attempt succeeds.
	// WHY: Transient navigation failures should not fail the cycle.
	agent := &stubAgent{responses: []stubResponse{
		{err: errors.New("net::ERR_CONNECTION_RESET")},
		{html: bigPage()},
	}}
	f := newTestFetcher(agent)

	if _, err := f.Fetch(context.Background(), "https://example.test/"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	st := f.Stats()
	if st.Attempts != 2 || st.Retries != 1 || st.Successes != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFetch_UndersizedDocumentCountsAsFailure(t *testing.T) {
	// WHAT: Documents under the size floor are retried and, when every
	// attempt is small, the fetch fails with ErrNetwork.
	// WHY: Bot walls return tiny interstitials with status 200.
	agent := &stubAgent{responses: []stubResponse{
		{html: "<html>blocked</html>"},
		{html: "<html>blocked</html>"},
		{html: "<html>blocked</html>"},
	}}
	f := newTestFetcher(agent)

	_, err := f.Fetch(context.Background(), "https://example.test/")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	st := f.Stats()
	if st.Attempts != 3 || st.Failures != 1 || st.Successes != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFetch_ExhaustedRetriesWrapErrNetwork(t *testing.T) {
	// WHAT: After MaxRetries failed attempts the error matches ErrNetwork
	// and carries the last underlying cause.
	// WHY: The orchestrator branches on ErrNetwork to set last_error.
	agent := &stubAgent{responses: []stubResponse{
		{err: errors.New("timeout A")},
		{err: errors.New("timeout B")},
		{err: errors.New("timeout C")},
	}}
	f := newTestFetcher(agent)

	_, err := f.Fetch(context.Background(), "https://example.test/")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if !strings.Contains(err.Error(), "timeout C") {
		t.Errorf("error does not carry last cause: %v", err)
	}
}

func TestFetch_CancelledContextStopsRetrying(t *testing.T) {
	// WHAT: A cancelled context aborts between attempts.
	// WHY: Shutdown must not wait out the backoff schedule.
	agent := &stubAgent{responses: []stubResponse{
		{err: errors.New("first failure")},
		{html: bigPage()},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	f := New(agent, Config{MaxRetries: 3, BaseDelay: time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) { cancel() }})

	_, err := f.Fetch(ctx, "https://example.test/")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if agent.calls != 1 {
		t.Errorf("agent called %d times after cancel, want 1", agent.calls)
	}
}

func TestFetcher_CloseReleasesAgent(t *testing.T) {
	// WHAT: Close propagates to the agent.
	// WHY: Chrome must shut down with the process.
	agent := &stubAgent{}
	f := newTestFetcher(agent)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if !agent.closed {
		t.Error("agent not closed")
	}
}
