package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/fetch"
	"github.com/milesc-bot/gym-scraper/internal/session"
	"github.com/milesc-bot/gym-scraper/internal/trap"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher returns scripted responses in order and records the
// options of each call. The last response repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []fetch.Options
}

type fakeResponse struct {
	body   string
	status int
	method fetch.Method
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, opts fetch.Options) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, opts)
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	method := r.method
	if method == "" {
		method = fetch.MethodLight
	}
	return &fetch.Result{Body: r.body, StatusCode: status, Method: method}, nil
}

// fakeSink records upserts and tracks net-new rows under the class
// identity key.
type fakeSink struct {
	mu       sync.Mutex
	orgCalls int
	rows     map[string]bool
	netNew   int
	failWith error
}

func newFakeSink() *fakeSink {
	return &fakeSink{rows: make(map[string]bool)}
}

func (s *fakeSink) UpsertOrganization(_ context.Context, org types.Organization) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return "", s.failWith
	}
	s.orgCalls++
	return "org-1", nil
}

func (s *fakeSink) UpsertLocations(_ context.Context, orgRef string, locs []types.Location) (map[string]string, error) {
	refs := make(map[string]string, len(locs))
	for _, loc := range locs {
		refs[loc.Name] = "loc-" + loc.Name
	}
	return refs, nil
}

func (s *fakeSink) UpsertClasses(_ context.Context, classes []types.Class) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range classes {
		if !c.Normalized() {
			continue
		}
		n++
		key := c.LocationRef + "\x00" + c.StartInstantUTC + "\x00" + c.Name
		if !s.rows[key] {
			s.rows[key] = true
			s.netNew++
		}
	}
	return n, nil
}

// harness bundles an orchestrator with its fakes and a server that
// answers robots.txt with 404 (unrestricted).
type harness struct {
	orch    *Orchestrator
	fetcher *fakeFetcher
	sink    *fakeSink
	traps   *trap.Detector
	sess    *session.Manager
	url     string
	close   func()
}

func newHarness(t *testing.T, responses ...fakeResponse) *harness {
	return buildHarness(t, config.SessionConfig{
		CookiePath: filepath.Join(t.TempDir(), "cookies.json"),
		CookieTTL:  time.Hour,
	}, responses...)
}

func buildHarness(t *testing.T, sessCfg config.SessionConfig, responses ...fakeResponse) *harness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	logger := testLogger()
	cfg := config.DefaultConfig()
	fetcher := &fakeFetcher{responses: responses}
	sink := newFakeSink()
	traps := trap.NewDetector(10, logger)
	sess := session.NewManager(sessCfg, nil, logger)

	orch := New(cfg, Deps{
		Gate:    compliance.NewGate("test-bot/1.0", time.Millisecond, time.Second, logger),
		Traps:   traps,
		Fetcher: fetcher,
		Session: sess,
		Sink:    sink,
	}, logger)

	return &harness{
		orch:    orch,
		fetcher: fetcher,
		sink:    sink,
		traps:   traps,
		sess:    sess,
		url:     srv.URL + "/schedule",
		close:   srv.Close,
	}
}

const happyBody = `<html><head><title>Schedule | Test Gym</title></head><body>
<p>Monday 6:00 PM Yoga</p>
<p>Tuesday 7:30 AM Spin</p>
<p>Wednesday 12:00 PM Powerlifting</p>
</body></html>`

func TestHappyPath(t *testing.T) {
	h := newHarness(t, fakeResponse{body: happyBody})
	defer h.close()

	run, err := h.orch.Run(context.Background(), h.url, "America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	if run.ClassesUpserted != 3 {
		t.Errorf("classesUpserted = %d, want 3", run.ClassesUpserted)
	}
	if run.OrganizationRef != "org-1" {
		t.Errorf("organizationRef = %q", run.OrganizationRef)
	}
	if len(h.fetcher.calls) != 1 {
		t.Errorf("fetch called %d times, want 1", len(h.fetcher.calls))
	}
	if len(run.LocationRefs) == 0 {
		t.Error("a default location should have been created")
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, fakeResponse{body: happyBody})
	defer h.close()

	first, err := h.orch.Run(context.Background(), h.url, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	// A fresh run resets crawl history; the sink keeps its rows.
	h.traps.Reset()
	afterFirst := h.sink.netNew

	second, err := h.orch.Run(context.Background(), h.url, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if first.ClassesUpserted != second.ClassesUpserted {
		t.Errorf("counts differ across runs: %d vs %d", first.ClassesUpserted, second.ClassesUpserted)
	}
	if h.sink.netNew != afterFirst {
		t.Errorf("second run created %d net-new rows, want 0", h.sink.netNew-afterFirst)
	}
}

func TestPaywallAborts(t *testing.T) {
	h := newHarness(t, fakeResponse{body: "pay up", status: http.StatusPaymentRequired})
	defer h.close()

	_, err := h.orch.Run(context.Background(), h.url, "UTC")
	if !errors.Is(err, types.ErrPaywall) {
		t.Fatalf("want ErrPaywall, got %v", err)
	}
	if h.sink.orgCalls != 0 {
		t.Error("no upserts may occur on a paywall")
	}
}

func TestEmptyBodyAborts(t *testing.T) {
	h := newHarness(t, fakeResponse{body: "   "})
	defer h.close()

	_, err := h.orch.Run(context.Background(), h.url, "UTC")
	if !errors.Is(err, types.ErrEmptyBody) {
		t.Fatalf("want ErrEmptyBody, got %v", err)
	}
}

func TestTrapURLAbortsPreFetch(t *testing.T) {
	h := newHarness(t, fakeResponse{body: happyBody})
	defer h.close()

	_, err := h.orch.Run(context.Background(), "https://x.example.com/a/a/a/a/", "UTC")
	var te *types.TrapError
	if !errors.As(err, &te) {
		t.Fatalf("want TrapError, got %v", err)
	}
	if len(h.fetcher.calls) != 0 {
		t.Error("fetch must not run for a trapped URL")
	}
}

func TestSecondVisitIsTrapped(t *testing.T) {
	h := newHarness(t, fakeResponse{body: happyBody})
	defer h.close()

	if _, err := h.orch.Run(context.Background(), h.url, "UTC"); err != nil {
		t.Fatal(err)
	}
	_, err := h.orch.Run(context.Background(), h.url, "UTC")
	var te *types.TrapError
	if !errors.As(err, &te) {
		t.Fatalf("second visit: want TrapError, got %v", err)
	}
}

func TestRobotsDisallowBlocksFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			io.WriteString(w, "User-agent: *\nDisallow: /\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := newHarness(t, fakeResponse{body: happyBody})
	defer h.close()

	_, err := h.orch.Run(context.Background(), srv.URL+"/schedule", "UTC")
	if err == nil || !strings.Contains(err.Error(), "robots") {
		t.Fatalf("want robots denial, got %v", err)
	}
	if len(h.fetcher.calls) != 0 {
		t.Error("fetch must not run when robots disallows")
	}
}

// Markup-polluted names trip the coherence check, whose hint forces the
// browser on the one retry.
const garbledBody = `<html><body>
<p>Monday 6:00 PM &lt;div&gt;Yoga&lt;/div&gt;</p>
<p>Tuesday 7:30 AM &lt;div&gt;Spin&lt;/div&gt;</p>
<p>Wednesday 12:00 PM &lt;div&gt;Lift&lt;/div&gt;</p>
</body></html>`

func TestSwitchToBrowserRetry(t *testing.T) {
	h := newHarness(t,
		fakeResponse{body: garbledBody},
		fakeResponse{body: happyBody},
	)
	defer h.close()

	run, err := h.orch.Run(context.Background(), h.url, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if len(h.fetcher.calls) != 2 {
		t.Fatalf("fetch called %d times, want 2", len(h.fetcher.calls))
	}
	if !h.fetcher.calls[1].ForceBrowser {
		t.Error("retry must force the browser path")
	}
	if run.ClassesUpserted != 3 {
		t.Errorf("classesUpserted = %d, want 3", run.ClassesUpserted)
	}
}

func TestWaitLongerRetryExtendsSettle(t *testing.T) {
	h := newHarness(t,
		fakeResponse{body: `<html><body><div id="root">loading</div></body></html>`},
		fakeResponse{body: happyBody},
	)
	defer h.close()

	run, err := h.orch.Run(context.Background(), h.url, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if len(h.fetcher.calls) != 2 {
		t.Fatalf("fetch called %d times, want 2", len(h.fetcher.calls))
	}
	retry := h.fetcher.calls[1]
	if !retry.ForceBrowser || retry.ExtraSettle != 5*time.Second {
		t.Errorf("retry opts = %+v", retry)
	}
	if run.ClassesUpserted != 3 {
		t.Errorf("classesUpserted = %d, want 3", run.ClassesUpserted)
	}
}

func TestFailedRetryProceedsWithWarning(t *testing.T) {
	shell := `<html><body><div id="root">loading</div></body></html>`
	h := newHarness(t,
		fakeResponse{body: shell},
		fakeResponse{body: shell},
	)
	defer h.close()

	run, err := h.orch.Run(context.Background(), h.url, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if len(h.fetcher.calls) != 2 {
		t.Fatalf("fetch called %d times, want exactly 2 (one retry)", len(h.fetcher.calls))
	}
	if run.ClassesUpserted != 0 {
		t.Errorf("classesUpserted = %d", run.ClassesUpserted)
	}
	if len(run.Warnings) == 0 {
		t.Error("a failed retry must leave a warning")
	}
}

func TestReauthenticateWithoutCredentialsWarns(t *testing.T) {
	authWall := `<html><body>
<p>Monday 6:00 PM Yoga</p>
<p>Tuesday 7:30 AM Spin</p>
<p>Wednesday 12:00 PM Lift</p>
<form><input type="password"></form>
</body></html>`
	h := newHarness(t, fakeResponse{body: authWall, method: fetch.MethodBrowser})
	defer h.close()

	run, err := h.orch.Run(context.Background(), h.url, "UTC")
	if err != nil {
		t.Fatal(err)
	}
	// No credentials: the hint cannot be followed, the run proceeds
	// with the data it has and records warnings.
	if len(h.fetcher.calls) != 1 {
		t.Errorf("fetch called %d times, want 1", len(h.fetcher.calls))
	}
	found := false
	for _, w := range run.Warnings {
		if strings.Contains(w, "re-authentication failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", run.Warnings)
	}
}

// An observed session drop closes the gate; the next fetch must run the
// login flow instead of browsing on logged-out. The fake fetcher never
// yields a live page, so the login cannot complete and the gate fails
// rather than letting a logged-out fetch through.
func TestSessionDropParksFetchUntilLoginResolves(t *testing.T) {
	h := buildHarness(t, config.SessionConfig{
		Username:   "user@example.com",
		Password:   "hunter2",
		CookiePath: filepath.Join(t.TempDir(), "cookies.json"),
		CookieTTL:  time.Hour,
	}, fakeResponse{body: happyBody})
	defer h.close()

	h.sess.MarkLoggedOut()

	_, err := h.orch.Run(context.Background(), h.url, "UTC")
	if !errors.Is(err, types.ErrGateFailed) {
		t.Fatalf("want ErrGateFailed, got %v", err)
	}
	if len(h.fetcher.calls) != 1 {
		t.Fatalf("fetch called %d times, want 1 (the login attempt)", len(h.fetcher.calls))
	}
	if !h.fetcher.calls[0].ForceBrowser {
		t.Error("the login flow must fetch through the browser")
	}
	if h.sink.orgCalls != 0 {
		t.Error("nothing may persist from a run that never got past the gate")
	}
}

func TestNormalizationFailureKeepsClassOut(t *testing.T) {
	body := `<html><body>
<p>Monday 6:00 PM Yoga</p>
<p>Tuesday 7:30 AM Spin</p>
<p>Wednesday 12:00 PM Lift</p>
</body></html>`
	h := newHarness(t, fakeResponse{body: body})
	defer h.close()

	// An invalid default zone makes every normalization fail.
	run, err := h.orch.Run(context.Background(), h.url, "Not/AZone")
	if err != nil {
		t.Fatal(err)
	}
	if run.ClassesUpserted != 0 {
		t.Errorf("classesUpserted = %d, want 0", run.ClassesUpserted)
	}
	if len(run.Warnings) == 0 {
		t.Error("normalization failures must be recorded as warnings")
	}
}

func TestSinkFailurePropagates(t *testing.T) {
	h := newHarness(t, fakeResponse{body: happyBody})
	defer h.close()
	h.sink.failWith = &types.PersistError{Entity: "organization", Err: errors.New("boom")}

	_, err := h.orch.Run(context.Background(), h.url, "UTC")
	var pe *types.PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("want PersistError, got %v", err)
	}
}
