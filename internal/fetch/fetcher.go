// Package fetch implements the two-path page fetcher: an impersonating
// light HTTP client tried first, with fallback to the headless browser
// when the light response does not look like a rendered schedule.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-rod/rod"

	"github.com/milesc-bot/gym-scraper/internal/browser"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

// Method records which path produced a Result.
type Method string

const (
	MethodLight   Method = "light"
	MethodBrowser Method = "browser"
)

// Result is a fetched page. Page and Dispose are set only on the
// browser path; callers that keep the page for interaction must call
// Dispose when done.
type Result struct {
	Body       string
	StatusCode int
	Headers    http.Header
	Method     Method
	Page       *rod.Page
	Dispose    func()
}

// Options tune a single fetch.
type Options struct {
	// ForceBrowser skips the light path entirely.
	ForceBrowser bool
	// ExtraSettle extends the post-navigation wait, for pages that
	// hydrate slowly.
	ExtraSettle time.Duration
}

var (
	timeTokenRe = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:AM|PM)?\b|\b\d{1,2}\s*(?:AM|PM)\b`)
	dayTokenRe  = regexp.MustCompile(`(?i)\b(?:mon|tues?|wed(?:nes)?|thu(?:rs)?|fri|sat(?:ur)?|sun)(?:day)?\b|\btoday\b|\btomorrow\b`)
)

// HasScheduleSignals reports whether a body contains at least one
// time-like token and at least one day-name token, the minimum evidence
// that a server-rendered schedule is present.
func HasScheduleSignals(body string) bool {
	return timeTokenRe.MatchString(body) && dayTokenRe.MatchString(body)
}

type decision int

const (
	decisionAccept decision = iota
	decisionBrowser
	decisionPaywall
)

// decide applies the light-path acceptance rule to a status and body.
func decide(statusCode int, body string) decision {
	if statusCode == http.StatusPaymentRequired {
		return decisionPaywall
	}
	if statusCode == http.StatusOK && HasScheduleSignals(body) {
		return decisionAccept
	}
	return decisionBrowser
}

// Fetcher coordinates the light and browser paths.
type Fetcher struct {
	light      *LightClient
	pool       *browser.Pool
	navTimeout time.Duration
	onRender   func(*rod.Page)
	logger     *slog.Logger
}

// NewFetcher wires the light client and browser pool together.
func NewFetcher(light *LightClient, pool *browser.Pool, navTimeout time.Duration, logger *slog.Logger) *Fetcher {
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	return &Fetcher{
		light:      light,
		pool:       pool,
		navTimeout: navTimeout,
		logger:     logger.With("component", "fetcher"),
	}
}

// Light exposes the light client for callers that need its cookie jar.
func (f *Fetcher) Light() *LightClient { return f.light }

// OnRender registers a callback run on every rendered page after the
// settle window, before the result is returned. The session manager
// uses it to watch for login walls.
func (f *Fetcher) OnRender(fn func(*rod.Page)) { f.onRender = fn }

// Fetch retrieves a URL, choosing the path per the acceptance rule.
// A 402 on the light path is terminal: the browser would hit the same
// paywall, so there is no fallback.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if !opts.ForceBrowser {
		res, err := f.light.Get(ctx, rawURL)
		if err == nil {
			switch decide(res.StatusCode, res.Body) {
			case decisionAccept:
				f.logger.Debug("light path accepted", "url", rawURL)
				return res, nil
			case decisionPaywall:
				return nil, &types.AuthWallError{URL: rawURL, StatusCode: res.StatusCode}
			}
			f.logger.Debug("light path rejected, switching to browser",
				"url", rawURL, "status", res.StatusCode)
		} else {
			if ctx.Err() != nil {
				return nil, err
			}
			f.logger.Debug("light path failed, switching to browser",
				"url", rawURL, "error", err)
		}
	}
	return f.fetchBrowser(ctx, rawURL, opts)
}

// fetchBrowser renders the page in the pool. The returned Result keeps
// the live page open; the caller disposes it.
func (f *Fetcher) fetchBrowser(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	page, dispose, err := f.pool.Borrow()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	page = page.Context(ctx)

	if err := page.Timeout(f.navTimeout).Navigate(rawURL); err != nil {
		dispose()
		return nil, &types.FetchError{URL: rawURL, Err: fmt.Errorf("navigate: %w", err), Retryable: true}
	}

	wait := page.Timeout(f.navTimeout).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	wait()

	settle := time.Second + opts.ExtraSettle
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		dispose()
		return nil, ctx.Err()
	}

	browser.IdleBehavior(page)

	if f.onRender != nil {
		f.onRender(page)
	}

	html, err := page.HTML()
	if err != nil {
		dispose()
		return nil, &types.FetchError{URL: rawURL, Err: fmt.Errorf("capture html: %w", err), Retryable: true}
	}

	f.logger.Debug("browser fetch complete", "url", rawURL, "size", len(html))

	return &Result{
		Body:       html,
		StatusCode: http.StatusOK,
		Method:     MethodBrowser,
		Page:       page,
		Dispose:    dispose,
	}, nil
}
