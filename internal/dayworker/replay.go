package dayworker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

const weekDays = 7

// Replayer substitutes dates into a discovered pattern and fetches a
// week of schedule data directly from the site's API.
type Replayer struct {
	client  *http.Client
	gate    *compliance.Gate
	logger  *slog.Logger
	maxBody int64
}

// NewReplayer builds a Replayer on a plain HTTP client; the heavy
// impersonation of the page paths is unnecessary here because the
// requests mirror ones the page itself just made.
func NewReplayer(gate *compliance.Gate, timeout time.Duration, maxBody int64, logger *slog.Logger) *Replayer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Replayer{
		client:  &http.Client{Timeout: timeout},
		gate:    gate,
		logger:  logger.With("component", "day_worker"),
		maxBody: maxBody,
	}
}

// FetchWeek replays the pattern for seven consecutive days starting at
// start. Days run concurrently under the per-host API limiter; results
// come back indexed by day offset regardless of completion order.
// cookieHeader, when non-empty, rides along as the Cookie header.
func (r *Replayer) FetchWeek(ctx context.Context, pattern *types.DayAPIPattern, start time.Time, cookieHeader string) []types.DayFetchResult {
	results := make([]types.DayFetchResult, weekDays)

	host := patternHost(pattern)
	limiter := r.gate.APILimiter(host)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < weekDays; i++ {
		day := start.AddDate(0, 0, i)
		idx := i
		g.Go(func() error {
			date := FormatDate(pattern.DateLayout, day)
			res := r.fetchDay(gctx, pattern, limiter, date, cookieHeader)
			res.Date = day.Format(LayoutISO)
			results[idx] = res
			return nil
		})
	}
	g.Wait()

	ok := 0
	for _, res := range results {
		if res.Success {
			ok++
		}
	}
	r.logger.Info("week replay complete", "host", host, "succeeded", ok, "days", weekDays)
	return results
}

func (r *Replayer) fetchDay(ctx context.Context, pattern *types.DayAPIPattern, limiter *compliance.Limiter, date, cookieHeader string) types.DayFetchResult {
	if err := limiter.Acquire(ctx); err != nil {
		return types.DayFetchResult{Err: err}
	}
	defer limiter.Release()

	reqURL := strings.ReplaceAll(pattern.URLTemplate, types.DatePlaceholder, date)

	var body io.Reader
	if pattern.BodyTemplate != "" {
		body = strings.NewReader(strings.ReplaceAll(pattern.BodyTemplate, types.DatePlaceholder, date))
	}

	req, err := http.NewRequestWithContext(ctx, pattern.Method, reqURL, body)
	if err != nil {
		return types.DayFetchResult{Err: err}
	}
	for k, v := range pattern.Headers {
		req.Header.Set(k, v)
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return types.DayFetchResult{Err: &types.FetchError{URL: reqURL, Err: err, Retryable: true}}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if r.maxBody > 0 {
		reader = io.LimitReader(reader, r.maxBody)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return types.DayFetchResult{StatusCode: resp.StatusCode, Err: err}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !success {
		r.logger.Debug("day replay rejected", "url", reqURL, "status", resp.StatusCode)
	}
	return types.DayFetchResult{
		StatusCode: resp.StatusCode,
		Body:       data,
		Success:    success,
	}
}

func patternHost(pattern *types.DayAPIPattern) string {
	if u, err := url.Parse(pattern.URLTemplate); err == nil {
		return u.Host
	}
	return ""
}
