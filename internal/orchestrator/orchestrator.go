// Package orchestrator sequences a full scrape run: compliance and trap
// checks, the two-path fetch, optional planning, extraction, validation
// with a single hinted retry, normalization, and persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"

	"github.com/milesc-bot/gym-scraper/internal/browser"
	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/dayworker"
	"github.com/milesc-bot/gym-scraper/internal/fetch"
	"github.com/milesc-bot/gym-scraper/internal/normalize"
	"github.com/milesc-bot/gym-scraper/internal/scrape"
	"github.com/milesc-bot/gym-scraper/internal/session"
	"github.com/milesc-bot/gym-scraper/internal/storage"
	"github.com/milesc-bot/gym-scraper/internal/trap"
	"github.com/milesc-bot/gym-scraper/internal/types"
	"github.com/milesc-bot/gym-scraper/internal/validate"
)

// Fetcher is the two-path page fetcher contract.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (*fetch.Result, error)
}

// Planner is the optional LLM collaborator.
type Planner interface {
	PlanPage(ctx context.Context, page *rod.Page) (*types.Plan, error)
}

// Orchestrator owns the shared per-process state and drives runs.
// Planner, Archiver, and Replayer may be nil; the run degrades
// gracefully without them.
type Orchestrator struct {
	cfg       *config.Config
	gate      *compliance.Gate
	traps     *trap.Detector
	fetcher   Fetcher
	factory   *scrape.Factory
	validator *validate.Validator
	session   *session.Manager
	planner   Planner
	sink      storage.Sink
	archiver  storage.Archiver
	replayer  *dayworker.Replayer
	now       func() time.Time
	logger    *slog.Logger
}

// Deps carries the collaborators for New.
type Deps struct {
	Gate     *compliance.Gate
	Traps    *trap.Detector
	Fetcher  Fetcher
	Session  *session.Manager
	Planner  Planner
	Sink     storage.Sink
	Archiver storage.Archiver
	Replayer *dayworker.Replayer
}

func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		gate:      deps.Gate,
		traps:     deps.Traps,
		fetcher:   deps.Fetcher,
		factory:   scrape.NewFactory(logger),
		validator: validate.New(logger),
		session:   deps.Session,
		planner:   deps.Planner,
		sink:      deps.Sink,
		archiver:  deps.Archiver,
		replayer:  deps.Replayer,
		now:       time.Now,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Run scrapes one URL end to end. defaultTZ is the IANA zone used for
// locations that do not declare their own.
func (o *Orchestrator) Run(ctx context.Context, rawURL, defaultTZ string) (*types.RunResult, error) {
	run := &types.RunResult{LocationRefs: make(map[string]string)}

	if err := config.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	host := mustHost(rawURL)

	// Stage 2: trap pre-check.
	if v := o.traps.CheckURL(rawURL); !v.Safe {
		return nil, &types.TrapError{URL: rawURL, Reason: v.Reason}
	}

	// Stage 3: gated fetch.
	res, err := o.fetchPage(ctx, rawURL, fetch.Options{}, false)
	if err != nil {
		return nil, err
	}
	dispose := func() {
		if res != nil && res.Dispose != nil {
			res.Dispose()
		}
	}
	defer dispose()

	// Stage 4: optional plan.
	if o.planner != nil && res.Page != nil {
		res = o.applyPlan(ctx, rawURL, res, run)
	}

	// Stage 5: extract.
	result, err := o.extract(res, rawURL)
	if err != nil {
		return nil, err
	}

	// Stage 6: validate, with exactly one hinted retry.
	report := o.validator.Validate(result, res.Body, isLive(res))
	if !report.Valid && report.RetryHint != types.RetryNone {
		res, result, report = o.retryWithHint(ctx, rawURL, res, result, report, run)
	}
	if !report.Valid {
		run.Warnings = append(run.Warnings,
			fmt.Sprintf("validation confidence %.2f below threshold: %s",
				report.Confidence, strings.Join(report.Signals, "; ")))
	}

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, rawURL, result); err != nil {
			o.logger.Warn("archive failed", "error", err)
		}
	}

	// Stage 7: trap content check, warn-only.
	if v := o.traps.CheckContent(rawURL, pageText(res.Body), len(result.Classes)); !v.Safe {
		run.Warnings = append(run.Warnings, "trap content check: "+v.Reason)
	}

	// Stage 8: normalize.
	o.normalizeClasses(result, defaultTZ, run)

	// Stage 9: persist.
	if err := o.persist(ctx, result, rawURL, defaultTZ, run); err != nil {
		return nil, err
	}

	// Optional week expansion through the page's own API.
	if o.replayer != nil && res.Page != nil {
		o.expandWeek(ctx, res.Page, rawURL, defaultTZ, run)
	}

	o.logger.Info("run complete",
		"url", rawURL,
		"host", host,
		"classes_upserted", run.ClassesUpserted,
		"warnings", len(run.Warnings),
	)
	return run, nil
}

// fetchPage waits on the session gate, takes the page limiter slot, and
// fetches. skipGate is set only by the login flow, which runs while the
// gate it would wait on is closed.
func (o *Orchestrator) fetchPage(ctx context.Context, rawURL string, opts fetch.Options, skipGate bool) (*fetch.Result, error) {
	if !skipGate {
		// A logout observed mid-browse closes the gate without anyone
		// owning the login flow; the first worker through here claims it.
		if o.session.NeedsLogin() {
			if err := o.reauthenticate(ctx, rawURL); err != nil {
				o.logger.Warn("re-login after session drop failed", "error", err)
			}
		}
		if err := o.session.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if !o.gate.IsAllowed(ctx, rawURL) {
		return nil, &types.FetchError{URL: rawURL, Err: fmt.Errorf("disallowed by robots.txt"), Retryable: false}
	}

	limiter := o.gate.PageLimiter(mustHost(rawURL))
	if err := limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer limiter.Release()

	res, err := o.fetcher.Fetch(ctx, rawURL, opts)
	if err != nil {
		var aw *types.AuthWallError
		if errors.As(err, &aw) && compliance.IsPaywall(aw.StatusCode) {
			return nil, fmt.Errorf("%w: %s", types.ErrPaywall, rawURL)
		}
		return nil, err
	}
	if compliance.IsPaywall(res.StatusCode) {
		return nil, fmt.Errorf("%w: %s", types.ErrPaywall, rawURL)
	}
	if strings.TrimSpace(res.Body) == "" {
		return nil, fmt.Errorf("%w: %s", types.ErrEmptyBody, rawURL)
	}
	return res, nil
}

// applyPlan consults the planner and acts on its findings. Planner
// failures never fail the run.
func (o *Orchestrator) applyPlan(ctx context.Context, rawURL string, res *fetch.Result, run *types.RunResult) *fetch.Result {
	plan, err := o.planner.PlanPage(ctx, res.Page)
	if err != nil {
		o.logger.Warn("planner unavailable", "error", err)
		return res
	}

	if plan.AuthWallDetected {
		if err := o.reauthenticate(ctx, rawURL); err != nil {
			run.Warnings = append(run.Warnings, "auth wall handling failed: "+err.Error())
			return res
		}
		fresh, err := o.fetchPage(ctx, rawURL, fetch.Options{ForceBrowser: true}, false)
		if err != nil {
			run.Warnings = append(run.Warnings, "post-login refetch failed: "+err.Error())
			return res
		}
		if res.Dispose != nil {
			res.Dispose()
		}
		return fresh
	}

	if plan.LoadMoreSelector != "" {
		o.clickLoadMore(res, plan.LoadMoreSelector)
	}
	return res
}

// clickLoadMore expands collapsed schedules and re-captures the HTML.
func (o *Orchestrator) clickLoadMore(res *fetch.Result, selector string) {
	has, el, err := res.Page.Has(selector)
	if err != nil || !has {
		return
	}
	if err := browser.HumanClick(res.Page, el); err != nil {
		o.logger.Debug("load-more click failed", "selector", selector, "error", err)
		return
	}
	time.Sleep(time.Second)
	if html, err := res.Page.HTML(); err == nil {
		res.Body = html
	}
}

func (o *Orchestrator) extract(res *fetch.Result, rawURL string) (*types.ScrapeResult, error) {
	ex := o.factory.For(res.Body, rawURL)
	result, err := ex.Extract(res.Body, rawURL)
	if err != nil {
		return nil, fmt.Errorf("extract (%s): %w", ex.Name(), err)
	}
	return result, nil
}

// retryWithHint performs the single validation-driven retry. Every hint
// forces the browser; wait-longer also extends the settle window, and
// re-authenticate runs the login flow first.
func (o *Orchestrator) retryWithHint(ctx context.Context, rawURL string, res *fetch.Result, result *types.ScrapeResult, report *types.ValidatorReport, run *types.RunResult) (*fetch.Result, *types.ScrapeResult, *types.ValidatorReport) {
	opts := fetch.Options{ForceBrowser: true}
	if report.RetryHint == types.RetryWaitLonger {
		opts.ExtraSettle = 5 * time.Second
	}
	if report.RetryHint == types.RetryReauthenticate {
		if err := o.reauthenticate(ctx, rawURL); err != nil {
			run.Warnings = append(run.Warnings, "re-authentication failed: "+err.Error())
			return res, result, report
		}
	}
	o.logger.Info("retrying with hint", "hint", report.RetryHint, "url", rawURL)

	fresh, err := o.fetchPage(ctx, rawURL, opts, false)
	if err != nil {
		run.Warnings = append(run.Warnings, "retry fetch failed: "+err.Error())
		return res, result, report
	}

	freshResult, err := o.extract(fresh, rawURL)
	if err != nil {
		run.Warnings = append(run.Warnings, "retry extract failed: "+err.Error())
		if fresh.Dispose != nil {
			fresh.Dispose()
		}
		return res, result, report
	}

	freshReport := o.validator.Validate(freshResult, fresh.Body, isLive(fresh))
	if !freshReport.Valid && freshReport.Confidence <= report.Confidence {
		// The retry did not improve anything; keep the original data.
		run.Warnings = append(run.Warnings,
			fmt.Sprintf("retry did not improve validation (%.2f -> %.2f)", report.Confidence, freshReport.Confidence))
		if fresh.Dispose != nil {
			fresh.Dispose()
		}
		return res, result, report
	}

	if res.Dispose != nil {
		res.Dispose()
	}
	return fresh, freshResult, freshReport
}

// reauthenticate closes the session gate, runs the login flow on a
// fresh browser page, and reopens the gate.
func (o *Orchestrator) reauthenticate(ctx context.Context, rawURL string) error {
	if !o.session.HasCredentials() {
		return fmt.Errorf("auth wall detected but no credentials configured")
	}
	if !o.session.BeginLogin() {
		// Someone else owns the flow, or it already ran; wait it out.
		return o.session.Wait(ctx)
	}

	res, err := o.fetchPage(ctx, rawURL, fetch.Options{ForceBrowser: true}, true)
	if err != nil {
		o.session.CompleteLogin(err)
		return err
	}
	defer func() {
		if res.Dispose != nil {
			res.Dispose()
		}
	}()
	if res.Page == nil {
		err := fmt.Errorf("no live page available for login")
		o.session.CompleteLogin(err)
		return err
	}

	err = o.session.Login(ctx, res.Page)
	o.session.CompleteLogin(err)
	return err
}

// normalizeClasses converts raw local times to UTC instants using each
// location's zone, falling back to defaultTZ. Failures keep the raw
// string and record a warning; such classes never reach the sink.
func (o *Orchestrator) normalizeClasses(result *types.ScrapeResult, defaultTZ string, run *types.RunResult) {
	zones := make(map[string]string, len(result.Locations))
	for _, loc := range result.Locations {
		if loc.IANATimezone != "" {
			zones[loc.Name] = loc.IANATimezone
		}
	}

	ref := o.now()
	for i := range result.Classes {
		cls := &result.Classes[i]
		tz := defaultTZ
		if z, ok := zones[cls.LocationName]; ok {
			tz = z
		}

		if cls.StartInstantUTC == "" && cls.StartTimeRaw != "" {
			nres, err := normalize.Normalize(cls.StartTimeRaw, tz, ref)
			if err != nil {
				run.Warnings = append(run.Warnings,
					fmt.Sprintf("normalize %q for %q: %v", cls.StartTimeRaw, cls.Name, err))
				continue
			}
			cls.StartInstantUTC = nres.InstantUTC
			if nres.Warning != "" {
				run.Warnings = append(run.Warnings, nres.Warning)
			}
		}

		if cls.EndInstantUTC == "" && cls.EndTimeRaw != "" {
			nres, err := normalize.Normalize(cls.EndTimeRaw, tz, ref)
			if err != nil {
				run.Warnings = append(run.Warnings,
					fmt.Sprintf("normalize end %q for %q: %v", cls.EndTimeRaw, cls.Name, err))
			} else {
				cls.EndInstantUTC = nres.InstantUTC
			}
		}
	}
}

// persist upserts organization, then locations, then classes. Orphan
// classes attach to a default location.
func (o *Orchestrator) persist(ctx context.Context, result *types.ScrapeResult, rawURL, defaultTZ string, run *types.RunResult) error {
	org := result.Organization
	if org.WebsiteURL == "" {
		org.WebsiteURL = rawURL
	}
	if org.Name == "" {
		org.Name = mustHost(rawURL)
	}

	orgRef, err := o.sink.UpsertOrganization(ctx, org)
	if err != nil {
		return err
	}
	run.OrganizationRef = orgRef

	locs := result.Locations
	defaultName := "Main"
	if len(locs) == 0 {
		locs = []types.Location{{Name: defaultName, IANATimezone: defaultTZ}}
	} else {
		defaultName = locs[0].Name
	}

	refs, err := o.sink.UpsertLocations(ctx, orgRef, locs)
	if err != nil {
		return err
	}
	run.LocationRefs = refs

	for i := range result.Classes {
		cls := &result.Classes[i]
		if ref, ok := refs[cls.LocationName]; ok {
			cls.LocationRef = ref
		} else {
			cls.LocationRef = refs[defaultName]
		}
	}

	n, err := o.sink.UpsertClasses(ctx, result.Classes)
	if err != nil {
		return err
	}
	run.ClassesUpserted += n

	dropped := 0
	for _, cls := range result.Classes {
		if !cls.Normalized() {
			dropped++
		}
	}
	if dropped > 0 {
		run.Warnings = append(run.Warnings, fmt.Sprintf("%d class(es) dropped for missing UTC instant", dropped))
	}
	return nil
}

// expandWeek watches the live page's own API traffic, derives a
// replayable day pattern, and fetches the coming week in parallel.
// Extra classes found in day responses go through the same
// normalize-and-persist path.
func (o *Orchestrator) expandWeek(ctx context.Context, page *rod.Page, rawURL, defaultTZ string, run *types.RunResult) {
	recorder := dayworker.NewRecorder(ctx, page)
	if err := page.Reload(); err != nil {
		o.logger.Debug("reload for traffic capture failed", "error", err)
		return
	}
	time.Sleep(3 * time.Second)

	pattern, ok := dayworker.DiscoverPattern(recorder.Snapshot())
	if !ok {
		o.logger.Debug("no replayable day pattern discovered", "url", rawURL)
		return
	}

	var cookieHeader string
	if lc, ok := o.fetcher.(interface{ Light() *fetch.LightClient }); ok {
		cookieHeader = lc.Light().CookieHeader(pattern.URLTemplate)
	}

	start := o.now().AddDate(0, 0, 1)
	results := o.replayer.FetchWeek(ctx, pattern, start, cookieHeader)

	extra := &types.ScrapeResult{Organization: types.Organization{WebsiteURL: rawURL}}
	for _, day := range results {
		if !day.Success {
			continue
		}
		body := string(day.Body)
		dayResult, err := o.extract(&fetch.Result{Body: body, StatusCode: day.StatusCode}, rawURL)
		if err != nil {
			continue
		}
		extra.Classes = append(extra.Classes, dayResult.Classes...)
	}
	if len(extra.Classes) == 0 {
		return
	}

	o.normalizeClasses(extra, defaultTZ, run)
	for i := range extra.Classes {
		cls := &extra.Classes[i]
		if ref, ok := run.LocationRefs[cls.LocationName]; ok {
			cls.LocationRef = ref
		} else {
			for _, ref := range run.LocationRefs {
				cls.LocationRef = ref
				break
			}
		}
	}
	n, err := o.sink.UpsertClasses(ctx, extra.Classes)
	if err != nil {
		run.Warnings = append(run.Warnings, "week expansion persist failed: "+err.Error())
		return
	}
	run.ClassesUpserted += n
}

// isLive reports whether a result reflects rendered page state, which
// the validator's pagination and auth-wall checks require.
func isLive(res *fetch.Result) bool {
	return res.Page != nil || res.Method == fetch.MethodBrowser
}

// pageText flattens HTML to visible text for the trap content check.
func pageText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Find("body").Text()
}

func mustHost(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Host
	}
	return rawURL
}
