// Package validate scores a ScrapeResult against independent signals in
// the page it came from. Confidence is the product of per-check factors
// and a retry hint tells the caller how a single retry should differ.
package validate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

const validThreshold = 0.5

var markupChars = `<>{}[]\`

var paginationWords = []string{
	"next", "forward", "tomorrow", "next day", "next week", "→", "›", "»",
}

var authPhrases = []string{
	"sign in", "log in", "enter your password", "authentication required",
}

// Validator runs the check chain. It is stateless; one instance serves
// all runs.
type Validator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "validator")}
}

// check is one factor in the confidence product.
type check struct {
	factor float64
	signal string
	hint   types.RetryHint
}

// Validate cross-checks the extracted result against the raw HTML it
// was extracted from. Checks run in a fixed order; the first hint wins.
// The pagination and auth-wall checks inspect rendered page state, so
// they run only for results that came through the browser (live).
func (v *Validator) Validate(res *types.ScrapeResult, html string, live bool) *types.ValidatorReport {
	checks := []check{
		checkCount(res),
		checkCoherence(res),
		checkDuplicates(res),
	}
	if live {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			checks = append(checks, checkPagination(doc), checkAuthWall(doc, html))
		}
	}

	report := &types.ValidatorReport{Confidence: 1.0}
	for _, c := range checks {
		if c.factor == 0 {
			continue
		}
		report.Confidence *= c.factor
		if c.signal != "" {
			report.Signals = append(report.Signals, c.signal)
		}
		if report.RetryHint == types.RetryNone && c.hint != types.RetryNone {
			report.RetryHint = c.hint
		}
	}
	report.Valid = report.Confidence >= validThreshold

	v.logger.Debug("validation complete",
		"confidence", report.Confidence,
		"valid", report.Valid,
		"hint", report.RetryHint,
		"signals", len(report.Signals),
	)
	return report
}

// checkCount flags implausibly small class counts.
func checkCount(res *types.ScrapeResult) check {
	n := len(res.Classes)
	switch {
	case n == 0:
		return check{0.1, "no classes extracted", types.RetryWaitLonger}
	case n < 3:
		return check{0.5, fmt.Sprintf("only %d class(es) extracted", n), types.RetryPaginateForward}
	}
	return check{factor: 1.0}
}

// checkCoherence flags class names polluted with markup characters,
// the signature of an extractor that grabbed raw fragments.
func checkCoherence(res *types.ScrapeResult) check {
	if len(res.Classes) == 0 {
		return check{factor: 1.0}
	}
	polluted := 0
	for _, c := range res.Classes {
		if strings.ContainsAny(c.Name, markupChars) {
			polluted++
		}
	}
	if polluted == 0 {
		return check{factor: 1.0}
	}
	ratio := float64(polluted) / float64(len(res.Classes))
	if ratio > 0.3 {
		return check{0.2, fmt.Sprintf("%d/%d class names contain markup", polluted, len(res.Classes)), types.RetrySwitchToBrowser}
	}
	return check{0.7, fmt.Sprintf("%d/%d class names contain markup", polluted, len(res.Classes)), types.RetryNone}
}

// checkDuplicates flags results dominated by repeated (name, start)
// pairs, usually a selector matching the same row many times.
func checkDuplicates(res *types.ScrapeResult) check {
	total := len(res.Classes)
	if total == 0 {
		return check{factor: 1.0}
	}
	seen := make(map[string]struct{}, total)
	for _, c := range res.Classes {
		seen[c.Name+"\x00"+c.StartTimeRaw] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(total)
	switch {
	case ratio < 0.3:
		return check{0.2, fmt.Sprintf("duplicate ratio %.2f", ratio), types.RetryWaitLonger}
	case ratio < 0.5:
		return check{0.6, fmt.Sprintf("duplicate ratio %.2f", ratio), types.RetryNone}
	}
	return check{factor: 1.0}
}

// checkPagination looks for an enabled forward-navigation control,
// evidence that the extracted day is only part of the schedule.
func checkPagination(doc *goquery.Document) check {
	found := false
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if _, disabled := s.Attr("disabled"); disabled {
			return true
		}
		if cls, ok := s.Attr("class"); ok && strings.Contains(strings.ToLower(cls), "disabled") {
			return true
		}
		labels := []string{
			strings.ToLower(strings.TrimSpace(s.Text())),
			strings.ToLower(s.AttrOr("aria-label", "")),
			strings.ToLower(s.AttrOr("title", "")),
		}
		for _, label := range labels {
			if label == "" {
				continue
			}
			for _, w := range paginationWords {
				if strings.Contains(label, w) {
					found = true
					return false
				}
			}
		}
		return true
	})
	if found {
		return check{0.7, "enabled pagination control present", types.RetryPaginateForward}
	}
	return check{factor: 1.0}
}

// checkAuthWall looks for login-wall markers: a password input is
// near-certain, repeated auth phrasing is suggestive.
func checkAuthWall(doc *goquery.Document, html string) check {
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return check{0.1, "password input present", types.RetryReauthenticate}
	}
	lower := strings.ToLower(html)
	hits := 0
	for _, p := range authPhrases {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	if hits >= 2 {
		return check{0.4, fmt.Sprintf("%d auth phrases present", hits), types.RetryReauthenticate}
	}
	return check{factor: 1.0}
}
