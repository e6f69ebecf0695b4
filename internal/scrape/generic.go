package scrape

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// genericLineRe matches a schedule line of the shape
// "Monday 6:00 PM Yoga Flow" or "Mon 18:00 - 19:00 Spin (Alex)".
var genericLineRe = regexp.MustCompile(
	`(?i)^\s*((?:mon|tues?|wed(?:nes)?|thu(?:rs?)?|fri|sat(?:ur)?|sun)(?:day)?)\.?[\s,]+` +
		`(\d{1,2}(?::\d{2})?\s*(?:AM|PM)?)\s*` +
		`(?:[-–to]+\s*(\d{1,2}(?::\d{2})?\s*(?:AM|PM)?)\s+|\s+)` +
		`(.+?)\s*$`)

// instructorRe peels a trailing "with Alex" or "(Alex)" off a name.
var instructorRe = regexp.MustCompile(`(?i)^(.*?)\s*(?:with\s+([A-Z][\w.'-]*(?:\s+[A-Z][\w.'-]*)?)|\(([^)]+)\))\s*$`)

// generic is the fallback extractor: it scans the rendered text for
// day/time/name lines, so it works on any server-rendered page at the
// cost of precision.
type generic struct {
	logger *slog.Logger
}

func newGeneric(logger *slog.Logger) *generic {
	return &generic{logger: logger.With("extractor", "generic")}
}

func (g *generic) Name() string { return "generic" }

func (g *generic) Extract(html, pageURL string) (*types.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	res := &types.ScrapeResult{
		Organization: organizationFromPage(doc, pageURL),
	}

	doc.Find("script, style, noscript").Remove()
	seen := make(map[string]struct{})
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := genericLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		day, start, end, name := m[1], m[2], m[3], strings.TrimSpace(m[4])
		if name == "" || looksLikeNoise(name) {
			continue
		}

		cls := types.Class{
			Name:         name,
			StartTimeRaw: day + " " + strings.TrimSpace(start),
		}
		if end != "" {
			cls.EndTimeRaw = day + " " + strings.TrimSpace(end)
		}
		if im := instructorRe.FindStringSubmatch(name); im != nil {
			base := strings.TrimSpace(im[1])
			instructor := im[2]
			if instructor == "" {
				instructor = im[3]
			}
			if base != "" {
				cls.Name = base
				cls.Instructor = strings.TrimSpace(instructor)
			}
		}

		key := cls.Name + "\x00" + cls.StartTimeRaw
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		res.Classes = append(res.Classes, cls)
	}

	g.logger.Debug("generic extraction complete", "classes", len(res.Classes))
	return res, nil
}

// looksLikeNoise filters lines that match the shape but are clearly
// navigation or prose rather than a class name.
func looksLikeNoise(name string) bool {
	if len(name) > 80 {
		return true
	}
	lower := strings.ToLower(name)
	for _, w := range []string{"copyright", "cookie", "privacy", "all rights"} {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// organizationFromPage derives the organization identity from the page
// title or og:site_name, falling back to the host.
func organizationFromPage(doc *goquery.Document, pageURL string) types.Organization {
	org := types.Organization{WebsiteURL: canonicalSite(pageURL)}

	if name, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		org.Name = strings.TrimSpace(name)
	}
	if org.Name == "" {
		title := strings.TrimSpace(doc.Find("title").First().Text())
		// Titles are usually "Page | Site" or "Page - Site".
		for _, sep := range []string{"|", " - ", "–"} {
			if i := strings.LastIndex(title, sep); i >= 0 {
				title = strings.TrimSpace(title[i+len(sep):])
			}
		}
		org.Name = title
	}
	if org.Name == "" {
		if u, err := url.Parse(pageURL); err == nil {
			org.Name = u.Host
		}
	}
	return org
}

// canonicalSite reduces a page URL to its scheme+host identity anchor.
func canonicalSite(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return u.Scheme + "://" + u.Host
}
