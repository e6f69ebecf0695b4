package scrape

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// mindbody handles Mindbody and embedded Healcode widgets. The widget
// markup is stable enough for XPath: each session is a bw-session block
// with name/time/staff children; the classic schedule table uses
// day-header rows followed by session rows.
type mindbody struct {
	logger *slog.Logger
}

func newMindbody(logger *slog.Logger) *mindbody {
	return &mindbody{logger: logger.With("extractor", "mindbody")}
}

func (m *mindbody) Name() string { return "mindbody" }

func (m *mindbody) Extract(htmlSrc, pageURL string) (*types.ScrapeResult, error) {
	doc, err := htmlquery.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	res := &types.ScrapeResult{
		Organization: organizationFromHTMLDoc(doc, pageURL),
	}

	res.Classes = m.extractHealcode(doc)
	if len(res.Classes) == 0 {
		res.Classes = m.extractClassicTable(doc)
	}

	m.logger.Debug("mindbody extraction complete", "classes", len(res.Classes))
	return res, nil
}

// extractHealcode reads the bw-session widget blocks.
func (m *mindbody) extractHealcode(doc *html.Node) []types.Class {
	var classes []types.Class
	for _, session := range htmlquery.Find(doc, `//div[contains(concat(" ",normalize-space(@class)," ")," bw-session ")]`) {
		name := nodeText(session, `.//*[contains(@class,"bw-session__name")]`)
		if name == "" {
			continue
		}
		cls := types.Class{
			Name:         name,
			StartTimeRaw: nodeText(session, `.//time[contains(@class,"hc_starttime")]`),
			EndTimeRaw:   nodeText(session, `.//time[contains(@class,"hc_endtime")]`),
			Instructor:   nodeText(session, `.//*[contains(@class,"bw-session__staff")]`),
		}
		if cls.StartTimeRaw == "" {
			cls.StartTimeRaw = nodeText(session, `.//*[contains(@class,"bw-session__time")]`)
		}
		if day := healcodeDay(session); day != "" && cls.StartTimeRaw != "" {
			cls.StartTimeRaw = day + " " + cls.StartTimeRaw
			if cls.EndTimeRaw != "" {
				cls.EndTimeRaw = day + " " + cls.EndTimeRaw
			}
		}
		classes = append(classes, cls)
	}
	return classes
}

// healcodeDay finds the day header the session block sits under by
// walking preceding siblings.
func healcodeDay(session *html.Node) string {
	if header := htmlquery.FindOne(session, `preceding-sibling::div[contains(@class,"bw-widget__date")][1]`); header != nil {
		return strings.TrimSpace(htmlquery.InnerText(header))
	}
	return ""
}

// extractClassicTable reads the legacy classSchedule table: header rows
// carry the day, following rows carry the sessions.
func (m *mindbody) extractClassicTable(doc *html.Node) []types.Class {
	var classes []types.Class
	currentDay := ""
	for _, row := range htmlquery.Find(doc, `//table[contains(@class,"classSchedule")]//tr`) {
		if header := htmlquery.FindOne(row, `.//td[contains(@class,"header")]`); header != nil {
			currentDay = firstWord(htmlquery.InnerText(header))
			continue
		}
		cells := htmlquery.Find(row, `.//td`)
		if len(cells) < 2 {
			continue
		}
		start := strings.TrimSpace(htmlquery.InnerText(cells[0]))
		name := strings.TrimSpace(htmlquery.InnerText(cells[1]))
		if name == "" || start == "" {
			continue
		}
		cls := types.Class{Name: name, StartTimeRaw: strings.TrimSpace(currentDay + " " + start)}
		if len(cells) >= 3 {
			cls.Instructor = strings.TrimSpace(htmlquery.InnerText(cells[2]))
		}
		classes = append(classes, cls)
	}
	return classes
}

// nodeText evaluates an XPath under a node and returns its trimmed text.
func nodeText(node *html.Node, expr string) string {
	found, err := htmlquery.QueryAll(node, expr)
	if err != nil || len(found) == 0 {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(found[0]))
}

func firstWord(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// organizationFromHTMLDoc mirrors organizationFromPage for the
// htmlquery document type.
func organizationFromHTMLDoc(doc *html.Node, pageURL string) types.Organization {
	org := types.Organization{WebsiteURL: canonicalSite(pageURL)}
	if meta := htmlquery.FindOne(doc, `//meta[@property="og:site_name"]`); meta != nil {
		org.Name = strings.TrimSpace(htmlquery.SelectAttr(meta, "content"))
	}
	if org.Name == "" {
		if title := htmlquery.FindOne(doc, `//title`); title != nil {
			org.Name = strings.TrimSpace(htmlquery.InnerText(title))
		}
	}
	return org
}
