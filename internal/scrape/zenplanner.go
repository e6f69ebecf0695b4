package scrape

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// zenPlanner handles Zen Planner calendar pages: a column per day, with
// the weekday in the column header and one block per session.
type zenPlanner struct {
	logger *slog.Logger
}

func newZenPlanner(logger *slog.Logger) *zenPlanner {
	return &zenPlanner{logger: logger.With("extractor", "zenplanner")}
}

func (z *zenPlanner) Name() string { return "zenplanner" }

func (z *zenPlanner) Extract(html, pageURL string) (*types.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	res := &types.ScrapeResult{
		Organization: organizationFromPage(doc, pageURL),
	}

	doc.Find(".calendar-day, .day-column").Each(func(_ int, col *goquery.Selection) {
		day := firstWord(col.Find(".day-label, .calendar-day-header, th").First().Text())
		col.Find(".calendar-event, .schedule-item, .event").Each(func(_ int, ev *goquery.Selection) {
			name := strings.TrimSpace(ev.Find(".event-name, .item-name, a").First().Text())
			start := strings.TrimSpace(ev.Find(".event-time, .item-time, time").First().Text())
			if name == "" || start == "" {
				return
			}
			cls := types.Class{
				Name:         name,
				StartTimeRaw: strings.TrimSpace(day + " " + start),
				Instructor:   strings.TrimSpace(ev.Find(".event-staff, .instructor").First().Text()),
			}
			res.Classes = append(res.Classes, cls)
		})
	})

	z.logger.Debug("zenplanner extraction complete", "classes", len(res.Classes))
	return res, nil
}
