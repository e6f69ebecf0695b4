// Package scrape turns fetched schedule HTML into a ScrapeResult.
// Known platforms get dedicated extractors picked by substring
// signatures; everything else goes through the generic extractor.
package scrape

import (
	"log/slog"
	"strings"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// Extractor pulls a ScrapeResult out of one page.
type Extractor interface {
	// Name identifies the extractor in logs and signals.
	Name() string
	Extract(html, pageURL string) (*types.ScrapeResult, error)
}

// rule binds platform fingerprints to an extractor constructor.
// Rules are evaluated in order; the first with any matching signature
// wins.
type rule struct {
	signatures []string
	build      func(logger *slog.Logger) Extractor
}

var rules = []rule{
	{
		signatures: []string{"mindbody", "healcode", "brandedweb", "bw-session"},
		build:      func(l *slog.Logger) Extractor { return newMindbody(l) },
	},
	{
		signatures: []string{"zenplanner", "zen planner"},
		build:      func(l *slog.Logger) Extractor { return newZenPlanner(l) },
	},
}

// Factory dispatches pages to extractors.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger.With("component", "scraper_factory")}
}

// For picks the extractor for a page by scanning URL and HTML for
// platform signatures.
func (f *Factory) For(html, pageURL string) Extractor {
	haystack := strings.ToLower(pageURL) + "\x00" + strings.ToLower(html)
	for _, r := range rules {
		for _, sig := range r.signatures {
			if strings.Contains(haystack, sig) {
				ex := r.build(f.logger)
				f.logger.Debug("extractor selected", "extractor", ex.Name(), "signature", sig)
				return ex
			}
		}
	}
	return newGeneric(f.logger)
}
