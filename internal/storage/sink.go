// Package storage persists scrape output: an upsert sink keyed on the
// natural identity of each entity, plus an optional raw-result archive.
package storage

import (
	"context"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// Sink is the upsert contract. Implementations must be idempotent
// under the identity keys: organizations by website URL, locations by
// (organization, name), classes by (location, start instant, name).
type Sink interface {
	UpsertOrganization(ctx context.Context, org types.Organization) (string, error)
	UpsertLocations(ctx context.Context, orgRef string, locs []types.Location) (map[string]string, error)
	UpsertClasses(ctx context.Context, classes []types.Class) (int, error)
}

// Archiver stores raw scrape results for later inspection. Archive
// failures never fail a run.
type Archiver interface {
	Archive(ctx context.Context, pageURL string, res *types.ScrapeResult) error
	Close(ctx context.Context) error
}
