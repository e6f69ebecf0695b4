package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

// Supabase upserts through PostgREST. Conflict targets match the
// entity identity keys, so repeated runs update in place.
type Supabase struct {
	baseURL string
	key     string
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewSupabase builds the sink. Transient failures retry with backoff;
// 4xx responses fail immediately.
func NewSupabase(cfg config.SupabaseConfig, logger *slog.Logger) *Supabase {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &Supabase{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.ServiceRoleKey,
		client:  client,
		logger:  logger.With("component", "supabase_sink"),
	}
}

// row is the subset of a PostgREST representation we read back.
type row struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	WebsiteURL   string `json:"website_url"`
	LocationName string `json:"location_name,omitempty"`
}

func (s *Supabase) UpsertOrganization(ctx context.Context, org types.Organization) (string, error) {
	rows, err := s.upsert(ctx, "organizations", "website_url", []any{org})
	if err != nil {
		return "", &types.PersistError{Entity: "organization", Err: err}
	}
	if len(rows) == 0 {
		return "", &types.PersistError{Entity: "organization", Err: fmt.Errorf("no row returned")}
	}
	return rows[0].ID, nil
}

func (s *Supabase) UpsertLocations(ctx context.Context, orgRef string, locs []types.Location) (map[string]string, error) {
	refs := make(map[string]string, len(locs))
	if len(locs) == 0 {
		return refs, nil
	}

	payload := make([]any, 0, len(locs))
	for _, loc := range locs {
		loc.OrganizationRef = orgRef
		payload = append(payload, loc)
	}

	rows, err := s.upsert(ctx, "locations", "organization_ref,name", payload)
	if err != nil {
		return nil, &types.PersistError{Entity: "locations", Err: err}
	}
	for _, r := range rows {
		refs[r.Name] = r.ID
	}
	return refs, nil
}

func (s *Supabase) UpsertClasses(ctx context.Context, classes []types.Class) (int, error) {
	if len(classes) == 0 {
		return 0, nil
	}

	payload := make([]any, 0, len(classes))
	for _, c := range classes {
		if !c.Normalized() {
			continue
		}
		payload = append(payload, classRow{
			LocationRef:     c.LocationRef,
			Name:            c.Name,
			StartInstantUTC: c.StartInstantUTC,
			EndInstantUTC:   c.EndInstantUTC,
			Instructor:      c.Instructor,
			SpotsTotal:      c.SpotsTotal,
		})
	}
	if len(payload) == 0 {
		return 0, nil
	}

	rows, err := s.upsert(ctx, "classes", "location_ref,start_instant_utc,name", payload)
	if err != nil {
		return 0, &types.PersistError{Entity: "classes", Err: err}
	}
	return len(rows), nil
}

// classRow is the wire shape for the classes table: raw time strings
// never leave the process.
type classRow struct {
	LocationRef     string `json:"location_ref"`
	Name            string `json:"name"`
	StartInstantUTC string `json:"start_instant_utc"`
	EndInstantUTC   string `json:"end_instant_utc,omitempty"`
	Instructor      string `json:"instructor,omitempty"`
	SpotsTotal      int    `json:"spots_total,omitempty"`
}

// upsert POSTs a batch with merge-duplicates semantics and returns the
// resulting representations.
func (s *Supabase) upsert(ctx context.Context, table, onConflict string, payload []any) ([]row, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s", s.baseURL, table, onConflict)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=representation")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s upsert: status %d: %s", table, resp.StatusCode, truncate(string(data), 200))
	}

	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", table, err)
	}

	s.logger.Debug("upsert complete", "table", table, "rows", len(rows), "duration", time.Since(start))
	return rows, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
