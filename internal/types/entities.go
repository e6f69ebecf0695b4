package types

// Organization is the top-level entity a scrape resolves to.
// Identity anchor is WebsiteURL.
type Organization struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url"`
}

// Location is a physical gym site under an organization.
// Identity under an organization is Name.
type Location struct {
	OrganizationRef string `json:"organization_ref,omitempty"`
	Name            string `json:"name"`
	Address         string `json:"address,omitempty"`
	IANATimezone    string `json:"iana_timezone"`
}

// Class is a single scheduled session. Until normalization runs,
// StartTimeRaw/EndTimeRaw hold the local strings as extracted; after
// normalization StartInstantUTC/EndInstantUTC hold ISO-8601 UTC instants.
// Identity under a location is (StartInstantUTC, Name).
type Class struct {
	LocationRef  string `json:"location_ref,omitempty"`
	LocationName string `json:"location_name,omitempty"`
	Name         string `json:"name"`

	StartTimeRaw string `json:"start_time_raw,omitempty"`
	EndTimeRaw   string `json:"end_time_raw,omitempty"`

	StartInstantUTC string `json:"start_instant_utc,omitempty"`
	EndInstantUTC   string `json:"end_instant_utc,omitempty"`

	Instructor string `json:"instructor,omitempty"`
	SpotsTotal int    `json:"spots_total,omitempty"`
}

// Normalized reports whether the class carries a valid UTC start instant.
// Classes that fail normalization never reach the upsert sink: the
// idempotency key requires a real instant.
func (c *Class) Normalized() bool {
	return c.StartInstantUTC != ""
}

// ScrapeResult is what an extractor produces from one page.
type ScrapeResult struct {
	Organization Organization `json:"organization"`
	Locations    []Location   `json:"locations"`
	Classes      []Class      `json:"classes"`
}

// RunResult summarizes one orchestrated URL run.
type RunResult struct {
	OrganizationRef string
	LocationRefs    map[string]string
	ClassesUpserted int
	Warnings        []string
}
