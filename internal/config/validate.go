package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required credentials are present and well-formed.
// A missing required key is fatal at startup.
func Validate(cfg *Config) error {
	if cfg.Supabase.URL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.Supabase.URL); err != nil {
		return fmt.Errorf("SUPABASE_URL is not a valid URL: %w", err)
	}
	if cfg.Supabase.ServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if cfg.Trap.MaxDepth < 1 {
		return fmt.Errorf("max crawl depth must be >= 1, got %d", cfg.Trap.MaxDepth)
	}
	if cfg.Fetch.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %s", cfg.Fetch.RateLimit)
	}
	return nil
}

// ValidateURL checks that a scan target is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
