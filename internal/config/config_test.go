package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Neutralize any ambient overrides so defaults are observable.
	// Empty numeric env values are ignored by the loader.
	for _, env := range []string{"RATE_LIMIT_MS", "COOKIE_TTL_HOURS", "MAX_CRAWL_DEPTH"} {
		t.Setenv(env, "")
	}
	t.Setenv("BOT_USER_AGENT", "MilesC-GymBot/1.0-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.RateLimit != 2*time.Second {
		t.Errorf("RateLimit = %s, want 2s", cfg.Fetch.RateLimit)
	}
	if cfg.Session.CookieTTL != 24*time.Hour {
		t.Errorf("CookieTTL = %s, want 24h", cfg.Session.CookieTTL)
	}
	if cfg.Trap.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", cfg.Trap.MaxDepth)
	}
	if !strings.Contains(cfg.Fetch.UserAgent, "GymBot") {
		t.Errorf("UserAgent = %q, want a self-identifying agent", cfg.Fetch.UserAgent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("RATE_LIMIT_MS", "3500")
	t.Setenv("COOKIE_TTL_HOURS", "6")
	t.Setenv("MAX_CRAWL_DEPTH", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Supabase.URL != "https://proj.supabase.co" {
		t.Errorf("Supabase.URL = %q", cfg.Supabase.URL)
	}
	if cfg.Fetch.RateLimit != 3500*time.Millisecond {
		t.Errorf("RateLimit = %s, want 3.5s", cfg.Fetch.RateLimit)
	}
	if cfg.Session.CookieTTL != 6*time.Hour {
		t.Errorf("CookieTTL = %s, want 6h", cfg.Session.CookieTTL)
	}
	if cfg.Trap.MaxDepth != 9 {
		t.Errorf("MaxDepth = %d, want 9", cfg.Trap.MaxDepth)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Supabase.URL = "https://proj.supabase.co"
		cfg.Supabase.ServiceRoleKey = "service-role-key"
		return cfg
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.Supabase.URL = "" }},
		{"bad url", func(c *Config) { c.Supabase.URL = "not a url" }},
		{"missing key", func(c *Config) { c.Supabase.ServiceRoleKey = "" }},
		{"zero depth", func(c *Config) { c.Trap.MaxDepth = 0 }},
		{"zero rate", func(c *Config) { c.Fetch.RateLimit = 0 }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: want error, got nil", tc.name)
		}
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://gym.example.com/schedule", true},
		{"http://gym.example.com", true},
		{"ftp://gym.example.com", false},
		{"gym.example.com", false},
		{"https://", false},
	}
	for _, tc := range cases {
		err := ValidateURL(tc.url)
		if tc.ok && err != nil {
			t.Errorf("ValidateURL(%q): unexpected error %v", tc.url, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateURL(%q): want error, got nil", tc.url)
		}
	}
}
