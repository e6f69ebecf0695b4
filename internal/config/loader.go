package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"supabase.url":              "SUPABASE_URL",
	"supabase.service_role_key": "SUPABASE_SERVICE_ROLE_KEY",
	"fetch.user_agent":          "BOT_USER_AGENT",
	"ai.api_key":                "OPENAI_API_KEY",
	"session.username":          "GYM_USERNAME",
	"session.password":          "GYM_PASSWORD",
	"session.totp_secret":       "GYM_TOTP_SECRET",
	"archive.mongo_uri":         "MONGO_URI",
}

// Load builds the process configuration from defaults and environment.
// Priority: env vars > defaults. The result is frozen by convention.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyScalarEnv(v, cfg)

	return cfg, nil
}

// applyScalarEnv reads the keys whose env form carries a unit suffix
// (RATE_LIMIT_MS, COOKIE_TTL_HOURS, ...) into their typed fields.
func applyScalarEnv(v *viper.Viper, cfg *Config) {
	_ = v.BindEnv("rate_limit_ms", "RATE_LIMIT_MS")
	_ = v.BindEnv("llm_budget_cents", "LLM_BUDGET_CENTS")
	_ = v.BindEnv("cookie_ttl_hours", "COOKIE_TTL_HOURS")
	_ = v.BindEnv("max_crawl_depth", "MAX_CRAWL_DEPTH")

	if ms := v.GetInt64("rate_limit_ms"); ms > 0 {
		cfg.Fetch.RateLimit = time.Duration(ms) * time.Millisecond
	}
	if cents := v.GetInt("llm_budget_cents"); cents > 0 {
		cfg.AI.BudgetCents = cents
	}
	if hours := v.GetInt("cookie_ttl_hours"); hours > 0 {
		cfg.Session.CookieTTL = time.Duration(hours) * time.Hour
	}
	if depth := v.GetInt("max_crawl_depth"); depth > 0 {
		cfg.Trap.MaxDepth = depth
	}
}
