package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration. It is loaded once at process start
// and treated as frozen afterwards.
type Config struct {
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Session  SessionConfig  `mapstructure:"session"`
	Trap     TrapConfig     `mapstructure:"trap"`
	AI       AIConfig       `mapstructure:"ai"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SupabaseConfig identifies the upsert sink.
type SupabaseConfig struct {
	URL            string `mapstructure:"url"`
	ServiceRoleKey string `mapstructure:"service_role_key"`
}

// FetchConfig controls both fetch paths and the compliance gate.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimit      time.Duration `mapstructure:"rate_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	RobotsTimeout  time.Duration `mapstructure:"robots_timeout"`
	MaxBodySize    int64         `mapstructure:"max_body_size"`
}

// SessionConfig carries login credentials and cookie policy.
type SessionConfig struct {
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	TOTPSecret string        `mapstructure:"totp_secret"`
	CookieTTL  time.Duration `mapstructure:"cookie_ttl"`
	CookiePath string        `mapstructure:"cookie_path"`
}

// TrapConfig controls the loop detector.
type TrapConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// AIConfig controls the optional LLM navigation planner.
type AIConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	BudgetCents int    `mapstructure:"budget_cents"`
}

// Enabled reports whether the planner should be constructed at all.
func (c AIConfig) Enabled() bool { return c.APIKey != "" }

// ArchiveConfig controls the optional raw-result archive sink.
type ArchiveConfig struct {
	MongoURI   string `mapstructure:"mongo_uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			UserAgent:      "MilesC-GymBot/1.0 (+https://github.com/milesc-bot/gym-scraper)",
			RateLimit:      2000 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
			NavTimeout:     30 * time.Second,
			RobotsTimeout:  5 * time.Second,
			MaxBodySize:    10 * 1024 * 1024,
		},
		Session: SessionConfig{
			CookieTTL:  24 * time.Hour,
			CookiePath: ".cookies.json",
		},
		Trap: TrapConfig{
			MaxDepth: 5,
		},
		AI: AIConfig{
			Model:       "gpt-4o-mini",
			BudgetCents: 50,
		},
		Archive: ArchiveConfig{
			Database:   "gymbot",
			Collection: "scrape_results",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
