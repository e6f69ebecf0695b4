package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/spf13/cobra"

	"github.com/milesc-bot/gym-scraper/internal/browser"
	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/dayworker"
	"github.com/milesc-bot/gym-scraper/internal/fetch"
	"github.com/milesc-bot/gym-scraper/internal/orchestrator"
	"github.com/milesc-bot/gym-scraper/internal/planner"
	"github.com/milesc-bot/gym-scraper/internal/session"
	"github.com/milesc-bot/gym-scraper/internal/storage"
	"github.com/milesc-bot/gym-scraper/internal/trap"
)

var (
	verbose    bool
	expandWeek bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gymbot",
		Short: "gymbot — gym schedule scraping agent",
		Long: `gymbot scrapes class schedules from gym websites into Supabase.

It fetches with a light impersonating HTTP client, falls back to a
stealth headless browser for client-rendered pages, validates what it
extracted, and normalizes local class times to UTC before upserting.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <url> [iana-timezone]",
		Short: "Scrape one gym website's schedule",
		Long: `Scrape the schedule page at the given URL. The optional second
argument is the IANA timezone used for locations that do not declare
their own (default UTC).`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runScan,
	}
	cmd.Flags().BoolVar(&expandWeek, "week", false, "discover the site's day API and fetch the coming week")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg.Logging.Level)

	rawURL := args[0]
	if err := config.ValidateURL(rawURL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	tz := "UTC"
	if len(args) > 1 {
		tz = args[1]
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("starting scan", "url", rawURL, "timezone", tz)
	start := time.Now()

	run, err := orch.Run(ctx, rawURL, tz)
	if err != nil {
		return fmt.Errorf("scan %s: %w", rawURL, err)
	}

	logger.Info("scan finished",
		"organization_ref", run.OrganizationRef,
		"locations", len(run.LocationRefs),
		"classes_upserted", run.ClassesUpserted,
		"warnings", len(run.Warnings),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	for _, w := range run.Warnings {
		logger.Warn(w)
	}
	return nil
}

// buildOrchestrator wires the full dependency graph from config.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, func(), error) {
	gate := compliance.NewGate(cfg.Fetch.UserAgent, cfg.Fetch.RateLimit, cfg.Fetch.RobotsTimeout, logger)
	traps := trap.NewDetector(cfg.Trap.MaxDepth, logger)

	var plan *planner.Planner
	var finder session.FieldFinder
	if cfg.AI.Enabled() {
		plan = planner.New(cfg.AI, logger)
		finder = plan
	}
	sess := session.NewManager(cfg.Session, finder, logger)

	pool := browser.NewPool(logger)
	pool.OnPage(sess.PageHook())

	light, err := fetch.NewLightClient(cfg.Fetch.RequestTimeout, cfg.Fetch.MaxBodySize, logger)
	if err != nil {
		return nil, nil, err
	}
	fetcher := fetch.NewFetcher(light, pool, cfg.Fetch.NavTimeout, logger)
	fetcher.OnRender(func(page *rod.Page) {
		if session.CheckForLoginWall(page) {
			sess.MarkLoggedOut()
		}
	})

	sink := storage.NewSupabase(cfg.Supabase, logger)

	var archiver storage.Archiver
	if cfg.Archive.MongoURI != "" {
		mongoArchive, err := storage.NewMongoArchive(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("archive unavailable, continuing without it", "error", err)
		} else {
			archiver = mongoArchive
		}
	}

	var replayer *dayworker.Replayer
	if expandWeek {
		replayer = dayworker.NewReplayer(gate, cfg.Fetch.RequestTimeout, cfg.Fetch.MaxBodySize, logger)
	}

	deps := orchestrator.Deps{
		Gate:     gate,
		Traps:    traps,
		Fetcher:  fetcher,
		Session:  sess,
		Sink:     sink,
		Archiver: archiver,
		Replayer: replayer,
	}
	if plan != nil {
		deps.Planner = plan
	}

	cleanup := func() {
		pool.Close()
		if archiver != nil {
			if err := archiver.Close(context.Background()); err != nil {
				logger.Warn("archive close", "error", err)
			}
		}
	}
	return orchestrator.New(cfg, deps, logger), cleanup, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gymbot %s\n", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Supabase.ServiceRoleKey = mask(redacted.Supabase.ServiceRoleKey)
			redacted.Session.Password = mask(redacted.Session.Password)
			redacted.Session.TOTPSecret = mask(redacted.Session.TOTPSecret)
			redacted.AI.APIKey = mask(redacted.AI.APIKey)

			out, err := json.MarshalIndent(redacted, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", 6) + s[len(s)-2:]
}

func setupLogger(configured string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(configured) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
