// Package planner asks an LLM to read a live page and point the
// pipeline at the right selectors. It is an optional collaborator: the
// run must work identically, minus the hints, when no API key or budget
// is available.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

const (
	defaultEndpoint = "https://api.openai.com/v1"
	maxPageChars    = 12000
	// Flat per-call cost estimate in cents. Good enough for a budget
	// that exists to cap runaway retry loops, not for billing.
	costPerCallCents = 2
)

// Planner wraps the chat-completions API with a cumulative budget.
type Planner struct {
	cfg        config.AIConfig
	endpoint   string
	client     *http.Client
	spentCents atomic.Int64
	logger     *slog.Logger
}

// New creates a Planner. Callers should check cfg.Enabled() first and
// pass nil into the orchestrator when it is not.
func New(cfg config.AIConfig, logger *slog.Logger) *Planner {
	return &Planner{
		cfg:      cfg,
		endpoint: defaultEndpoint,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With("component", "planner"),
	}
}

// SpentCents reports the cumulative estimated spend.
func (p *Planner) SpentCents() int { return int(p.spentCents.Load()) }

// PlanPage asks the model where the schedule lives on the current page.
func (p *Planner) PlanPage(ctx context.Context, page *rod.Page) (*types.Plan, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("capture html for planning: %w", err)
	}

	prompt := fmt.Sprintf(`You are looking at the HTML of a gym website page. Identify:
- "schedule_selector": CSS selector for the container holding the class schedule, or ""
- "next_button_selector": CSS selector for an enabled next-day/next-week control, or ""
- "load_more_selector": CSS selector for a load-more/show-all control, or ""
- "auth_wall_detected": true if the page is a login wall hiding the schedule

Return only a JSON object with exactly those keys.

HTML:
%s`, trimHTML(html))

	content, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var plan types.Plan
	if err := json.Unmarshal([]byte(extractJSON(content)), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	p.logger.Debug("plan obtained",
		"schedule_selector", plan.ScheduleSelector,
		"load_more", plan.LoadMoreSelector,
		"auth_wall", plan.AuthWallDetected,
	)
	return &plan, nil
}

// FindLoginFields asks the model for the login form selectors. Used by
// the session manager when the static candidate lists miss.
func (p *Planner) FindLoginFields(ctx context.Context, page *rod.Page) (string, string, error) {
	html, err := page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("capture html for login fields: %w", err)
	}

	prompt := fmt.Sprintf(`This HTML contains a login form. Return a JSON object with:
- "username_selector": CSS selector for the username or email input
- "password_selector": CSS selector for the password input

Return only the JSON object.

HTML:
%s`, trimHTML(html))

	content, err := p.generate(ctx, prompt)
	if err != nil {
		return "", "", err
	}

	var fields struct {
		UsernameSelector string `json:"username_selector"`
		PasswordSelector string `json:"password_selector"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &fields); err != nil {
		return "", "", fmt.Errorf("decode login fields: %w", err)
	}
	if fields.UsernameSelector == "" || fields.PasswordSelector == "" {
		return "", "", fmt.Errorf("model returned incomplete login fields")
	}
	return fields.UsernameSelector, fields.PasswordSelector, nil
}

// generate performs one budgeted chat-completion call.
func (p *Planner) generate(ctx context.Context, prompt string) (string, error) {
	if err := p.charge(); err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  500,
		"temperature": 0.0,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode, data)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat completion")
	}
	return result.Choices[0].Message.Content, nil
}

// charge reserves budget for one call.
func (p *Planner) charge() error {
	for {
		spent := p.spentCents.Load()
		if spent+costPerCallCents > int64(p.cfg.BudgetCents) {
			return types.ErrBudgetSpent
		}
		if p.spentCents.CompareAndSwap(spent, spent+costPerCallCents) {
			return nil
		}
	}
}

// trimHTML bounds the prompt size, cutting at a tag boundary when one
// is close.
func trimHTML(html string) string {
	if len(html) <= maxPageChars {
		return html
	}
	cut := html[:maxPageChars]
	if i := strings.LastIndex(cut, "<"); i > maxPageChars-200 {
		cut = cut[:i]
	}
	return cut
}

// extractJSON finds the first balanced JSON object in a model response,
// tolerating prose or code fences around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return "{}"
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return "{}"
}
