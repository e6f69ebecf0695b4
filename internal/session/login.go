package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pquerna/otp/totp"

	"github.com/milesc-bot/gym-scraper/internal/browser"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

const maxLoginAttempts = 2

// Candidate selectors tried in order before falling back to the
// AI finder.
var (
	usernameSelectors = []string{
		`input[type="email"]`,
		`input[name="username"]`,
		`input[name="email"]`,
		`input[name="login"]`,
		`input[id*="user" i]`,
		`input[id*="email" i]`,
		`input[type="text"]`,
	}
	passwordSelectors = []string{
		`input[type="password"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[id*="login" i]`,
		`button[class*="login" i]`,
		`button[class*="signin" i]`,
	}
	totpSelectors = []string{
		`input[name*="code" i]`,
		`input[name*="otp" i]`,
		`input[name*="token" i]`,
		`input[autocomplete="one-time-code"]`,
	}
)

var totpKeywords = []string{
	"verification code", "authentication code", "one-time",
	"authenticator", "two-factor", "2fa",
}

// Login drives the credential flow on a live page already showing a
// login wall. It retries once on soft failure and persists cookies on
// success.
func (m *Manager) Login(ctx context.Context, page *rod.Page) error {
	if !m.HasCredentials() {
		return &types.LoginError{Attempts: 0, Err: fmt.Errorf("no credentials configured")}
	}

	var lastErr error
	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &types.LoginError{Attempts: attempt - 1, Err: err}
		}

		m.logger.Info("login attempt", "attempt", attempt)
		if err := m.loginOnce(ctx, page); err != nil {
			lastErr = err
			m.logger.Warn("login attempt failed", "attempt", attempt, "error", err)
			continue
		}

		if cookies, err := page.Cookies(nil); err == nil {
			if err := m.store.Save(cookies); err != nil {
				m.logger.Warn("cookie save failed", "error", err)
			}
		}
		return nil
	}
	return &types.LoginError{Attempts: maxLoginAttempts, Err: lastErr}
}

func (m *Manager) loginOnce(ctx context.Context, page *rod.Page) error {
	userEl, passEl, err := m.findFields(ctx, page)
	if err != nil {
		return err
	}

	if err := userEl.SelectAllText(); err == nil {
		_ = userEl.Input("")
	}
	if err := browser.TypeHuman(userEl, m.cfg.Username); err != nil {
		return fmt.Errorf("type username: %w", err)
	}
	if err := browser.TypeHuman(passEl, m.cfg.Password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}

	if err := m.submit(page, passEl); err != nil {
		return err
	}

	if el, ok := findTOTPField(page); ok {
		if err := m.fillTOTP(page, el); err != nil {
			return err
		}
	}

	if CheckForLoginWall(page) {
		return fmt.Errorf("password field still present after submit")
	}
	return nil
}

// findFields resolves the username and password inputs, static lists
// first, then the AI finder.
func (m *Manager) findFields(ctx context.Context, page *rod.Page) (*rod.Element, *rod.Element, error) {
	userEl := firstVisible(page, usernameSelectors)
	passEl := firstVisible(page, passwordSelectors)
	if userEl != nil && passEl != nil {
		return userEl, passEl, nil
	}

	if m.finder == nil {
		return nil, nil, fmt.Errorf("login fields not found")
	}

	userSel, passSel, err := m.finder.FindLoginFields(ctx, page)
	if err != nil {
		return nil, nil, fmt.Errorf("field finder: %w", err)
	}
	if userEl == nil {
		userEl = firstVisible(page, []string{userSel})
	}
	if passEl == nil {
		passEl = firstVisible(page, []string{passSel})
	}
	if userEl == nil || passEl == nil {
		return nil, nil, fmt.Errorf("login fields not found via finder")
	}
	return userEl, passEl, nil
}

// submit clicks the submit control, or presses Enter in the password
// field when no button matches, then waits out the navigation.
func (m *Manager) submit(page *rod.Page, passEl *rod.Element) error {
	wait := page.Timeout(15 * time.Second).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)

	if btn := firstVisible(page, submitSelectors); btn != nil {
		if err := browser.HumanClick(page, btn); err != nil {
			return fmt.Errorf("click submit: %w", err)
		}
	} else {
		if err := passEl.Type(input.Enter); err != nil {
			return fmt.Errorf("press enter: %w", err)
		}
	}

	wait()
	time.Sleep(time.Second)
	return nil
}

// fillTOTP generates and enters the current TOTP code.
func (m *Manager) fillTOTP(page *rod.Page, el *rod.Element) error {
	if len(m.cfg.TOTPSecret) == 0 {
		return fmt.Errorf("site requires a one-time code but no TOTP secret is configured")
	}

	code, err := totp.GenerateCode(m.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}
	m.logger.Info("entering one-time code")

	if err := browser.TypeHuman(el, code); err != nil {
		return fmt.Errorf("type totp: %w", err)
	}

	wait := page.Timeout(10 * time.Second).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if btn := firstVisible(page, submitSelectors); btn != nil {
		if err := browser.HumanClick(page, btn); err != nil {
			return fmt.Errorf("click totp submit: %w", err)
		}
	} else {
		_ = el.Type(input.Enter)
	}
	wait()
	return nil
}

// findTOTPField looks for a one-time-code input, using the selector
// list and falling back to keyword presence plus a lone text input.
func findTOTPField(page *rod.Page) (*rod.Element, bool) {
	if el := firstVisible(page, totpSelectors); el != nil {
		return el, true
	}

	text, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, false
	}
	lower := strings.ToLower(text.Value.Str())
	for _, kw := range totpKeywords {
		if strings.Contains(lower, kw) {
			if el := firstVisible(page, []string{`input[type="text"]`, `input[type="tel"]`, `input[type="number"]`}); el != nil {
				return el, true
			}
		}
	}
	return nil, false
}

// firstVisible returns the first visible element matching any selector.
func firstVisible(page *rod.Page, selectors []string) *rod.Element {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		has, el, err := page.Has(sel)
		if err != nil || !has {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return el
		}
	}
	return nil
}
