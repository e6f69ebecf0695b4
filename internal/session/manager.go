// Package session tracks login state across fetches. A re-closable gate
// pauses concurrent workers while one goroutine re-authenticates, and a
// page hook watches network responses for signs the session dropped.
package session

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/milesc-bot/gym-scraper/internal/browser"
	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

var loginPathRe = regexp.MustCompile(`(?i)/(log-?in|sign-?in|auth|sso)\b`)

// FieldFinder locates login form selectors when the static candidate
// lists fail. The AI planner implements it; a nil finder just skips the
// fallback.
type FieldFinder interface {
	FindLoginFields(ctx context.Context, page *rod.Page) (userSel, passSel string, err error)
}

// Manager owns the session gate and the login flow.
type Manager struct {
	cfg    config.SessionConfig
	store  *CookieStore
	finder FieldFinder
	logger *slog.Logger

	mu             sync.Mutex
	state          types.SessionState
	gate           chan struct{}
	gateOpen       bool
	gateErr        error
	loginAttempted bool
}

// NewManager builds a Manager with the gate open.
func NewManager(cfg config.SessionConfig, finder FieldFinder, logger *slog.Logger) *Manager {
	gate := make(chan struct{})
	close(gate)
	return &Manager{
		cfg:      cfg,
		store:    NewCookieStore(cfg.CookiePath, cfg.CookieTTL),
		finder:   finder,
		logger:   logger.With("component", "session"),
		state:    types.SessionUnknown,
		gate:     gate,
		gateOpen: true,
	}
}

// HasCredentials reports whether a login can even be attempted.
func (m *Manager) HasCredentials() bool {
	return m.cfg.Username != "" && m.cfg.Password != ""
}

// State returns the current session state.
func (m *Manager) State() types.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Wait blocks until the gate is open. It returns the permanent gate
// error if a login failed for good, or the context error on cancel.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()

	select {
	case <-gate:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateErr
}

// BeginLogin claims the login flow for the current gate epoch, closing
// the gate if the logout observer has not already. It returns false
// when another goroutine already holds the flow this epoch; callers who
// get false should Wait instead.
func (m *Manager) BeginLogin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loginAttempted || m.gateErr != nil {
		return false
	}
	m.loginAttempted = true
	m.closeGateLocked()
	m.state = types.SessionLoggedOut
	m.logger.Info("login flow claimed, gate closed")
	return true
}

// CompleteLogin reopens the gate. A nil err marks the session logged in
// and re-arms the flow for the next epoch; a non-nil err is permanent
// and every subsequent Wait fails with ErrGateFailed.
func (m *Manager) CompleteLogin(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.gateErr = types.ErrGateFailed
		m.state = types.SessionLoggedOut
		m.logger.Error("login failed, gate failed permanently", "error", err)
	} else {
		m.state = types.SessionLoggedIn
		m.loginAttempted = false
		m.logger.Info("login complete, gate reopened")
	}
	m.openGateLocked()
}

// MarkLoggedOut records an observed session drop. When credentials are
// configured it opens a new gate epoch: the gate closes, parking every
// fetcher until a worker claims the login flow and resolves it. Without
// credentials there is nothing a login could do, so the gate stays open
// and only the state flips. Repeated drops in one epoch are no-ops.
func (m *Manager) MarkLoggedOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == types.SessionLoggedOut {
		return
	}
	m.state = types.SessionLoggedOut
	m.logger.Warn("session drop observed")
	if m.cfg.Username != "" && m.cfg.Password != "" && m.gateErr == nil {
		m.closeGateLocked()
		m.logger.Info("session gate closed pending re-login")
	}
}

// NeedsLogin reports that the gate is closed by the logout observer and
// no worker has claimed the login flow yet.
func (m *Manager) NeedsLogin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.gateOpen && !m.loginAttempted && m.gateErr == nil
}

// closeGateLocked starts a new epoch. Waiters on the previous open gate
// pass; everyone arriving after this parks.
func (m *Manager) closeGateLocked() {
	if m.gateOpen {
		m.gate = make(chan struct{})
		m.gateOpen = false
	}
}

func (m *Manager) openGateLocked() {
	if !m.gateOpen {
		close(m.gate)
		m.gateOpen = true
	}
}

// PageHook instruments pages from the pool: preload stored cookies and
// watch responses for auth failures and login redirects. Observed drops
// close the session gate via MarkLoggedOut.
func (m *Manager) PageHook() browser.PageHook {
	return func(page *rod.Page) error {
		if cookies, ok := m.store.Load(); ok {
			if err := page.SetCookies(cookies); err != nil {
				m.logger.Warn("cookie preload failed", "error", err)
			} else {
				m.markRestored()
				m.logger.Debug("cookies preloaded", "count", len(cookies))
			}
		}

		go page.EachEvent(func(e *proto.NetworkResponseReceived) {
			m.inspectResponse(e.Response)
		})()
		return nil
	}
}

// inspectResponse flags responses that indicate a dropped session.
func (m *Manager) inspectResponse(resp *proto.NetworkResponse) {
	if resp == nil {
		return
	}
	if resp.Status == 401 || resp.Status == 403 {
		m.MarkLoggedOut()
		return
	}
	if resp.Status >= 300 && resp.Status < 400 {
		if loc, ok := resp.Headers["location"]; ok && loginPathRe.MatchString(loc.Str()) {
			m.MarkLoggedOut()
		}
		if loc, ok := resp.Headers["Location"]; ok && loginPathRe.MatchString(loc.Str()) {
			m.MarkLoggedOut()
		}
	}
}

// markRestored flags the session logged-in after a fresh cookie
// preload, unless a drop was already observed.
func (m *Manager) markRestored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == types.SessionUnknown {
		m.state = types.SessionLoggedIn
	}
}

// CheckForLoginWall inspects the live page for a password input, the most
// reliable static marker of a login wall.
func CheckForLoginWall(page *rod.Page) bool {
	has, _, err := page.Has(`input[type="password"]`)
	return err == nil && has
}
